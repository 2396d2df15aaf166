package pharmacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicflow/clinic-backend/internal/config"
	"github.com/clinicflow/clinic-backend/internal/lock"
)

const (
	EventStockCredited = "STOCK_CREDITED"
	EventStockDeducted = "STOCK_DEDUCTED"
	EventStockLow      = "STOCK_LOW"
	EventStockExpired  = "STOCK_EXPIRED"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrConflict means the resource stayed contended through all retry
	// attempts; the caller may simply try again.
	ErrConflict = errors.New("resource is contended, please retry")
)

// Ledger owns batch-level medicine stock. It is the only component that
// mutates batch quantities; deductions follow first-expire-first-out
// order and never leave a partial result behind.
type Ledger struct {
	repo   Repository
	locker lock.Locker
	cfg    config.Config
	log    zerolog.Logger
}

func NewLedger(repo Repository, locker lock.Locker, cfg config.Config, log zerolog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log.With().Str("component", "stock_ledger").Logger(),
	}
}

func stockKey(medicineID uuid.UUID) string {
	return fmt.Sprintf("stock:%s", medicineID)
}

func (l *Ledger) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.cfg.OperationDeadline)
}

// UsableQuantity is the sum of non-expired batch quantities as of now.
func (l *Ledger) UsableQuantity(ctx context.Context, medicineID uuid.UUID) (int, error) {
	ctx, cancel := l.opCtx(ctx)
	defer cancel()

	if _, err := l.repo.GetMedicineByID(ctx, medicineID); err != nil {
		return 0, err
	}
	return l.repo.UsableQuantity(ctx, medicineID, time.Now())
}

// Deduct consumes amount units FEFO across the medicine's batches.
// Concurrent deducts for the same medicine are serialized; the whole
// deduction fails with ErrInsufficientStock when usable stock is short.
func (l *Ledger) Deduct(ctx context.Context, medicineID uuid.UUID, amount int) ([]BatchDeduction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx, cancel := l.opCtx(ctx)
	defer cancel()

	if _, err := l.repo.GetMedicineByID(ctx, medicineID); err != nil {
		return nil, err
	}

	var deductions []BatchDeduction
	err := lock.WithRetry(ctx, l.locker, stockKey(medicineID), l.cfg.RetryAttempts, l.cfg.RetryBackoff, func(lockCtx context.Context) error {
		dd, err := l.repo.DeductFEFO(lockCtx, []DispenseLine{{MedicineID: medicineID, Quantity: amount}}, time.Now())
		if err != nil {
			return err
		}
		deductions = dd
		return nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrConflict
		}
		return nil, err
	}

	l.logEvent(ctx, medicineID, EventStockDeducted, map[string]any{"amount": amount})
	l.checkLowStock(ctx, medicineID)

	return deductions, nil
}

// DeductLines is the dispense path: every line is consumed FEFO in one
// transaction, all-or-nothing across the whole prescription. The caller
// serializes per prescription; batch row locks order concurrent ledgers.
func (l *Ledger) DeductLines(ctx context.Context, lines []DispenseLine) ([]BatchDeduction, error) {
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, ErrInvalidAmount
		}
	}

	deductions, err := l.repo.DeductFEFO(ctx, lines, time.Now())
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		l.checkLowStock(ctx, line.MedicineID)
	}

	return deductions, nil
}

// Credit receives stock into a batch, creating the batch when it does
// not exist yet. Growth-only, so a plain atomic upsert is enough.
func (l *Ledger) Credit(ctx context.Context, medicineID uuid.UUID, batchNumber string, quantity int, expiry time.Time) (*StockBatch, error) {
	if quantity <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx, cancel := l.opCtx(ctx)
	defer cancel()

	if _, err := l.repo.GetMedicineByID(ctx, medicineID); err != nil {
		return nil, err
	}

	batch, err := l.repo.CreditStock(ctx, medicineID, batchNumber, quantity, expiry)
	if err != nil {
		return nil, fmt.Errorf("credit stock: %w", err)
	}

	l.logEvent(ctx, medicineID, EventStockCredited, map[string]any{
		"batch_number": batchNumber,
		"quantity":     quantity,
		"expiry_date":  expiry,
	})

	return batch, nil
}

// PurgeExpired zeroes batches already past their expiry date. Called by
// the stock monitor worker.
func (l *Ledger) PurgeExpired(ctx context.Context) (int64, error) {
	purged, err := l.repo.PurgeExpiredBatches(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("purge expired batches: %w", err)
	}
	if purged > 0 {
		l.logEvent(ctx, uuid.Nil, EventStockExpired, map[string]any{"batches": purged})
	}
	return purged, nil
}

// ReportLowStock emits a STOCK_LOW event per medicine under the
// configured threshold.
func (l *Ledger) ReportLowStock(ctx context.Context) ([]LowStockMedicine, error) {
	low, err := l.repo.ListLowStock(ctx, l.cfg.LowStockThreshold, time.Now())
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	for _, m := range low {
		l.logEvent(ctx, m.Medicine.ID, EventStockLow, map[string]any{
			"medicine":  m.Medicine.Name,
			"usable":    m.Usable,
			"threshold": l.cfg.LowStockThreshold,
		})
	}
	return low, nil
}

func (l *Ledger) checkLowStock(ctx context.Context, medicineID uuid.UUID) {
	usable, err := l.repo.UsableQuantity(ctx, medicineID, time.Now())
	if err != nil {
		l.log.Error().Err(err).Str("medicine_id", medicineID.String()).Msg("failed to check usable stock")
		return
	}
	if usable < l.cfg.LowStockThreshold {
		l.logEvent(ctx, medicineID, EventStockLow, map[string]any{
			"usable":    usable,
			"threshold": l.cfg.LowStockThreshold,
		})
	}
}

func (l *Ledger) logEvent(ctx context.Context, subjectID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		l.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		Payload:   data,
		CreatedAt: time.Now(),
	}
	if subjectID != uuid.Nil {
		id := subjectID
		ev.SubjectID = &id
	}

	if err := l.repo.InsertEvent(ctx, ev); err != nil {
		l.log.Error().Err(err).Str("event_type", eventType).Msg("failed to insert event log")
	}
}
