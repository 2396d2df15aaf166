package pharmacy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/clinic-backend/internal/config"
	"github.com/clinicflow/clinic-backend/internal/lock"
)

func testConfig() config.Config {
	return config.Config{
		OperationDeadline: 5 * time.Second,
		RetryAttempts:     3,
		RetryBackoff:      time.Millisecond,
		LowStockThreshold: 10,
		ConsultationFee:   50000,
	}
}

func newTestLedger(repo Repository) *Ledger {
	return NewLedger(repo, lock.NewLocalLocker(), testConfig(), zerolog.Nop())
}

func daysFromNow(d int) time.Time {
	return time.Now().UTC().AddDate(0, 0, d)
}

func TestDeductFEFOSpillsAcrossBatches(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Amoxicillin 500mg", 1200)
	early := repo.addBatch(med.ID, "B1", 5, daysFromNow(10))
	late := repo.addBatch(med.ID, "B2", 5, daysFromNow(30))

	ledger := newTestLedger(repo)

	deductions, err := ledger.Deduct(context.Background(), med.ID, 7)
	require.NoError(t, err)

	require.Len(t, deductions, 2)
	assert.Equal(t, early.ID, deductions[0].BatchID)
	assert.Equal(t, 5, deductions[0].Quantity)
	assert.Equal(t, late.ID, deductions[1].BatchID)
	assert.Equal(t, 2, deductions[1].Quantity)

	assert.Equal(t, 0, repo.batchQuantity(early.ID))
	assert.Equal(t, 3, repo.batchQuantity(late.ID))
}

func TestDeductSkipsExpiredBatches(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Ibuprofen 400mg", 800)
	expired := repo.addBatch(med.ID, "OLD", 50, daysFromNow(-1))
	fresh := repo.addBatch(med.ID, "NEW", 5, daysFromNow(60))

	ledger := newTestLedger(repo)
	ctx := context.Background()

	usable, err := ledger.UsableQuantity(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, usable)

	deductions, err := ledger.Deduct(ctx, med.ID, 5)
	require.NoError(t, err)
	require.Len(t, deductions, 1)
	assert.Equal(t, fresh.ID, deductions[0].BatchID)
	assert.Equal(t, 50, repo.batchQuantity(expired.ID), "expired stock must never be consumed")
}

func TestDeductInsufficientStockIsAtomic(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Metformin 850mg", 600)
	b1 := repo.addBatch(med.ID, "B1", 3, daysFromNow(10))
	b2 := repo.addBatch(med.ID, "B2", 3, daysFromNow(30))

	ledger := newTestLedger(repo)

	_, err := ledger.Deduct(context.Background(), med.ID, 10)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	// All-or-nothing: no partial decrement.
	assert.Equal(t, 3, repo.batchQuantity(b1.ID))
	assert.Equal(t, 3, repo.batchQuantity(b2.ID))
}

func TestDeductRejectsNonPositiveAmount(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Aspirin", 300)
	ledger := newTestLedger(repo)

	_, err := ledger.Deduct(context.Background(), med.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ledger.Deduct(context.Background(), med.ID, -5)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDeductUnknownMedicine(t *testing.T) {
	repo := newMemoryRepo()
	ledger := newTestLedger(repo)

	_, err := ledger.Deduct(context.Background(), uuid.New(), 1)
	assert.ErrorIs(t, err, ErrMedicineNotFound)
}

func TestConcurrentDeductNeverOversells(t *testing.T) {
	const stock = 10
	const workers = 25

	repo := newMemoryRepo()
	med := repo.addMedicine("Omeprazole 20mg", 900)
	batch := repo.addBatch(med.ID, "B1", stock, daysFromNow(30))

	ledger := newTestLedger(repo)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, short := 0, 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Deduct(ctx, med.ID, 1)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected deduct error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, succeeded)
	assert.Equal(t, workers-stock, short)
	assert.Equal(t, 0, repo.batchQuantity(batch.ID))
}

func TestCreditUpsertsBatch(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Cetirizine 10mg", 400)
	ledger := newTestLedger(repo)
	ctx := context.Background()

	batch, err := ledger.Credit(ctx, med.ID, "LOT-1", 30, daysFromNow(180))
	require.NoError(t, err)
	assert.Equal(t, 30, batch.Quantity)

	// Crediting the same batch number accumulates.
	batch, err = ledger.Credit(ctx, med.ID, "LOT-1", 20, daysFromNow(180))
	require.NoError(t, err)
	assert.Equal(t, 50, batch.Quantity)

	usable, err := ledger.UsableQuantity(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, usable)
}

func TestCreditRejectsNonPositiveQuantity(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Loratadine", 350)
	ledger := newTestLedger(repo)

	_, err := ledger.Credit(context.Background(), med.ID, "LOT-1", 0, daysFromNow(30))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDeductEmitsLowStockEvent(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Prednisone 5mg", 700)
	repo.addBatch(med.ID, "B1", 12, daysFromNow(30))

	ledger := newTestLedger(repo)

	// 12 - 5 = 7, below the threshold of 10.
	_, err := ledger.Deduct(context.Background(), med.ID, 5)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.eventCount(EventStockLow))
}

func TestPurgeExpired(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Insulin", 15000)
	expired := repo.addBatch(med.ID, "OLD", 40, daysFromNow(-2))
	fresh := repo.addBatch(med.ID, "NEW", 40, daysFromNow(90))

	ledger := newTestLedger(repo)

	purged, err := ledger.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, 0, repo.batchQuantity(expired.ID))
	assert.Equal(t, 40, repo.batchQuantity(fresh.ID))
	assert.Equal(t, 1, repo.eventCount(EventStockExpired))
}

func TestReportLowStock(t *testing.T) {
	repo := newMemoryRepo()
	low := repo.addMedicine("Rare Med", 2000)
	repo.addBatch(low.ID, "B1", 2, daysFromNow(30))
	ok := repo.addMedicine("Common Med", 100)
	repo.addBatch(ok.ID, "B1", 500, daysFromNow(30))

	ledger := newTestLedger(repo)

	result, err := ledger.ReportLowStock(context.Background())
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, low.ID, result[0].Medicine.ID)
	assert.Equal(t, 2, result[0].Usable)
	assert.Equal(t, 1, repo.eventCount(EventStockLow))
}
