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
	EventPrescriptionCreated   = "PRESCRIPTION_CREATED"
	EventPrescriptionApproved  = "PRESCRIPTION_APPROVED"
	EventPrescriptionCancelled = "PRESCRIPTION_CANCELLED"
	EventPrescriptionDispensed = "PRESCRIPTION_DISPENSED"
	EventInvoiceCreated        = "INVOICE_CREATED"
	EventInvoicePaid           = "INVOICE_PAID"
)

var (
	ErrInvalidTransition = errors.New("invalid prescription status transition")
	ErrAlreadyInvoiced   = errors.New("prescription already has an invoice")
	ErrInvalidItem       = errors.New("prescription item is invalid")
	ErrInvoiceUnpaid     = errors.New("invoice must be paid before dispensing")
	// ErrDispenseExceeds means a dispense line asked for more than the
	// prescription prescribed for that medicine.
	ErrDispenseExceeds = errors.New("dispense quantity exceeds prescribed quantity")
)

// Pipeline owns the prescription -> invoice -> dispense flow. It is the
// only component that mutates prescription and invoice status; stock
// leaves the building exclusively through the ledger.
type Pipeline struct {
	repo   Repository
	ledger *Ledger
	locker lock.Locker
	cfg    config.Config
	log    zerolog.Logger
}

func NewPipeline(repo Repository, ledger *Ledger, locker lock.Locker, cfg config.Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		repo:   repo,
		ledger: ledger,
		locker: locker,
		cfg:    cfg,
		log:    log.With().Str("component", "prescription_pipeline").Logger(),
	}
}

func prescriptionKey(id uuid.UUID) string {
	return fmt.Sprintf("prescription:%s", id)
}

func invoiceKey(id uuid.UUID) string {
	return fmt.Sprintf("invoice:%s", id)
}

func (p *Pipeline) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.OperationDeadline)
}

type CreatePrescriptionParams struct {
	AppointmentID   uuid.UUID
	MedicalRecordID *uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	Items           []PrescriptionItem
}

// CreatePrescription validates the typed item list at the boundary and
// stores the prescription as a draft.
func (p *Pipeline) CreatePrescription(ctx context.Context, params CreatePrescriptionParams) (*Prescription, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	if len(params.Items) == 0 {
		return nil, ErrInvalidItem
	}

	seen := make(map[uuid.UUID]bool, len(params.Items))
	var total int64
	for _, item := range params.Items {
		if item.MedicineID == uuid.Nil || item.Quantity <= 0 || item.UnitPrice < 0 {
			return nil, ErrInvalidItem
		}
		if seen[item.MedicineID] {
			return nil, ErrInvalidItem
		}
		seen[item.MedicineID] = true
		if _, err := p.repo.GetMedicineByID(ctx, item.MedicineID); err != nil {
			return nil, err
		}
		total += item.UnitPrice * int64(item.Quantity)
	}

	presc := &Prescription{
		ID:              uuid.New(),
		AppointmentID:   params.AppointmentID,
		MedicalRecordID: params.MedicalRecordID,
		DoctorID:        params.DoctorID,
		PatientID:       params.PatientID,
		Items:           params.Items,
		TotalAmount:     total,
		Status:          PrescriptionDraft,
	}

	if err := p.repo.CreatePrescription(ctx, presc); err != nil {
		return nil, fmt.Errorf("create prescription: %w", err)
	}

	p.logEvent(ctx, presc.ID, EventPrescriptionCreated, map[string]any{
		"appointment_id": params.AppointmentID.String(),
		"items":          len(params.Items),
		"total_amount":   total,
	})

	return presc, nil
}

// Approve freezes the item list: draft -> approved only.
func (p *Pipeline) Approve(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	presc, err := p.repo.GetPrescriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if presc.Status != PrescriptionDraft {
		return nil, ErrInvalidTransition
	}

	updated, err := p.repo.UpdatePrescriptionStatus(ctx, id, PrescriptionDraft, PrescriptionApproved)
	if err != nil {
		if errors.Is(err, ErrPrescriptionNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("approve prescription: %w", err)
	}

	p.logEvent(ctx, id, EventPrescriptionApproved, nil)
	return updated, nil
}

// CancelPrescription is legal from any state before dispensing and is an
// idempotent no-op on an already cancelled prescription.
func (p *Pipeline) CancelPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	presc, err := p.repo.GetPrescriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if presc.Status == PrescriptionCancelled {
		return presc, nil
	}
	if !CanTransition(presc.Status, PrescriptionCancelled) {
		return nil, ErrInvalidTransition
	}

	updated, err := p.repo.UpdatePrescriptionStatus(ctx, id, presc.Status, PrescriptionCancelled)
	if err != nil {
		if errors.Is(err, ErrPrescriptionNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("cancel prescription: %w", err)
	}

	p.logEvent(ctx, id, EventPrescriptionCancelled, map[string]any{"from": string(presc.Status)})
	return updated, nil
}

type InvoiceParams struct {
	Discount           int64
	Tax                int64
	WithConsultationFee bool
}

// CreateInvoiceFromPrescription builds the invoice once per prescription:
// items are copied from the approved prescription, optionally prefixed
// with the consultation fee, and the prescription advances to
// ready_for_dispense.
func (p *Pipeline) CreateInvoiceFromPrescription(ctx context.Context, prescriptionID uuid.UUID, params InvoiceParams) (*Invoice, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	presc, err := p.repo.GetPrescriptionByID(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}

	switch presc.Status {
	case PrescriptionApproved:
		// invoicing path
	case PrescriptionReady, PrescriptionDispensed:
		return nil, ErrAlreadyInvoiced
	default:
		return nil, ErrInvalidTransition
	}

	if _, err := p.repo.GetInvoiceByPrescription(ctx, prescriptionID); err == nil {
		return nil, ErrAlreadyInvoiced
	} else if !errors.Is(err, ErrInvoiceNotFound) {
		return nil, fmt.Errorf("check existing invoice: %w", err)
	}

	items := make([]InvoiceItem, 0, len(presc.Items)+1)
	if params.WithConsultationFee && p.cfg.ConsultationFee > 0 {
		items = append(items, InvoiceItem{
			Type:        InvoiceItemConsultation,
			Description: "Consultation fee",
			Quantity:    1,
			UnitPrice:   p.cfg.ConsultationFee,
			Amount:      p.cfg.ConsultationFee,
		})
	}
	for _, it := range presc.Items {
		med, err := p.repo.GetMedicineByID(ctx, it.MedicineID)
		if err != nil {
			return nil, err
		}
		medID := it.MedicineID
		items = append(items, InvoiceItem{
			Type:        InvoiceItemMedicine,
			Description: med.Name,
			MedicineID:  &medID,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Amount:      it.UnitPrice * int64(it.Quantity),
		})
	}

	var subtotal int64
	for _, it := range items {
		subtotal += it.Amount
	}

	prescID := presc.ID
	inv := &Invoice{
		ID:             uuid.New(),
		AppointmentID:  presc.AppointmentID,
		PatientID:      presc.PatientID,
		PrescriptionID: &prescID,
		Items:          items,
		Subtotal:       subtotal,
		Discount:       params.Discount,
		Tax:            params.Tax,
		Total:          subtotal - params.Discount + params.Tax,
		Status:         InvoiceUnpaid,
	}

	if err := p.repo.CreateInvoice(ctx, inv); err != nil {
		// The unique index on prescription_id backs the status gate.
		if errors.Is(err, ErrAlreadyInvoiced) {
			return nil, ErrAlreadyInvoiced
		}
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	if _, err := p.repo.UpdatePrescriptionStatus(ctx, prescriptionID, PrescriptionApproved, PrescriptionReady); err != nil {
		p.log.Error().Err(err).Str("prescription_id", prescriptionID.String()).
			Msg("invoice created but prescription status not advanced")
	}

	p.logEvent(ctx, inv.ID, EventInvoiceCreated, map[string]any{
		"prescription_id": prescriptionID.String(),
		"total":           inv.Total,
	})

	return inv, nil
}

// Pay accumulates the tender against the invoice. Partial payments leave
// the invoice unpaid; change is returned only once paid_amount passes
// the total.
func (p *Pipeline) Pay(ctx context.Context, invoiceID uuid.UUID, method string, amount int64) (*Invoice, int64, error) {
	if amount <= 0 {
		return nil, 0, ErrInvalidAmount
	}

	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	var paid *Invoice
	err := lock.WithRetry(ctx, p.locker, invoiceKey(invoiceID), p.cfg.RetryAttempts, p.cfg.RetryBackoff, func(lockCtx context.Context) error {
		inv, err := p.repo.AddPayment(lockCtx, invoiceID, method, amount)
		if err != nil {
			return err
		}
		paid = inv
		return nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, 0, ErrConflict
		}
		return nil, 0, err
	}

	change := paid.PaidAmount - paid.Total
	if change < 0 {
		change = 0
	}

	if paid.Status == InvoicePaid {
		p.logEvent(ctx, paid.ID, EventInvoicePaid, map[string]any{
			"paid_amount": paid.PaidAmount,
			"total":       paid.Total,
			"method":      method,
		})
	}

	return paid, change, nil
}

// Dispense hands out medicine against an approved or invoiced
// prescription: every line is validated against the prescribed quantity
// and deducted FEFO, all lines or none. On success the prescription is
// terminal.
func (p *Pipeline) Dispense(ctx context.Context, prescriptionID uuid.UUID, lines []DispenseLine) (*DispenseRecord, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()

	if len(lines) == 0 {
		return nil, ErrInvalidItem
	}

	var record *DispenseRecord
	err := lock.WithRetry(ctx, p.locker, prescriptionKey(prescriptionID), p.cfg.RetryAttempts, p.cfg.RetryBackoff, func(lockCtx context.Context) error {
		presc, err := p.repo.GetPrescriptionByID(lockCtx, prescriptionID)
		if err != nil {
			return err
		}
		if presc.Status != PrescriptionApproved && presc.Status != PrescriptionReady {
			return ErrInvalidTransition
		}

		// An unpaid invoice blocks the counter.
		inv, err := p.repo.GetInvoiceByPrescription(lockCtx, prescriptionID)
		if err != nil && !errors.Is(err, ErrInvoiceNotFound) {
			return fmt.Errorf("check invoice: %w", err)
		}
		if inv != nil && inv.Status != InvoicePaid {
			return ErrInvoiceUnpaid
		}

		prescribed := make(map[uuid.UUID]int, len(presc.Items))
		for _, it := range presc.Items {
			prescribed[it.MedicineID] = it.Quantity
		}

		seen := make(map[uuid.UUID]bool, len(lines))
		for _, line := range lines {
			if line.Quantity <= 0 || seen[line.MedicineID] {
				return ErrInvalidItem
			}
			seen[line.MedicineID] = true
			max, ok := prescribed[line.MedicineID]
			if !ok {
				return ErrInvalidItem
			}
			if line.Quantity > max {
				return ErrDispenseExceeds
			}
		}

		deductions, err := p.ledger.DeductLines(lockCtx, lines)
		if err != nil {
			return err
		}

		record = &DispenseRecord{
			ID:             uuid.New(),
			PrescriptionID: prescriptionID,
			Lines:          deductions,
		}
		if err := p.repo.CreateDispenseRecord(lockCtx, record); err != nil {
			return fmt.Errorf("create dispense record: %w", err)
		}

		if _, err := p.repo.UpdatePrescriptionStatus(lockCtx, prescriptionID, presc.Status, PrescriptionDispensed); err != nil {
			return fmt.Errorf("mark prescription dispensed: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrConflict
		}
		return nil, err
	}

	p.logEvent(ctx, prescriptionID, EventPrescriptionDispensed, map[string]any{
		"lines": len(record.Lines),
	})

	return record, nil
}

func (p *Pipeline) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return p.repo.GetPrescriptionByID(ctx, id)
}

func (p *Pipeline) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return p.repo.GetInvoiceByID(ctx, id)
}

func (p *Pipeline) logEvent(ctx context.Context, subjectID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	id := subjectID

	ev := EventLog{
		EventType: eventType,
		SubjectID: &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := p.repo.InsertEvent(ctx, ev); err != nil {
		p.log.Error().Err(err).
			Str("event_type", eventType).
			Str("subject_id", subjectID.String()).
			Msg("failed to insert event log")
	}
}
