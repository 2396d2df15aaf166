package pharmacy

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/clinic-backend/internal/lock"
)

func newTestPipeline(repo Repository) *Pipeline {
	cfg := testConfig()
	locker := lock.NewLocalLocker()
	ledger := NewLedger(repo, locker, cfg, zerolog.Nop())
	return NewPipeline(repo, ledger, locker, cfg, zerolog.Nop())
}

func draftParams(items []PrescriptionItem) CreatePrescriptionParams {
	return CreatePrescriptionParams{
		AppointmentID: uuid.New(),
		DoctorID:      uuid.New(),
		PatientID:     uuid.New(),
		Items:         items,
	}
}

func TestCreatePrescriptionComputesTotal(t *testing.T) {
	repo := newMemoryRepo()
	med1 := repo.addMedicine("Med A", 1000)
	med2 := repo.addMedicine("Med B", 250)

	pipeline := newTestPipeline(repo)

	presc, err := pipeline.CreatePrescription(context.Background(), draftParams([]PrescriptionItem{
		{MedicineID: med1.ID, Quantity: 3, UnitPrice: 1000},
		{MedicineID: med2.ID, Quantity: 2, UnitPrice: 250},
	}))
	require.NoError(t, err)

	assert.Equal(t, PrescriptionDraft, presc.Status)
	assert.Equal(t, int64(3500), presc.TotalAmount)
	assert.Equal(t, 1, repo.eventCount(EventPrescriptionCreated))
}

func TestCreatePrescriptionValidation(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	_, err := pipeline.CreatePrescription(ctx, draftParams(nil))
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = pipeline.CreatePrescription(ctx, draftParams([]PrescriptionItem{
		{MedicineID: med.ID, Quantity: 0, UnitPrice: 1000},
	}))
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = pipeline.CreatePrescription(ctx, draftParams([]PrescriptionItem{
		{MedicineID: med.ID, Quantity: 1, UnitPrice: 1000},
		{MedicineID: med.ID, Quantity: 2, UnitPrice: 1000},
	}))
	assert.ErrorIs(t, err, ErrInvalidItem, "duplicate medicine lines are rejected")

	_, err = pipeline.CreatePrescription(ctx, draftParams([]PrescriptionItem{
		{MedicineID: uuid.New(), Quantity: 1, UnitPrice: 1000},
	}))
	assert.ErrorIs(t, err, ErrMedicineNotFound)
}

func TestApproveOnlyFromDraft(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc, err := pipeline.CreatePrescription(ctx, draftParams([]PrescriptionItem{
		{MedicineID: med.ID, Quantity: 1, UnitPrice: 1000},
	}))
	require.NoError(t, err)

	approved, err := pipeline.Approve(ctx, presc.ID)
	require.NoError(t, err)
	assert.Equal(t, PrescriptionApproved, approved.Status)

	_, err = pipeline.Approve(ctx, presc.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelPrescriptionIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc, err := pipeline.CreatePrescription(ctx, draftParams([]PrescriptionItem{
		{MedicineID: med.ID, Quantity: 1, UnitPrice: 1000},
	}))
	require.NoError(t, err)

	cancelled, err := pipeline.CancelPrescription(ctx, presc.ID)
	require.NoError(t, err)
	assert.Equal(t, PrescriptionCancelled, cancelled.Status)

	again, err := pipeline.CancelPrescription(ctx, presc.ID)
	require.NoError(t, err)
	assert.Equal(t, PrescriptionCancelled, again.Status)
	assert.Equal(t, 1, repo.eventCount(EventPrescriptionCancelled))
}

func approvedPrescription(t *testing.T, repo *memoryRepo, pipeline *Pipeline, items []PrescriptionItem) *Prescription {
	t.Helper()
	presc, err := pipeline.CreatePrescription(context.Background(), draftParams(items))
	require.NoError(t, err)
	approved, err := pipeline.Approve(context.Background(), presc.ID)
	require.NoError(t, err)
	return approved
}

func TestInvoiceOncePerPrescription(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc := approvedPrescription(t, repo, pipeline, []PrescriptionItem{
		{MedicineID: med.ID, Quantity: 2, UnitPrice: 1000},
	})

	inv, err := pipeline.CreateInvoiceFromPrescription(ctx, presc.ID, InvoiceParams{})
	require.NoError(t, err)
	assert.Equal(t, InvoiceUnpaid, inv.Status)
	assert.Equal(t, int64(2000), inv.Subtotal)
	assert.Equal(t, int64(2000), inv.Total)

	// The prescription advanced to ready_for_dispense.
	updated, err := pipeline.GetPrescription(ctx, presc.ID)
	require.NoError(t, err)
	assert.Equal(t, PrescriptionReady, updated.Status)

	_, err = pipeline.CreateInvoiceFromPrescription(ctx, presc.ID, InvoiceParams{})
	assert.ErrorIs(t, err, ErrAlreadyInvoiced)
}

func TestInvoiceFromDraftRejected(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc, err := pipeline.CreatePrescription(ctx, draftParams([]PrescriptionItem{
		{MedicineID: med.ID, Quantity: 1, UnitPrice: 1000},
	}))
	require.NoError(t, err)

	_, err = pipeline.CreateInvoiceFromPrescription(ctx, presc.ID, InvoiceParams{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestInvoiceWithConsultationFeeDiscountAndTax(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc := approvedPrescription(t, repo, pipeline, []PrescriptionItem{
		{MedicineID: med.ID, Quantity: 2, UnitPrice: 1000},
	})

	inv, err := pipeline.CreateInvoiceFromPrescription(ctx, presc.ID, InvoiceParams{
		Discount:            500,
		Tax:                 300,
		WithConsultationFee: true,
	})
	require.NoError(t, err)

	// 50000 consultation + 2000 medicine.
	assert.Equal(t, int64(52000), inv.Subtotal)
	assert.Equal(t, int64(51800), inv.Total)
	require.Len(t, inv.Items, 2)
	assert.Equal(t, InvoiceItemConsultation, inv.Items[0].Type)
	assert.Equal(t, InvoiceItemMedicine, inv.Items[1].Type)
}

func TestPaymentAccumulation(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 50000)
	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc := approvedPrescription(t, repo, pipeline, []PrescriptionItem{
		{MedicineID: med.ID, Quantity: 2, UnitPrice: 50000},
	})
	inv, err := pipeline.CreateInvoiceFromPrescription(ctx, presc.ID, InvoiceParams{})
	require.NoError(t, err)
	require.Equal(t, int64(100000), inv.Total)

	// Partial payment leaves the invoice unpaid with no change.
	paid, change, err := pipeline.Pay(ctx, inv.ID, "cash", 60000)
	require.NoError(t, err)
	assert.Equal(t, InvoiceUnpaid, paid.Status)
	assert.Equal(t, int64(60000), paid.PaidAmount)
	assert.Equal(t, int64(0), change)

	// Second payment crosses the total: paid, with change.
	paid, change, err = pipeline.Pay(ctx, inv.ID, "cash", 50000)
	require.NoError(t, err)
	assert.Equal(t, InvoicePaid, paid.Status)
	assert.Equal(t, int64(110000), paid.PaidAmount)
	assert.Equal(t, int64(10000), change)
	assert.NotNil(t, paid.PaidAt)

	assert.Equal(t, 2, repo.paymentCount(inv.ID), "every increment has a recorded payment")
	assert.Equal(t, 1, repo.eventCount(EventInvoicePaid))
}

func TestPayRejectsNonPositiveAmount(t *testing.T) {
	repo := newMemoryRepo()
	pipeline := newTestPipeline(repo)

	_, _, err := pipeline.Pay(context.Background(), uuid.New(), "cash", 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDispenseHappyPath(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	repo.addBatch(med.ID, "B1", 5, daysFromNow(10))
	repo.addBatch(med.ID, "B2", 5, daysFromNow(30))

	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc := approvedPrescription(t, repo, pipeline, []PrescriptionItem{
		{MedicineID: med.ID, Quantity: 7, UnitPrice: 1000},
	})
	inv, err := pipeline.CreateInvoiceFromPrescription(ctx, presc.ID, InvoiceParams{})
	require.NoError(t, err)
	_, _, err = pipeline.Pay(ctx, inv.ID, "card", inv.Total)
	require.NoError(t, err)

	record, err := pipeline.Dispense(ctx, presc.ID, []DispenseLine{
		{MedicineID: med.ID, Quantity: 7},
	})
	require.NoError(t, err)
	require.Len(t, record.Lines, 2, "deduction spilled across two batches")

	final, err := pipeline.GetPrescription(ctx, presc.ID)
	require.NoError(t, err)
	assert.Equal(t, PrescriptionDispensed, final.Status)
	assert.Equal(t, 1, repo.eventCount(EventPrescriptionDispensed))
}

func TestDispenseBlockedByUnpaidInvoice(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	repo.addBatch(med.ID, "B1", 10, daysFromNow(30))

	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc := approvedPrescription(t, repo, pipeline, []PrescriptionItem{
		{MedicineID: med.ID, Quantity: 2, UnitPrice: 1000},
	})
	_, err := pipeline.CreateInvoiceFromPrescription(ctx, presc.ID, InvoiceParams{})
	require.NoError(t, err)

	_, err = pipeline.Dispense(ctx, presc.ID, []DispenseLine{
		{MedicineID: med.ID, Quantity: 2},
	})
	assert.ErrorIs(t, err, ErrInvoiceUnpaid)
}

func TestDispenseWithoutInvoiceAllowed(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	repo.addBatch(med.ID, "B1", 10, daysFromNow(30))

	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc := approvedPrescription(t, repo, pipeline, []PrescriptionItem{
		{MedicineID: med.ID, Quantity: 2, UnitPrice: 1000},
	})

	record, err := pipeline.Dispense(ctx, presc.ID, []DispenseLine{
		{MedicineID: med.ID, Quantity: 2},
	})
	require.NoError(t, err)
	assert.NotNil(t, record)
}

func TestDispenseExceedsPrescribed(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	repo.addBatch(med.ID, "B1", 100, daysFromNow(30))

	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc := approvedPrescription(t, repo, pipeline, []PrescriptionItem{
		{MedicineID: med.ID, Quantity: 3, UnitPrice: 1000},
	})

	_, err := pipeline.Dispense(ctx, presc.ID, []DispenseLine{
		{MedicineID: med.ID, Quantity: 4},
	})
	assert.ErrorIs(t, err, ErrDispenseExceeds)
}

func TestDispenseUnprescribedMedicineRejected(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	other := repo.addMedicine("Med B", 500)
	repo.addBatch(med.ID, "B1", 10, daysFromNow(30))
	repo.addBatch(other.ID, "B1", 10, daysFromNow(30))

	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc := approvedPrescription(t, repo, pipeline, []PrescriptionItem{
		{MedicineID: med.ID, Quantity: 2, UnitPrice: 1000},
	})

	_, err := pipeline.Dispense(ctx, presc.ID, []DispenseLine{
		{MedicineID: other.ID, Quantity: 1},
	})
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestDispenseAllOrNothingAcrossLines(t *testing.T) {
	repo := newMemoryRepo()
	plenty := repo.addMedicine("Med A", 1000)
	scarce := repo.addMedicine("Med B", 500)
	plentyBatch := repo.addBatch(plenty.ID, "B1", 100, daysFromNow(30))
	repo.addBatch(scarce.ID, "B1", 1, daysFromNow(30))

	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc := approvedPrescription(t, repo, pipeline, []PrescriptionItem{
		{MedicineID: plenty.ID, Quantity: 5, UnitPrice: 1000},
		{MedicineID: scarce.ID, Quantity: 5, UnitPrice: 500},
	})

	_, err := pipeline.Dispense(ctx, presc.ID, []DispenseLine{
		{MedicineID: plenty.ID, Quantity: 5},
		{MedicineID: scarce.ID, Quantity: 5},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	// The line that could have been filled was rolled back too.
	assert.Equal(t, 100, repo.batchQuantity(plentyBatch.ID))

	final, err := pipeline.GetPrescription(ctx, presc.ID)
	require.NoError(t, err)
	assert.NotEqual(t, PrescriptionDispensed, final.Status)
}

func TestDispenseTwiceRejected(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	repo.addBatch(med.ID, "B1", 10, daysFromNow(30))

	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc := approvedPrescription(t, repo, pipeline, []PrescriptionItem{
		{MedicineID: med.ID, Quantity: 2, UnitPrice: 1000},
	})

	_, err := pipeline.Dispense(ctx, presc.ID, []DispenseLine{{MedicineID: med.ID, Quantity: 2}})
	require.NoError(t, err)

	_, err = pipeline.Dispense(ctx, presc.ID, []DispenseLine{{MedicineID: med.ID, Quantity: 2}})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPartialQuantityDispenseAllowed(t *testing.T) {
	repo := newMemoryRepo()
	med := repo.addMedicine("Med A", 1000)
	repo.addBatch(med.ID, "B1", 10, daysFromNow(30))

	pipeline := newTestPipeline(repo)
	ctx := context.Background()

	presc := approvedPrescription(t, repo, pipeline, []PrescriptionItem{
		{MedicineID: med.ID, Quantity: 5, UnitPrice: 1000},
	})

	record, err := pipeline.Dispense(ctx, presc.ID, []DispenseLine{
		{MedicineID: med.ID, Quantity: 3},
	})
	require.NoError(t, err)
	require.Len(t, record.Lines, 1)
	assert.Equal(t, 3, record.Lines[0].Quantity)
}
