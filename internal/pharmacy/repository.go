package pharmacy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMedicineNotFound     = errors.New("medicine not found")
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrInvoiceNotFound      = errors.New("invoice not found")

	// ErrInsufficientStock is returned when the usable (non-expired)
	// quantity cannot cover a deduction; nothing is deducted in that case.
	ErrInsufficientStock = errors.New("insufficient usable stock")
)

// LowStockMedicine pairs a medicine with its remaining usable quantity,
// for STOCK_LOW reporting.
type LowStockMedicine struct {
	Medicine Medicine
	Usable   int
}

// Repository contains all DB interactions needed by the ledger and the
// prescription pipeline.
type Repository interface {
	GetMedicineByID(ctx context.Context, id uuid.UUID) (*Medicine, error)
	CreateMedicine(ctx context.Context, m *Medicine) error

	ListBatches(ctx context.Context, medicineID uuid.UUID) ([]StockBatch, error)
	// UsableQuantity sums quantities of batches expiring after asOf.
	UsableQuantity(ctx context.Context, medicineID uuid.UUID, asOf time.Time) (int, error)
	// DeductFEFO consumes the requested amounts from non-expired batches
	// in expiry order, spilling across batches, inside one transaction.
	// Either every line is applied in full or none is.
	DeductFEFO(ctx context.Context, lines []DispenseLine, asOf time.Time) ([]BatchDeduction, error)
	// CreditStock adds quantity to the (medicine, batch_number) batch,
	// inserting it when absent.
	CreditStock(ctx context.Context, medicineID uuid.UUID, batchNumber string, quantity int, expiry time.Time) (*StockBatch, error)
	// PurgeExpiredBatches zeroes out batches already past asOf and
	// returns how many were touched.
	PurgeExpiredBatches(ctx context.Context, asOf time.Time) (int64, error)
	ListLowStock(ctx context.Context, threshold int, asOf time.Time) ([]LowStockMedicine, error)

	CreatePrescription(ctx context.Context, p *Prescription) error
	GetPrescriptionByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	// UpdatePrescriptionStatus moves id from -> to in one conditional
	// statement; ErrPrescriptionNotFound means gone or no longer in from.
	UpdatePrescriptionStatus(ctx context.Context, id uuid.UUID, from, to PrescriptionStatus) (*Prescription, error)

	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoiceByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetInvoiceByPrescription returns ErrInvoiceNotFound when the
	// prescription has not been invoiced yet.
	GetInvoiceByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Invoice, error)
	// AddPayment records the tender and accumulates paid_amount in the
	// same transaction, flipping the invoice to paid once paid_amount
	// reaches total.
	AddPayment(ctx context.Context, invoiceID uuid.UUID, method string, amount int64) (*Invoice, error)

	CreateDispenseRecord(ctx context.Context, rec *DispenseRecord) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
