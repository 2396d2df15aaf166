package pharmacy

import (
	"time"

	"github.com/google/uuid"
)

type PrescriptionStatus string

const (
	PrescriptionDraft    PrescriptionStatus = "draft"
	PrescriptionApproved PrescriptionStatus = "approved"
	// PrescriptionReady means an invoice exists and the prescription is
	// waiting at the pharmacy counter.
	PrescriptionReady     PrescriptionStatus = "ready_for_dispense"
	PrescriptionDispensed PrescriptionStatus = "dispensed"
	PrescriptionCancelled PrescriptionStatus = "cancelled"
)

var prescriptionTransitions = map[PrescriptionStatus][]PrescriptionStatus{
	PrescriptionDraft:     {PrescriptionApproved, PrescriptionCancelled},
	PrescriptionApproved:  {PrescriptionReady, PrescriptionDispensed, PrescriptionCancelled},
	PrescriptionReady:     {PrescriptionDispensed, PrescriptionCancelled},
	PrescriptionDispensed: {},
	PrescriptionCancelled: {},
}

// CanTransition reports whether from -> to is a legal prescription move.
func CanTransition(from, to PrescriptionStatus) bool {
	for _, next := range prescriptionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type InvoiceStatus string

const (
	InvoiceUnpaid InvoiceStatus = "unpaid"
	InvoicePaid   InvoiceStatus = "paid"
)

// Medicine prices are minor currency units throughout, so invoice totals
// round-trip without drift.
type Medicine struct {
	ID        uuid.UUID
	Name      string
	Unit      string
	Price     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockBatch is one received lot of a medicine. Usable stock for a
// medicine is the sum of non-expired batch quantities; Quantity is
// mutated only through the ledger.
type StockBatch struct {
	ID         uuid.UUID
	MedicineID uuid.UUID
	BatchNumber string
	Quantity   int
	ExpiryDate time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type PrescriptionItem struct {
	MedicineID   uuid.UUID `json:"medicine_id"`
	Quantity     int       `json:"quantity"`
	UnitPrice    int64     `json:"unit_price"`
	Dosage       string    `json:"dosage"`
	Instructions string    `json:"instructions"`
}

type Prescription struct {
	ID              uuid.UUID
	AppointmentID   uuid.UUID
	MedicalRecordID *uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	Items           []PrescriptionItem
	TotalAmount     int64
	Status          PrescriptionStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type InvoiceItemType string

const (
	InvoiceItemConsultation InvoiceItemType = "consultation"
	InvoiceItemMedicine     InvoiceItemType = "medicine"
)

type InvoiceItem struct {
	Type        InvoiceItemType `json:"type"`
	Description string          `json:"description"`
	MedicineID  *uuid.UUID      `json:"medicine_id,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   int64           `json:"unit_price"`
	Amount      int64           `json:"amount"`
}

type Invoice struct {
	ID             uuid.UUID
	AppointmentID  uuid.UUID
	PatientID      uuid.UUID
	PrescriptionID *uuid.UUID
	Items          []InvoiceItem
	Subtotal       int64
	Discount       int64
	Tax            int64
	Total          int64
	Status         InvoiceStatus
	PaidAmount     int64
	PaidAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Payment is the recorded transaction behind every paid_amount increment.
type Payment struct {
	ID        uuid.UUID
	InvoiceID uuid.UUID
	Method    string
	Amount    int64
	CreatedAt time.Time
}

// BatchDeduction is one batch's share of a stock deduction.
type BatchDeduction struct {
	BatchID     uuid.UUID `json:"batch_id"`
	BatchNumber string    `json:"batch_number"`
	MedicineID  uuid.UUID `json:"medicine_id"`
	Quantity    int       `json:"quantity"`
}

// DispenseLine is a caller-supplied quantity to hand out for one
// prescription item; it may be below the prescribed quantity but never
// above it.
type DispenseLine struct {
	MedicineID uuid.UUID `json:"medicine_id"`
	Quantity   int       `json:"quantity"`
}

type DispenseRecord struct {
	ID             uuid.UUID
	PrescriptionID uuid.UUID
	Lines          []BatchDeduction
	CreatedAt      time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	SubjectID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}
