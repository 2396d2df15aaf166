package pharmacy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepo is an in-memory Repository for tests. DeductFEFO applies
// the same plan-then-apply, all-or-nothing semantics as the SQL
// implementation, under a single mutex.
type memoryRepo struct {
	mu            sync.Mutex
	medicines     map[uuid.UUID]*Medicine
	batches       map[uuid.UUID]*StockBatch
	prescriptions map[uuid.UUID]*Prescription
	invoices      map[uuid.UUID]*Invoice
	payments      []Payment
	dispenses     map[uuid.UUID]*DispenseRecord
	events        []EventLog
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		medicines:     make(map[uuid.UUID]*Medicine),
		batches:       make(map[uuid.UUID]*StockBatch),
		prescriptions: make(map[uuid.UUID]*Prescription),
		invoices:      make(map[uuid.UUID]*Invoice),
		dispenses:     make(map[uuid.UUID]*DispenseRecord),
	}
}

func (r *memoryRepo) addMedicine(name string, price int64) *Medicine {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := &Medicine{ID: uuid.New(), Name: name, Unit: "tablet", Price: price}
	r.medicines[m.ID] = m
	return m
}

func (r *memoryRepo) addBatch(medicineID uuid.UUID, batchNumber string, quantity int, expiry time.Time) *StockBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := &StockBatch{
		ID:          uuid.New(),
		MedicineID:  medicineID,
		BatchNumber: batchNumber,
		Quantity:    quantity,
		ExpiryDate:  expiry,
	}
	r.batches[b.ID] = b
	return b
}

func (r *memoryRepo) batchQuantity(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.batches[id]; ok {
		return b.Quantity
	}
	return -1
}

func (r *memoryRepo) GetMedicineByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.medicines[id]
	if !ok {
		return nil, ErrMedicineNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memoryRepo) CreateMedicine(ctx context.Context, m *Medicine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	cp := *m
	r.medicines[m.ID] = &cp
	return nil
}

func (r *memoryRepo) ListBatches(ctx context.Context, medicineID uuid.UUID) ([]StockBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []StockBatch
	for _, b := range r.batches {
		if b.MedicineID == medicineID {
			result = append(result, *b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiryDate.Before(result[j].ExpiryDate)
	})
	return result, nil
}

func (r *memoryRepo) UsableQuantity(ctx context.Context, medicineID uuid.UUID, asOf time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usableLocked(medicineID, asOf), nil
}

func (r *memoryRepo) usableLocked(medicineID uuid.UUID, asOf time.Time) int {
	total := 0
	for _, b := range r.batches {
		if b.MedicineID == medicineID && b.ExpiryDate.After(asOf) {
			total += b.Quantity
		}
	}
	return total
}

func (r *memoryRepo) DeductFEFO(ctx context.Context, lines []DispenseLine, asOf time.Time) ([]BatchDeduction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var plan []BatchDeduction
	for _, line := range lines {
		var batches []*StockBatch
		for _, b := range r.batches {
			if b.MedicineID == line.MedicineID && b.ExpiryDate.After(asOf) && b.Quantity > 0 {
				batches = append(batches, b)
			}
		}
		sort.Slice(batches, func(i, j int) bool {
			return batches[i].ExpiryDate.Before(batches[j].ExpiryDate)
		})

		remaining := line.Quantity
		for _, b := range batches {
			if remaining == 0 {
				break
			}
			take := b.Quantity
			if take > remaining {
				take = remaining
			}
			plan = append(plan, BatchDeduction{
				BatchID:     b.ID,
				BatchNumber: b.BatchNumber,
				MedicineID:  b.MedicineID,
				Quantity:    take,
			})
			remaining -= take
		}
		if remaining > 0 {
			// Nothing applied yet: the whole deduction rolls back.
			return nil, ErrInsufficientStock
		}
	}

	for _, d := range plan {
		r.batches[d.BatchID].Quantity -= d.Quantity
	}
	return plan, nil
}

func (r *memoryRepo) CreditStock(ctx context.Context, medicineID uuid.UUID, batchNumber string, quantity int, expiry time.Time) (*StockBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.batches {
		if b.MedicineID == medicineID && b.BatchNumber == batchNumber {
			b.Quantity += quantity
			cp := *b
			return &cp, nil
		}
	}
	b := &StockBatch{
		ID:          uuid.New(),
		MedicineID:  medicineID,
		BatchNumber: batchNumber,
		Quantity:    quantity,
		ExpiryDate:  expiry,
	}
	r.batches[b.ID] = b
	cp := *b
	return &cp, nil
}

func (r *memoryRepo) PurgeExpiredBatches(ctx context.Context, asOf time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int64
	for _, b := range r.batches {
		if !b.ExpiryDate.After(asOf) && b.Quantity > 0 {
			b.Quantity = 0
			purged++
		}
	}
	return purged, nil
}

func (r *memoryRepo) ListLowStock(ctx context.Context, threshold int, asOf time.Time) ([]LowStockMedicine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []LowStockMedicine
	for _, m := range r.medicines {
		usable := r.usableLocked(m.ID, asOf)
		if usable < threshold {
			result = append(result, LowStockMedicine{Medicine: *m, Usable: usable})
		}
	}
	return result, nil
}

func (r *memoryRepo) CreatePrescription(ctx context.Context, p *Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	r.prescriptions[p.ID] = &cp
	return nil
}

func (r *memoryRepo) GetPrescriptionByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prescriptions[id]
	if !ok {
		return nil, ErrPrescriptionNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) UpdatePrescriptionStatus(ctx context.Context, id uuid.UUID, from, to PrescriptionStatus) (*Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prescriptions[id]
	if !ok || p.Status != from {
		return nil, ErrPrescriptionNotFound
	}
	p.Status = to
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) CreateInvoice(ctx context.Context, inv *Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv.PrescriptionID != nil {
		for _, existing := range r.invoices {
			if existing.PrescriptionID != nil && *existing.PrescriptionID == *inv.PrescriptionID {
				return ErrAlreadyInvoiced
			}
		}
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	cp := *inv
	r.invoices[inv.ID] = &cp
	return nil
}

func (r *memoryRepo) GetInvoiceByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (r *memoryRepo) GetInvoiceByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.PrescriptionID != nil && *inv.PrescriptionID == prescriptionID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrInvoiceNotFound
}

func (r *memoryRepo) AddPayment(ctx context.Context, invoiceID uuid.UUID, method string, amount int64) (*Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	r.payments = append(r.payments, Payment{
		ID:        uuid.New(),
		InvoiceID: invoiceID,
		Method:    method,
		Amount:    amount,
		CreatedAt: time.Now(),
	})
	inv.PaidAmount += amount
	if inv.PaidAmount >= inv.Total && inv.Status != InvoicePaid {
		inv.Status = InvoicePaid
		now := time.Now()
		inv.PaidAt = &now
	}
	cp := *inv
	return &cp, nil
}

func (r *memoryRepo) CreateDispenseRecord(ctx context.Context, rec *DispenseRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	cp := *rec
	r.dispenses[rec.ID] = &cp
	return nil
}

func (r *memoryRepo) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memoryRepo) eventCount(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}

func (r *memoryRepo) paymentCount(invoiceID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.payments {
		if p.InvoiceID == invoiceID {
			n++
		}
	}
	return n
}
