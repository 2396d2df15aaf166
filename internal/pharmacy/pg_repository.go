package pharmacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanMedicine(row pgx.Row) (*Medicine, error) {
	var m Medicine

	err := row.Scan(&m.ID, &m.Name, &m.Unit, &m.Price, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMedicineNotFound
		}
		return nil, err
	}

	return &m, nil
}

func scanBatch(row pgx.Row) (*StockBatch, error) {
	var b StockBatch

	err := row.Scan(&b.ID, &b.MedicineID, &b.BatchNumber, &b.Quantity, &b.ExpiryDate, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return &b, nil
}

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	var recordID *uuid.UUID
	var itemsRaw []byte

	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&recordID,
		&p.DoctorID,
		&p.PatientID,
		&itemsRaw,
		&p.TotalAmount,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrescriptionNotFound
		}
		return nil, err
	}

	p.MedicalRecordID = recordID
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &p.Items); err != nil {
			return nil, fmt.Errorf("decode prescription items: %w", err)
		}
	}
	return &p, nil
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var prescriptionID *uuid.UUID
	var itemsRaw []byte
	var paidAt *time.Time

	err := row.Scan(
		&inv.ID,
		&inv.AppointmentID,
		&inv.PatientID,
		&prescriptionID,
		&itemsRaw,
		&inv.Subtotal,
		&inv.Discount,
		&inv.Tax,
		&inv.Total,
		&inv.Status,
		&inv.PaidAmount,
		&paidAt,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}

	inv.PrescriptionID = prescriptionID
	inv.PaidAt = paidAt
	if len(itemsRaw) > 0 {
		if err := json.Unmarshal(itemsRaw, &inv.Items); err != nil {
			return nil, fmt.Errorf("decode invoice items: %w", err)
		}
	}
	return &inv, nil
}

// Interface methods

func (r *PgRepository) GetMedicineByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, unit, price, created_at, updated_at
		FROM medicines
		WHERE id = $1
	`, id)
	return scanMedicine(row)
}

func (r *PgRepository) CreateMedicine(ctx context.Context, m *Medicine) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO medicines (id, name, unit, price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING created_at, updated_at
	`, m.ID, m.Name, m.Unit, m.Price)
	return row.Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *PgRepository) ListBatches(ctx context.Context, medicineID uuid.UUID) ([]StockBatch, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, medicine_id, batch_number, quantity, expiry_date, created_at, updated_at
		FROM stock_batches
		WHERE medicine_id = $1
		ORDER BY expiry_date ASC
	`, medicineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StockBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

func (r *PgRepository) UsableQuantity(ctx context.Context, medicineID uuid.UUID, asOf time.Time) (int, error) {
	var usable int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_batches
		WHERE medicine_id = $1
		  AND expiry_date > $2
	`, medicineID, asOf).Scan(&usable)
	return usable, err
}

// DeductFEFO locks every touched batch row, plans the consumption in
// expiry order and applies it, all inside one transaction. A shortage on
// any line rolls the whole thing back.
func (r *PgRepository) DeductFEFO(ctx context.Context, lines []DispenseLine, asOf time.Time) ([]BatchDeduction, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var deductions []BatchDeduction

	for _, line := range lines {
		rows, err := tx.Query(ctx, `
			SELECT id, medicine_id, batch_number, quantity, expiry_date, created_at, updated_at
			FROM stock_batches
			WHERE medicine_id = $1
			  AND expiry_date > $2
			  AND quantity > 0
			ORDER BY expiry_date ASC
			FOR UPDATE
		`, line.MedicineID, asOf)
		if err != nil {
			return nil, err
		}

		var batches []StockBatch
		for rows.Next() {
			b, err := scanBatch(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			batches = append(batches, *b)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		remaining := line.Quantity
		var plan []BatchDeduction
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
			return nil, ErrInsufficientStock
		}

		for _, d := range plan {
			tag, err := tx.Exec(ctx, `
				UPDATE stock_batches
				SET quantity = quantity - $2,
				    updated_at = now()
				WHERE id = $1
				  AND quantity >= $2
			`, d.BatchID, d.Quantity)
			if err != nil {
				return nil, err
			}
			if tag.RowsAffected() == 0 {
				// Row lock should make this unreachable.
				return nil, ErrInsufficientStock
			}
		}

		deductions = append(deductions, plan...)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return deductions, nil
}

func (r *PgRepository) CreditStock(ctx context.Context, medicineID uuid.UUID, batchNumber string, quantity int, expiry time.Time) (*StockBatch, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO stock_batches (id, medicine_id, batch_number, quantity, expiry_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (medicine_id, batch_number)
		DO UPDATE SET quantity = stock_batches.quantity + EXCLUDED.quantity,
		              updated_at = now()
		RETURNING id, medicine_id, batch_number, quantity, expiry_date, created_at, updated_at
	`, uuid.New(), medicineID, batchNumber, quantity, expiry)
	return scanBatch(row)
}

func (r *PgRepository) PurgeExpiredBatches(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE stock_batches
		SET quantity = 0,
		    updated_at = now()
		WHERE expiry_date <= $1
		  AND quantity > 0
	`, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) ListLowStock(ctx context.Context, threshold int, asOf time.Time) ([]LowStockMedicine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT m.id, m.name, m.unit, m.price, m.created_at, m.updated_at,
		       COALESCE(SUM(b.quantity) FILTER (WHERE b.expiry_date > $2), 0) AS usable
		FROM medicines m
		LEFT JOIN stock_batches b ON b.medicine_id = m.id
		GROUP BY m.id
		HAVING COALESCE(SUM(b.quantity) FILTER (WHERE b.expiry_date > $2), 0) < $1
		ORDER BY usable ASC
	`, threshold, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LowStockMedicine
	for rows.Next() {
		var m Medicine
		var usable int
		if err := rows.Scan(&m.ID, &m.Name, &m.Unit, &m.Price, &m.CreatedAt, &m.UpdatedAt, &usable); err != nil {
			return nil, err
		}
		result = append(result, LowStockMedicine{Medicine: m, Usable: usable})
	}
	return result, rows.Err()
}

const prescriptionColumns = `id, appointment_id, medical_record_id, doctor_id, patient_id, items, total_amount, status, created_at, updated_at`

func (r *PgRepository) CreatePrescription(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	items, err := json.Marshal(p.Items)
	if err != nil {
		return fmt.Errorf("encode prescription items: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO prescriptions (id, appointment_id, medical_record_id, doctor_id, patient_id, items, total_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING created_at, updated_at
	`, p.ID, p.AppointmentID, p.MedicalRecordID, p.DoctorID, p.PatientID, items, p.TotalAmount, p.Status)
	return row.Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *PgRepository) GetPrescriptionByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+prescriptionColumns+`
		FROM prescriptions
		WHERE id = $1
	`, id)
	return scanPrescription(row)
}

func (r *PgRepository) UpdatePrescriptionStatus(ctx context.Context, id uuid.UUID, from, to PrescriptionStatus) (*Prescription, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE prescriptions
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+prescriptionColumns+`
	`, id, to, from)
	return scanPrescription(row)
}

const invoiceColumns = `id, appointment_id, patient_id, prescription_id, items, subtotal, discount, tax, total, status, paid_amount, paid_at, created_at, updated_at`

func (r *PgRepository) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return fmt.Errorf("encode invoice items: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO invoices (id, appointment_id, patient_id, prescription_id, items, subtotal, discount, tax, total, status, paid_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, now(), now())
		RETURNING created_at, updated_at
	`, inv.ID, inv.AppointmentID, inv.PatientID, inv.PrescriptionID, items, inv.Subtotal, inv.Discount, inv.Tax, inv.Total, inv.Status)
	if err := row.Scan(&inv.CreatedAt, &inv.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_invoices_prescription" {
			return ErrAlreadyInvoiced
		}
		return err
	}
	return nil
}

func (r *PgRepository) GetInvoiceByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE id = $1
	`, id)
	return scanInvoice(row)
}

func (r *PgRepository) GetInvoiceByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Invoice, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE prescription_id = $1
	`, prescriptionID)
	return scanInvoice(row)
}

// AddPayment writes the payment row and the accumulated paid_amount in
// one transaction, so an increment can never commit without its record.
func (r *PgRepository) AddPayment(ctx context.Context, invoiceID uuid.UUID, method string, amount int64) (*Invoice, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, invoice_id, method, amount, created_at)
		VALUES ($1, $2, $3, $4, now())
	`, uuid.New(), invoiceID, method, amount)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	row := tx.QueryRow(ctx, `
		UPDATE invoices
		SET paid_amount = paid_amount + $2,
		    status = CASE WHEN paid_amount + $2 >= total THEN 'paid' ELSE status END,
		    paid_at = CASE WHEN paid_amount + $2 >= total AND paid_at IS NULL THEN now() ELSE paid_at END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+invoiceColumns+`
	`, invoiceID, amount)

	inv, err := scanInvoice(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return inv, nil
}

func (r *PgRepository) CreateDispenseRecord(ctx context.Context, rec *DispenseRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	lines, err := json.Marshal(rec.Lines)
	if err != nil {
		return fmt.Errorf("encode dispense lines: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO dispense_records (id, prescription_id, lines, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING created_at
	`, rec.ID, rec.PrescriptionID, lines)
	return row.Scan(&rec.CreatedAt)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, subject_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.SubjectID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
