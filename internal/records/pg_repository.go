package records

import (
	"context"
	"errors"

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

const recordColumns = `id, appointment_id, patient_id, doctor_id, diagnosis, notes, exam_results, lab_tests, attachments, created_at, updated_at`

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var r MedicalRecord

	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.PatientID,
		&r.DoctorID,
		&r.Diagnosis,
		&r.Notes,
		&r.ExamResults,
		&r.LabTests,
		&r.Attachments,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	return &r, nil
}

func (r *PgRepository) CreateRecord(ctx context.Context, rec *MedicalRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO medical_records (id, appointment_id, patient_id, doctor_id, diagnosis, notes, exam_results, lab_tests, attachments, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING created_at, updated_at
	`, rec.ID, rec.AppointmentID, rec.PatientID, rec.DoctorID, rec.Diagnosis, rec.Notes, rec.ExamResults, rec.LabTests, rec.Attachments)
	if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "idx_medical_records_appointment" {
			return ErrRecordExists
		}
		return err
	}
	return nil
}

func (r *PgRepository) GetRecordByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM medical_records
		WHERE id = $1
	`, id)
	return scanRecord(row)
}

func (r *PgRepository) GetRecordByAppointment(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM medical_records
		WHERE appointment_id = $1
	`, appointmentID)
	return scanRecord(row)
}
