package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(&p.ID, &p.Name, &email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(&d.ID, &d.Name, &specialty, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanRoom(row pgx.Row) (*Room, error) {
	var r Room

	err := row.Scan(&r.ID, &r.Name, &r.Type, &r.Capacity, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	return &r, nil
}

func scanSlot(row pgx.Row) (*Timeslot, error) {
	var s Timeslot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Date,
		&s.StartTime,
		&s.EndTime,
		&s.MaxPatients,
		&s.BookedCount,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

const appointmentColumns = `id, patient_id, doctor_id, timeslot_id, room_id, date, start_time, reason, status, cancel_reason, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var slotID, roomID *uuid.UUID
	var cancelReason *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&slotID,
		&roomID,
		&a.Date,
		&a.StartTime,
		&a.Reason,
		&a.Status,
		&cancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.TimeslotID = slotID
	a.RoomID = roomID
	a.CancelReason = cancelReason
	return &a, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetRoomByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, type, capacity, created_at, updated_at
		FROM rooms
		WHERE id = $1
	`, id)
	return scanRoom(row)
}

func (r *PgRepository) CreateRoom(ctx context.Context, room *Room) error {
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO rooms (id, name, type, capacity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING created_at, updated_at
	`, room.ID, room.Name, room.Type, room.Capacity)
	return row.Scan(&room.CreatedAt, &room.UpdatedAt)
}

func (r *PgRepository) RoomHasSchedulesAfter(ctx context.Context, roomID uuid.UUID, after time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM schedules
			WHERE room_id = $1 AND end_time > $2
		)
	`, roomID, after).Scan(&exists)
	return exists, err
}

func (r *PgRepository) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *PgRepository) ListRooms(ctx context.Context, roomType *RoomType) ([]Room, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, type, capacity, created_at, updated_at
		FROM rooms
		WHERE $1::text IS NULL OR type = $1
		ORDER BY name
	`, roomType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *room)
	}
	return result, rows.Err()
}

func (r *PgRepository) CreateSchedule(ctx context.Context, sched *Schedule) error {
	if sched.ID == uuid.Nil {
		sched.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO schedules (id, doctor_id, room_id, date, start_time, end_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at
	`, sched.ID, sched.DoctorID, sched.RoomID, sched.Date, sched.StartTime, sched.EndTime)
	return row.Scan(&sched.CreatedAt, &sched.UpdatedAt)
}

func (r *PgRepository) ListSchedulesOverlapping(ctx context.Context, roomID *uuid.UUID, date time.Time, start, end time.Time) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, room_id, date, start_time, end_time, created_at, updated_at
		FROM schedules
		WHERE date = $1
		  AND ($2::uuid IS NULL OR room_id = $2)
		  AND (
		       (start_time <= $3 AND end_time > $3)
		    OR (start_time < $4 AND end_time >= $4)
		    OR (start_time >= $3 AND end_time <= $4)
		  )
	`, date, roomID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Schedule
	for rows.Next() {
		var s Schedule
		if err := rows.Scan(&s.ID, &s.DoctorID, &s.RoomID, &s.Date, &s.StartTime, &s.EndTime, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Timeslot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, date, start_time, end_time, max_patients, booked_count, created_at, updated_at
		FROM timeslots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) CreateSlot(ctx context.Context, slot *Timeslot) error {
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO timeslots (id, doctor_id, date, start_time, end_time, max_patients, booked_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now(), now())
		RETURNING booked_count, created_at, updated_at
	`, slot.ID, slot.DoctorID, slot.Date, slot.StartTime, slot.EndTime, slot.MaxPatients)
	return row.Scan(&slot.BookedCount, &slot.CreatedAt, &slot.UpdatedAt)
}

func (r *PgRepository) FindOpenSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Timeslot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, date, start_time, end_time, max_patients, booked_count, created_at, updated_at
		FROM timeslots
		WHERE doctor_id = $1
		  AND date = $2
		  AND booked_count < max_patients
		ORDER BY start_time ASC
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Timeslot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *slot)
	}
	return result, rows.Err()
}

// ReserveSlot performs the capacity check and the increment in one
// statement, so no interleaved writer can slip between them.
func (r *PgRepository) ReserveSlot(ctx context.Context, slotID uuid.UUID) (*Timeslot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE timeslots
		SET booked_count = booked_count + 1,
		    updated_at = now()
		WHERE id = $1
		  AND booked_count < max_patients
		RETURNING id, doctor_id, date, start_time, end_time, max_patients, booked_count, created_at, updated_at
	`, slotID)

	slot, err := scanSlot(row)
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, err
	}

	// No row updated: tell a missing slot apart from a full one.
	if _, getErr := r.GetSlotByID(ctx, slotID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrSlotFull
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, slotID uuid.UUID) (bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE timeslots
		SET booked_count = booked_count - 1,
		    updated_at = now()
		WHERE id = $1
		  AND booked_count > 0
		RETURNING id, doctor_id, date, start_time, end_time, max_patients, booked_count, created_at, updated_at
	`, slotID)

	_, err := scanSlot(row)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return false, err
	}

	if _, getErr := r.GetSlotByID(ctx, slotID); getErr != nil {
		return false, getErr
	}
	// Slot exists but booked_count was already zero.
	return false, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, timeslot_id, room_id, date, start_time, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING created_at, updated_at
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.TimeslotID, appt.RoomID, appt.Date, appt.StartTime, appt.Reason, appt.Status)
	return row.Scan(&appt.CreatedAt, &appt.UpdatedAt)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID, from AppointmentStatus, reason string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancel_reason = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
		RETURNING `+appointmentColumns+`
	`, id, StatusCancelled, reason, from)
	return scanAppointment(row)
}

func (r *PgRepository) MoveAppointmentToSlot(ctx context.Context, id, slotID uuid.UUID, date, start time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET timeslot_id = $2,
		    date = $3,
		    start_time = $4,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, id, slotID, date, start)
	return scanAppointment(row)
}

const detailQuery = `
	SELECT a.id, a.patient_id, a.doctor_id, a.timeslot_id, a.room_id, a.date, a.start_time, a.reason, a.status, a.cancel_reason, a.created_at, a.updated_at,
	       t.id, t.doctor_id, t.date, t.start_time, t.end_time, t.max_patients, t.booked_count, t.created_at, t.updated_at,
	       p.id, p.name, p.email, p.created_at, p.updated_at,
	       d.id, d.name, d.specialty, d.created_at, d.updated_at
	FROM appointments a
	LEFT JOIN timeslots t ON t.id = a.timeslot_id
	JOIN patients p ON p.id = a.patient_id
	JOIN doctors d ON d.id = a.doctor_id
`

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var det AppointmentDetail
	var slotID, roomID *uuid.UUID
	var cancelReason *string

	var tID, tDoctorID *uuid.UUID
	var tDate, tStart, tEnd, tCreated, tUpdated *time.Time
	var tMax, tBooked *int

	var p Patient
	var pEmail *string
	var d Doctor
	var dSpecialty *string

	err := row.Scan(
		&det.ID, &det.PatientID, &det.DoctorID, &slotID, &roomID, &det.Date, &det.StartTime, &det.Reason, &det.Status, &cancelReason, &det.CreatedAt, &det.UpdatedAt,
		&tID, &tDoctorID, &tDate, &tStart, &tEnd, &tMax, &tBooked, &tCreated, &tUpdated,
		&p.ID, &p.Name, &pEmail, &p.CreatedAt, &p.UpdatedAt,
		&d.ID, &d.Name, &dSpecialty, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	det.TimeslotID = slotID
	det.RoomID = roomID
	det.CancelReason = cancelReason
	if tID != nil {
		det.Slot = &Timeslot{
			ID:          *tID,
			DoctorID:    *tDoctorID,
			Date:        *tDate,
			StartTime:   *tStart,
			EndTime:     *tEnd,
			MaxPatients: *tMax,
			BookedCount: *tBooked,
			CreatedAt:   *tCreated,
			UpdatedAt:   *tUpdated,
		}
	}
	p.Email = pEmail
	d.Specialty = dSpecialty
	det.Patient = &p
	det.Doctor = &d

	return &det, nil
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, detailQuery+` WHERE a.id = $1`, id)
	return scanAppointmentDetail(row)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, detailQuery+`
		WHERE a.patient_id = $1
		ORDER BY a.date DESC, a.start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDetails(rows)
}

func (r *PgRepository) ListAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, detailQuery+`
		WHERE a.timeslot_id = $1
		ORDER BY a.created_at ASC
	`, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDetails(rows)
}

func collectDetails(rows pgx.Rows) ([]AppointmentDetail, error) {
	var result []AppointmentDetail
	for rows.Next() {
		det, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *det)
	}
	return result, rows.Err()
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
