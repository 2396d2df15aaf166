package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrRoomNotFound        = errors.New("room not found")
	ErrSlotNotFound        = errors.New("timeslot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotFull is returned by ReserveSlot when the conditional
	// increment finds booked_count already at max_patients.
	ErrSlotFull = errors.New("timeslot is fully booked")
)

// Repository contains all DB interactions needed by the allocator and the
// appointment service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	GetRoomByID(ctx context.Context, id uuid.UUID) (*Room, error)
	CreateRoom(ctx context.Context, room *Room) error
	// RoomHasSchedulesAfter guards room deletion while future schedules exist.
	RoomHasSchedulesAfter(ctx context.Context, roomID uuid.UUID, after time.Time) (bool, error)
	DeleteRoom(ctx context.Context, id uuid.UUID) error
	ListRooms(ctx context.Context, roomType *RoomType) ([]Room, error)

	CreateSchedule(ctx context.Context, sched *Schedule) error
	// ListSchedulesOverlapping returns schedules on the date whose
	// [start,end) window intersects the given window. A nil roomID
	// matches every room.
	ListSchedulesOverlapping(ctx context.Context, roomID *uuid.UUID, date time.Time, start, end time.Time) ([]Schedule, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Timeslot, error)
	CreateSlot(ctx context.Context, slot *Timeslot) error
	// FindOpenSlots returns the doctor's timeslots on the date with spare
	// capacity, ordered by start time ascending.
	FindOpenSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Timeslot, error)

	// ReserveSlot atomically checks booked_count < max_patients and
	// increments it. Returns ErrSlotFull or ErrSlotNotFound on failure.
	ReserveSlot(ctx context.Context, slotID uuid.UUID) (*Timeslot, error)
	// ReleaseSlot atomically decrements booked_count, floored at zero.
	// The bool is false when the floor prevented the decrement, which
	// indicates a prior accounting bug.
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) (bool, error)

	CreateAppointment(ctx context.Context, appt *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	// UpdateAppointmentStatus moves id from -> to in one conditional
	// statement; ErrAppointmentNotFound means the appointment is gone or
	// no longer in the from status.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	// CancelAppointment is UpdateAppointmentStatus to cancelled plus the
	// recorded reason.
	CancelAppointment(ctx context.Context, id uuid.UUID, from AppointmentStatus, reason string) (*Appointment, error)
	// MoveAppointmentToSlot updates the slot binding after the allocator
	// confirmed the new reservation.
	MoveAppointmentToSlot(ctx context.Context, id, slotID uuid.UUID, date, start time.Time) (*Appointment, error)

	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)
	ListAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]AppointmentDetail, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
