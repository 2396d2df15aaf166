package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type RoomType string

const (
	RoomConsultation RoomType = "consultation"
	RoomExamination  RoomType = "examination"
	RoomLaboratory   RoomType = "laboratory"
	RoomPharmacy     RoomType = "pharmacy"
)

func (t RoomType) Valid() bool {
	switch t {
	case RoomConsultation, RoomExamination, RoomLaboratory, RoomPharmacy:
		return true
	}
	return false
}

type AppointmentStatus string

const (
	StatusPending    AppointmentStatus = "pending"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusCheckedIn  AppointmentStatus = "checked_in"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
)

// transitions is the full set of legal appointment status moves. Anything
// not listed here is rejected with ErrInvalidTransition.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:    {StatusConfirmed, StatusCheckedIn, StatusCancelled},
	StatusConfirmed:  {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Room struct {
	ID        uuid.UUID
	Name      string
	Type      RoomType
	Capacity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedule is a doctor's working block in a room on a date. Two schedules
// for the same room must never overlap in time on the same date.
type Schedule struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	RoomID    uuid.UUID
	Date      time.Time
	StartTime time.Time
	EndTime   time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Timeslot is a bookable window for a doctor with a patient capacity.
// Invariant: 0 <= BookedCount <= MaxPatients, also under concurrent
// reservations; BookedCount is mutated only through the allocator.
type Timeslot struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Date        time.Time
	StartTime   time.Time
	EndTime     time.Time
	MaxPatients int
	BookedCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	TimeslotID   *uuid.UUID
	RoomID       *uuid.UUID
	Date         time.Time
	StartTime    time.Time
	Reason       string
	Status       AppointmentStatus
	CancelReason *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	SubjectID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

type AppointmentDetail struct {
	Appointment
	Slot    *Timeslot
	Patient *Patient
	Doctor  *Doctor
}
