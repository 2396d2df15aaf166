package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicflow/clinic-backend/internal/config"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCheckedIn   = "APPOINTMENT_CHECKED_IN"
	EventAppointmentStarted     = "APPOINTMENT_STARTED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
)

var ErrInvalidTransition = errors.New("invalid appointment status transition")

// Service owns the appointment lifecycle. Every slot capacity change goes
// through the allocator; the service never touches booked_count itself.
type Service struct {
	repo      Repository
	allocator *Allocator
	cfg       config.Config
	log       zerolog.Logger
}

func NewService(repo Repository, allocator *Allocator, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		allocator: allocator,
		cfg:       cfg,
		log:       log.With().Str("component", "appointment_service").Logger(),
	}
}

type BookParams struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	SlotID    uuid.UUID
	Reason    string
	// Confirmed marks reception-created bookings that skip PENDING.
	Confirmed bool
}

// Book reserves the slot first and only then creates the appointment, so
// a failed reservation leaves no record behind.
func (s *Service) Book(ctx context.Context, p BookParams) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationDeadline)
	defer cancel()

	if _, err := s.repo.GetPatientByID(ctx, p.PatientID); err != nil {
		return nil, err
	}
	doctor, err := s.repo.GetDoctorByID(ctx, p.DoctorID)
	if err != nil {
		return nil, err
	}

	slot, err := s.allocator.Reserve(ctx, p.SlotID)
	if err != nil {
		return nil, err
	}
	if slot.DoctorID != doctor.ID {
		// Slot belongs to another doctor; undo the reservation.
		if relErr := s.allocator.Release(ctx, p.SlotID); relErr != nil {
			s.log.Error().Err(relErr).Str("timeslot_id", p.SlotID.String()).
				Msg("failed to release slot after doctor mismatch")
		}
		return nil, ErrSlotNotFound
	}

	status := StatusPending
	if p.Confirmed {
		status = StatusConfirmed
	}

	slotID := slot.ID
	appt := &Appointment{
		ID:         uuid.New(),
		PatientID:  p.PatientID,
		DoctorID:   p.DoctorID,
		TimeslotID: &slotID,
		Date:       slot.Date,
		StartTime:  slot.StartTime,
		Reason:     p.Reason,
		Status:     status,
	}

	if err := s.repo.CreateAppointment(ctx, appt); err != nil {
		// Compensate: the reservation must not outlive the failed insert.
		if relErr := s.allocator.Release(ctx, p.SlotID); relErr != nil {
			s.log.Error().Err(relErr).Str("timeslot_id", p.SlotID.String()).
				Msg("failed to release slot after create failure")
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.logEvent(ctx, appt.ID, EventAppointmentBooked, map[string]any{
		"patient_id":  p.PatientID.String(),
		"doctor_id":   p.DoctorID.String(),
		"timeslot_id": p.SlotID.String(),
		"status":      string(status),
	})

	return appt, nil
}

// Confirm moves a pending appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusConfirmed, EventAppointmentConfirmed)
}

// CheckIn is valid from pending or confirmed.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCheckedIn, EventAppointmentCheckedIn)
}

// Start moves a checked-in appointment into the consultation.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusInProgress, EventAppointmentStarted)
}

// Complete is terminal and valid only from in_progress.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCompleted, EventAppointmentCompleted)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to AppointmentStatus, event string) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationDeadline)
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(appt.Status, to) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, id, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with a concurrent transition.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logEvent(ctx, updated.ID, event, map[string]any{
		"from": string(appt.Status),
		"to":   string(to),
	})

	return updated, nil
}

// Cancel releases the slot exactly once. Cancelling an already cancelled
// appointment is a no-op success.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationDeadline)
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status == StatusCancelled {
		return appt, nil
	}
	if !CanTransition(appt.Status, StatusCancelled) {
		return nil, ErrInvalidTransition
	}

	cancelled, err := s.repo.CancelAppointment(ctx, id, appt.Status, reason)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Someone else moved the status first; if that someone also
			// cancelled, keep the idempotent contract.
			cur, curErr := s.repo.GetAppointmentByID(ctx, id)
			if curErr == nil && cur.Status == StatusCancelled {
				return cur, nil
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	// The conditional update above succeeded exactly once, so this
	// release cannot double-decrement.
	if cancelled.TimeslotID != nil {
		if err := s.allocator.Release(ctx, *cancelled.TimeslotID); err != nil {
			s.log.Error().Err(err).Str("appointment_id", id.String()).
				Msg("failed to release slot on cancel")
		}
	}

	s.logEvent(ctx, cancelled.ID, EventAppointmentCancelled, map[string]any{
		"from":   string(appt.Status),
		"reason": reason,
	})

	return cancelled, nil
}

// Reschedule delegates slot movement to the allocator and only rebinds
// the appointment after the new reservation is confirmed.
func (s *Service) Reschedule(ctx context.Context, id, newSlotID uuid.UUID) (*Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationDeadline)
	defer cancel()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPending && appt.Status != StatusConfirmed {
		return nil, ErrInvalidTransition
	}
	if appt.TimeslotID == nil {
		return nil, ErrSlotNotFound
	}

	newSlot, err := s.repo.GetSlotByID(ctx, newSlotID)
	if err != nil {
		return nil, err
	}
	if newSlot.DoctorID != appt.DoctorID {
		return nil, ErrSlotNotFound
	}

	if _, err := s.allocator.Reschedule(ctx, *appt.TimeslotID, newSlotID); err != nil {
		return nil, err
	}

	updated, err := s.repo.MoveAppointmentToSlot(ctx, id, newSlotID, newSlot.Date, newSlot.StartTime)
	if err != nil {
		return nil, fmt.Errorf("move appointment to slot: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentRescheduled, map[string]any{
		"old_timeslot_id": appt.TimeslotID.String(),
		"new_timeslot_id": newSlotID.String(),
	})

	return updated, nil
}

// GetAppointment retrieves a fully hydrated appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListAppointmentsBySlot retrieves all appointments bound to a timeslot.
func (s *Service) ListAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]AppointmentDetail, error) {
	appointments, err := s.repo.ListAppointmentsBySlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by slot: %w", err)
	}
	return appointments, nil
}

func (s *Service) logEvent(ctx context.Context, subjectID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	id := subjectID

	ev := EventLog{
		EventType: eventType,
		SubjectID: &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event_type", eventType).
			Str("subject_id", subjectID.String()).
			Msg("failed to insert event log")
	}
}
