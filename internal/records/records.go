package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrRecordNotFound = errors.New("medical record not found")
	// ErrRecordExists guards the one-record-per-appointment rule.
	ErrRecordExists = errors.New("appointment already has a medical record")
)

type MedicalRecord struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Diagnosis     string
	Notes         string
	ExamResults   string
	LabTests      string
	Attachments   []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Repository interface {
	CreateRecord(ctx context.Context, rec *MedicalRecord) error
	GetRecordByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	GetRecordByAppointment(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error)
}

type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("component", "medical_records").Logger(),
	}
}

// Create enforces one medical record per appointment: the unique index
// on appointment_id backs the pre-check.
func (s *Service) Create(ctx context.Context, rec *MedicalRecord) (*MedicalRecord, error) {
	if rec.AppointmentID == uuid.Nil || rec.PatientID == uuid.Nil || rec.DoctorID == uuid.Nil {
		return nil, errors.New("appointment, patient and doctor are required")
	}

	if _, err := s.repo.GetRecordByAppointment(ctx, rec.AppointmentID); err == nil {
		return nil, ErrRecordExists
	} else if !errors.Is(err, ErrRecordNotFound) {
		return nil, fmt.Errorf("check existing record: %w", err)
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if err := s.repo.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("create medical record: %w", err)
	}

	return rec, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return s.repo.GetRecordByID(ctx, id)
}

func (s *Service) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error) {
	return s.repo.GetRecordByAppointment(ctx, appointmentID)
}
