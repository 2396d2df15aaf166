package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinicflow/clinic-backend/internal/pharmacy"
	"github.com/clinicflow/clinic-backend/internal/records"
	"github.com/clinicflow/clinic-backend/internal/scheduling"
)

type RouterConfig struct {
	Scheduling     *scheduling.Service
	Allocator      *scheduling.Allocator
	SchedulingRepo scheduling.Repository
	Pipeline       *pharmacy.Pipeline
	Ledger         *pharmacy.Ledger
	PharmacyRepo   pharmacy.Repository
	Records        *records.Service
	PgPool         *pgxpool.Pool
	Redis          *redis.Client
	Env            string
	Version        string
	Log            zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/doctors/{id}/timeslots", listTimeslotsHandler(cfg.Allocator))

	r.Get("/rooms/available", listAvailableRoomsHandler(cfg.Allocator))
	r.Post("/rooms", createRoomHandler(cfg.SchedulingRepo))
	r.Delete("/rooms/{id}", deleteRoomHandler(cfg.Allocator))

	r.Post("/schedules", createScheduleHandler(cfg.Allocator))
	r.Post("/timeslots", createTimeslotHandler(cfg.SchedulingRepo))

	r.Post("/appointments", bookAppointmentHandler(cfg.Scheduling))
	r.Get("/appointments", listAppointmentsHandler(cfg.Scheduling))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Scheduling))
	r.Post("/appointments/{id}/confirm", appointmentActionHandler(cfg.Scheduling.Confirm))
	r.Post("/appointments/{id}/check-in", appointmentActionHandler(cfg.Scheduling.CheckIn))
	r.Post("/appointments/{id}/start", appointmentActionHandler(cfg.Scheduling.Start))
	r.Post("/appointments/{id}/complete", appointmentActionHandler(cfg.Scheduling.Complete))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Scheduling))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Scheduling))

	r.Post("/medical-records", createMedicalRecordHandler(cfg.Records))
	r.Get("/medical-records/{id}", getMedicalRecordHandler(cfg.Records))

	r.Post("/medicines", createMedicineHandler(cfg.PharmacyRepo))
	r.Get("/medicines/{id}/stock", getStockHandler(cfg.Ledger, cfg.PharmacyRepo))
	r.Post("/medicines/{id}/stock", creditStockHandler(cfg.Ledger))

	r.Post("/prescriptions", createPrescriptionHandler(cfg.Pipeline))
	r.Get("/prescriptions/{id}", getPrescriptionHandler(cfg.Pipeline))
	r.Post("/prescriptions/{id}/approve", prescriptionActionHandler(cfg.Pipeline.Approve))
	r.Post("/prescriptions/{id}/cancel", prescriptionActionHandler(cfg.Pipeline.CancelPrescription))
	r.Post("/prescriptions/{id}/invoice", createInvoiceHandler(cfg.Pipeline))
	r.Post("/prescriptions/{id}/dispense", dispenseHandler(cfg.Pipeline))

	r.Get("/invoices/{id}", getInvoiceHandler(cfg.Pipeline))
	r.Post("/invoices/{id}/pay", payInvoiceHandler(cfg.Pipeline))

	return r
}
