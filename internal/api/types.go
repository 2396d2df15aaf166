package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/clinic-backend/internal/pharmacy"
	"github.com/clinicflow/clinic-backend/internal/scheduling"
)

type BookAppointmentRequest struct {
	PatientID  string `json:"patient_id"`
	DoctorID   string `json:"doctor_id"`
	TimeslotID string `json:"timeslot_id"`
	Reason     string `json:"reason"`
	Confirmed  bool   `json:"confirmed"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type RescheduleAppointmentRequest struct {
	NewTimeslotID string `json:"new_timeslot_id"`
}

type AppointmentResponse struct {
	ID           uuid.UUID  `json:"id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	DoctorID     uuid.UUID  `json:"doctor_id"`
	TimeslotID   *uuid.UUID `json:"timeslot_id,omitempty"`
	Date         time.Time  `json:"date"`
	StartTime    time.Time  `json:"start_time"`
	Reason       string     `json:"reason"`
	Status       string     `json:"status"`
	CancelReason *string    `json:"cancel_reason,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		DoctorID:     a.DoctorID,
		TimeslotID:   a.TimeslotID,
		Date:         a.Date,
		StartTime:    a.StartTime,
		Reason:       a.Reason,
		Status:       string(a.Status),
		CancelReason: a.CancelReason,
	}
}

type TimeslotResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	Date        time.Time `json:"date"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	MaxPatients int       `json:"max_patients"`
	BookedCount int       `json:"booked_count"`
}

func toTimeslotResponse(s scheduling.Timeslot) TimeslotResponse {
	return TimeslotResponse{
		ID:          s.ID,
		DoctorID:    s.DoctorID,
		Date:        s.Date,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		MaxPatients: s.MaxPatients,
		BookedCount: s.BookedCount,
	}
}

type RoomResponse struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	Capacity int       `json:"capacity"`
}

type CreateRoomRequest struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Capacity int    `json:"capacity"`
}

type CreateScheduleRequest struct {
	DoctorID string `json:"doctor_id"`
	RoomID   string `json:"room_id"`
	Date     string `json:"date"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type CreateTimeslotRequest struct {
	DoctorID    string `json:"doctor_id"`
	Date        string `json:"date"`
	Start       string `json:"start"`
	End         string `json:"end"`
	MaxPatients int    `json:"max_patients"`
}

type CreateMedicineRequest struct {
	Name  string `json:"name"`
	Unit  string `json:"unit"`
	Price int64  `json:"price"`
}

type CreditStockRequest struct {
	BatchNumber string    `json:"batch_number"`
	Quantity    int       `json:"quantity"`
	ExpiryDate  time.Time `json:"expiry_date"`
}

type StockResponse struct {
	MedicineID uuid.UUID            `json:"medicine_id"`
	Usable     int                  `json:"usable"`
	Batches    []pharmacy.StockBatch `json:"batches,omitempty"`
}

type PrescriptionItemRequest struct {
	MedicineID   string `json:"medicine_id"`
	Quantity     int    `json:"quantity"`
	UnitPrice    int64  `json:"unit_price"`
	Dosage       string `json:"dosage"`
	Instructions string `json:"instructions"`
}

type CreatePrescriptionRequest struct {
	AppointmentID   string                    `json:"appointment_id"`
	MedicalRecordID string                    `json:"medical_record_id,omitempty"`
	DoctorID        string                    `json:"doctor_id"`
	PatientID       string                    `json:"patient_id"`
	Items           []PrescriptionItemRequest `json:"items"`
}

type CreateInvoiceRequest struct {
	Discount            int64 `json:"discount"`
	Tax                 int64 `json:"tax"`
	WithConsultationFee bool  `json:"with_consultation_fee"`
}

type PayInvoiceRequest struct {
	Method string `json:"method"`
	Amount int64  `json:"amount"`
}

type PayInvoiceResponse struct {
	Invoice *pharmacy.Invoice `json:"invoice"`
	Change  int64             `json:"change"`
}

type DispenseLineRequest struct {
	MedicineID string `json:"medicine_id"`
	Quantity   int    `json:"quantity"`
}

type DispenseRequest struct {
	Items []DispenseLineRequest `json:"items"`
}

type CreateMedicalRecordRequest struct {
	AppointmentID string   `json:"appointment_id"`
	PatientID     string   `json:"patient_id"`
	DoctorID      string   `json:"doctor_id"`
	Diagnosis     string   `json:"diagnosis"`
	Notes         string   `json:"notes"`
	ExamResults   string   `json:"exam_results"`
	LabTests      string   `json:"lab_tests"`
	Attachments   []string `json:"attachments"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
