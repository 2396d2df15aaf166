package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicflow/clinic-backend/internal/pharmacy"
	"github.com/clinicflow/clinic-backend/internal/records"
)

func createMedicineHandler(repo pharmacy.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateMedicineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Name == "" || req.Price < 0 {
			writeError(w, http.StatusBadRequest, "invalid_medicine", "name is required and price must be non-negative")
			return
		}

		med := &pharmacy.Medicine{Name: req.Name, Unit: req.Unit, Price: req.Price}
		if err := repo.CreateMedicine(r.Context(), med); err != nil {
			handlePharmacyError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, med)
	}
}

func getStockHandler(ledger *pharmacy.Ledger, repo pharmacy.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		medicineID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_medicine_id", "id must be a valid UUID")
			return
		}

		usable, err := ledger.UsableQuantity(r.Context(), medicineID)
		if err != nil {
			handlePharmacyError(w, err)
			return
		}

		batches, err := repo.ListBatches(r.Context(), medicineID)
		if err != nil {
			handlePharmacyError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, StockResponse{MedicineID: medicineID, Usable: usable, Batches: batches})
	}
}

func creditStockHandler(ledger *pharmacy.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		medicineID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_medicine_id", "id must be a valid UUID")
			return
		}

		var req CreditStockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.BatchNumber == "" {
			writeError(w, http.StatusBadRequest, "invalid_batch", "batch_number is required")
			return
		}

		batch, err := ledger.Credit(r.Context(), medicineID, req.BatchNumber, req.Quantity, req.ExpiryDate)
		if err != nil {
			handlePharmacyError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, batch)
	}
}

func createPrescriptionHandler(pipeline *pharmacy.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePrescriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appointmentID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		var recordID *uuid.UUID
		if req.MedicalRecordID != "" {
			rid, err := uuid.Parse(req.MedicalRecordID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_record_id", "medical_record_id must be a valid UUID")
				return
			}
			recordID = &rid
		}

		items := make([]pharmacy.PrescriptionItem, 0, len(req.Items))
		for _, it := range req.Items {
			medID, err := uuid.Parse(it.MedicineID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_medicine_id", "item medicine_id must be a valid UUID")
				return
			}
			items = append(items, pharmacy.PrescriptionItem{
				MedicineID:   medID,
				Quantity:     it.Quantity,
				UnitPrice:    it.UnitPrice,
				Dosage:       it.Dosage,
				Instructions: it.Instructions,
			})
		}

		presc, err := pipeline.CreatePrescription(r.Context(), pharmacy.CreatePrescriptionParams{
			AppointmentID:   appointmentID,
			MedicalRecordID: recordID,
			DoctorID:        doctorID,
			PatientID:       patientID,
			Items:           items,
		})
		if err != nil {
			handlePharmacyError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, presc)
	}
}

func getPrescriptionHandler(pipeline *pharmacy.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_prescription_id", "id must be a valid UUID")
			return
		}
		presc, err := pipeline.GetPrescription(r.Context(), id)
		if err != nil {
			handlePharmacyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, presc)
	}
}

type prescriptionAction func(ctx context.Context, id uuid.UUID) (*pharmacy.Prescription, error)

func prescriptionActionHandler(action prescriptionAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_prescription_id", "id must be a valid UUID")
			return
		}
		presc, err := action(r.Context(), id)
		if err != nil {
			handlePharmacyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, presc)
	}
}

func createInvoiceHandler(pipeline *pharmacy.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_prescription_id", "id must be a valid UUID")
			return
		}

		var req CreateInvoiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Discount < 0 || req.Tax < 0 {
			writeError(w, http.StatusBadRequest, "invalid_invoice", "discount and tax must be non-negative")
			return
		}

		inv, err := pipeline.CreateInvoiceFromPrescription(r.Context(), id, pharmacy.InvoiceParams{
			Discount:            req.Discount,
			Tax:                 req.Tax,
			WithConsultationFee: req.WithConsultationFee,
		})
		if err != nil {
			handlePharmacyError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, inv)
	}
}

func getInvoiceHandler(pipeline *pharmacy.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_invoice_id", "id must be a valid UUID")
			return
		}
		inv, err := pipeline.GetInvoice(r.Context(), id)
		if err != nil {
			handlePharmacyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	}
}

func payInvoiceHandler(pipeline *pharmacy.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_invoice_id", "id must be a valid UUID")
			return
		}

		var req PayInvoiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Method == "" {
			req.Method = "cash"
		}

		inv, change, err := pipeline.Pay(r.Context(), id, req.Method, req.Amount)
		if err != nil {
			handlePharmacyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, PayInvoiceResponse{Invoice: inv, Change: change})
	}
}

func dispenseHandler(pipeline *pharmacy.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_prescription_id", "id must be a valid UUID")
			return
		}

		var req DispenseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		lines := make([]pharmacy.DispenseLine, 0, len(req.Items))
		for _, it := range req.Items {
			medID, err := uuid.Parse(it.MedicineID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_medicine_id", "item medicine_id must be a valid UUID")
				return
			}
			lines = append(lines, pharmacy.DispenseLine{MedicineID: medID, Quantity: it.Quantity})
		}

		record, err := pipeline.Dispense(r.Context(), id, lines)
		if err != nil {
			handlePharmacyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	}
}

func createMedicalRecordHandler(svc *records.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateMedicalRecordRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appointmentID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		rec, err := svc.Create(r.Context(), &records.MedicalRecord{
			AppointmentID: appointmentID,
			PatientID:     patientID,
			DoctorID:      doctorID,
			Diagnosis:     req.Diagnosis,
			Notes:         req.Notes,
			ExamResults:   req.ExamResults,
			LabTests:      req.LabTests,
			Attachments:   req.Attachments,
		})
		if err != nil {
			handleRecordsError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func getMedicalRecordHandler(svc *records.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_record_id", "id must be a valid UUID")
			return
		}
		rec, err := svc.Get(r.Context(), id)
		if err != nil {
			handleRecordsError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handlePharmacyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pharmacy.ErrMedicineNotFound):
		writeError(w, http.StatusNotFound, "medicine_not_found", err.Error())
	case errors.Is(err, pharmacy.ErrPrescriptionNotFound):
		writeError(w, http.StatusNotFound, "prescription_not_found", err.Error())
	case errors.Is(err, pharmacy.ErrInvoiceNotFound):
		writeError(w, http.StatusNotFound, "invoice_not_found", err.Error())
	case errors.Is(err, pharmacy.ErrInsufficientStock):
		writeError(w, http.StatusConflict, "insufficient_stock", err.Error())
	case errors.Is(err, pharmacy.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, pharmacy.ErrAlreadyInvoiced):
		writeError(w, http.StatusConflict, "already_invoiced", err.Error())
	case errors.Is(err, pharmacy.ErrInvoiceUnpaid):
		writeError(w, http.StatusConflict, "invoice_unpaid", err.Error())
	case errors.Is(err, pharmacy.ErrDispenseExceeds):
		writeError(w, http.StatusBadRequest, "dispense_exceeds_prescribed", err.Error())
	case errors.Is(err, pharmacy.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, "invalid_item", err.Error())
	case errors.Is(err, pharmacy.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_amount", err.Error())
	case errors.Is(err, pharmacy.ErrConflict):
		writeError(w, http.StatusConflict, "resource_contended", "resource is busy, please retry shortly")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "operation exceeded its deadline")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleRecordsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, records.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "record_not_found", err.Error())
	case errors.Is(err, records.ErrRecordExists):
		writeError(w, http.StatusConflict, "record_exists", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "operation exceeded its deadline")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
