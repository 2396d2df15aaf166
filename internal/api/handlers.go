package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicflow/clinic-backend/internal/scheduling"
)

func listTimeslotsHandler(alloc *scheduling.Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		date, err := parseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		slots, err := alloc.FindAvailable(r.Context(), doctorID, date)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]TimeslotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toTimeslotResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listAvailableRoomsHandler(alloc *scheduling.Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		date, err := parseDate(q.Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		start, err := parseClock(date, q.Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be HH:MM")
			return
		}
		end, err := parseClock(date, q.Get("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", "end must be HH:MM")
			return
		}

		var roomType *scheduling.RoomType
		if t := q.Get("type"); t != "" {
			rt := scheduling.RoomType(t)
			if !rt.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_room_type", "unknown room type")
				return
			}
			roomType = &rt
		}

		rooms, err := alloc.FindAvailableRooms(r.Context(), date, start, end, roomType)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		resp := make([]RoomResponse, 0, len(rooms))
		for _, room := range rooms {
			resp = append(resp, RoomResponse{ID: room.ID, Name: room.Name, Type: string(room.Type), Capacity: room.Capacity})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createRoomHandler(repo scheduling.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		rt := scheduling.RoomType(req.Type)
		if req.Name == "" || !rt.Valid() || req.Capacity < 1 {
			writeError(w, http.StatusBadRequest, "invalid_room", "name, valid type and capacity >= 1 are required")
			return
		}

		room := &scheduling.Room{Name: req.Name, Type: rt, Capacity: req.Capacity}
		if err := repo.CreateRoom(r.Context(), room); err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, RoomResponse{ID: room.ID, Name: room.Name, Type: string(room.Type), Capacity: room.Capacity})
	}
}

func deleteRoomHandler(alloc *scheduling.Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_room_id", "id must be a valid UUID")
			return
		}

		if err := alloc.DeleteRoom(r.Context(), roomID); err != nil {
			handleSchedulingError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func createScheduleHandler(alloc *scheduling.Allocator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		roomID, err := uuid.Parse(req.RoomID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_room_id", "room_id must be a valid UUID")
			return
		}
		date, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		start, err := parseClock(date, req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be HH:MM")
			return
		}
		end, err := parseClock(date, req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", "end must be HH:MM")
			return
		}

		sched := &scheduling.Schedule{DoctorID: doctorID, RoomID: roomID, Date: date, StartTime: start, EndTime: end}
		if err := alloc.CreateSchedule(r.Context(), sched); err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, sched)
	}
}

func createTimeslotHandler(repo scheduling.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTimeslotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		date, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		start, err := parseClock(date, req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be HH:MM")
			return
		}
		end, err := parseClock(date, req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", "end must be HH:MM")
			return
		}
		if !end.After(start) || req.MaxPatients < 1 {
			writeError(w, http.StatusBadRequest, "invalid_timeslot", "window must be non-empty and max_patients >= 1")
			return
		}

		slot := &scheduling.Timeslot{DoctorID: doctorID, Date: date, StartTime: start, EndTime: end, MaxPatients: req.MaxPatients}
		if err := repo.CreateSlot(r.Context(), slot); err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toTimeslotResponse(*slot))
	}
}

func bookAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
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
		slotID, err := uuid.Parse(req.TimeslotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timeslot_id", "timeslot_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), scheduling.BookParams{
			PatientID: patientID,
			DoctorID:  doctorID,
			SlotID:    slotID,
			Reason:    req.Reason,
			Confirmed: req.Confirmed,
		})
		if err != nil {
			handleSchedulingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func listAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if p := q.Get("patient_id"); p != "" {
			patientID, err := uuid.Parse(p)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			limit := intQuery(q.Get("limit"), 20)
			offset := intQuery(q.Get("offset"), 0)
			result, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
			if err != nil {
				handleSchedulingError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
			return
		}

		if s := q.Get("slot_id"); s != "" {
			slotID, err := uuid.Parse(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
				return
			}
			result, err := svc.ListAppointmentsBySlot(r.Context(), slotID)
			if err != nil {
				handleSchedulingError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
			return
		}

		writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or slot_id is required")
	}
}

type appointmentAction func(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)

func appointmentActionHandler(action appointmentAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := action(r.Context(), id)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		newSlotID, err := uuid.Parse(req.NewTimeslotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timeslot_id", "new_timeslot_id must be a valid UUID")
			return
		}

		appt, err := svc.Reschedule(r.Context(), id, newSlotID)
		if err != nil {
			handleSchedulingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func handleSchedulingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "timeslot_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotFull):
		writeError(w, http.StatusConflict, "timeslot_full", err.Error())
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, scheduling.ErrScheduleOverlap):
		writeError(w, http.StatusConflict, "schedule_overlap", err.Error())
	case errors.Is(err, scheduling.ErrRoomInUse):
		writeError(w, http.StatusConflict, "room_in_use", err.Error())
	case errors.Is(err, scheduling.ErrConflict):
		writeError(w, http.StatusConflict, "resource_contended", "resource is busy, please retry shortly")
	case errors.Is(err, scheduling.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "operation exceeded its deadline")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func intQuery(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
