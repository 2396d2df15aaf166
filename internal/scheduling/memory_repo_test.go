package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryRepo is an in-memory Repository for tests. Reserve and release
// mutate under a mutex so the capacity invariant holds for concurrent
// callers, mirroring the single-statement conditional updates of the
// SQL implementation.
type memoryRepo struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]*Patient
	doctors      map[uuid.UUID]*Doctor
	rooms        map[uuid.UUID]*Room
	schedules    map[uuid.UUID]*Schedule
	slots        map[uuid.UUID]*Timeslot
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		patients:     make(map[uuid.UUID]*Patient),
		doctors:      make(map[uuid.UUID]*Doctor),
		rooms:        make(map[uuid.UUID]*Room),
		schedules:    make(map[uuid.UUID]*Schedule),
		slots:        make(map[uuid.UUID]*Timeslot),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (r *memoryRepo) addPatient() *Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &Patient{ID: uuid.New(), Name: "Test Patient"}
	r.patients[p.ID] = p
	return p
}

func (r *memoryRepo) addDoctor() *Doctor {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := &Doctor{ID: uuid.New(), Name: "Test Doctor"}
	r.doctors[d.ID] = d
	return d
}

func (r *memoryRepo) addRoom(roomType RoomType) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := &Room{ID: uuid.New(), Name: "A-101", Type: roomType, Capacity: 1}
	r.rooms[room.ID] = room
	return room
}

func (r *memoryRepo) addSlot(doctorID uuid.UUID, date time.Time, maxPatients int) *Timeslot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Timeslot{
		ID:          uuid.New(),
		DoctorID:    doctorID,
		Date:        date,
		StartTime:   date.Add(9 * time.Hour),
		EndTime:     date.Add(9*time.Hour + 30*time.Minute),
		MaxPatients: maxPatients,
	}
	r.slots[s.ID] = s
	return s
}

func (r *memoryRepo) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memoryRepo) GetRoomByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	cp := *room
	return &cp, nil
}

func (r *memoryRepo) CreateRoom(ctx context.Context, room *Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room.ID == uuid.Nil {
		room.ID = uuid.New()
	}
	cp := *room
	r.rooms[room.ID] = &cp
	return nil
}

func (r *memoryRepo) RoomHasSchedulesAfter(ctx context.Context, roomID uuid.UUID, after time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.schedules {
		if s.RoomID == roomID && s.EndTime.After(after) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[id]; !ok {
		return ErrRoomNotFound
	}
	delete(r.rooms, id)
	return nil
}

func (r *memoryRepo) ListRooms(ctx context.Context, roomType *RoomType) ([]Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Room
	for _, room := range r.rooms {
		if roomType != nil && room.Type != *roomType {
			continue
		}
		result = append(result, *room)
	}
	return result, nil
}

func (r *memoryRepo) CreateSchedule(ctx context.Context, sched *Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sched.ID == uuid.Nil {
		sched.ID = uuid.New()
	}
	cp := *sched
	r.schedules[sched.ID] = &cp
	return nil
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func (r *memoryRepo) ListSchedulesOverlapping(ctx context.Context, roomID *uuid.UUID, date time.Time, start, end time.Time) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Schedule
	for _, s := range r.schedules {
		if !s.Date.Equal(date) {
			continue
		}
		if roomID != nil && s.RoomID != *roomID {
			continue
		}
		if overlaps(s.StartTime, s.EndTime, start, end) {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (r *memoryRepo) GetSlotByID(ctx context.Context, id uuid.UUID) (*Timeslot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memoryRepo) CreateSlot(ctx context.Context, slot *Timeslot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	cp := *slot
	r.slots[slot.ID] = &cp
	return nil
}

func (r *memoryRepo) FindOpenSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Timeslot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Timeslot
	for _, s := range r.slots {
		if s.DoctorID == doctorID && s.Date.Equal(date) && s.BookedCount < s.MaxPatients {
			result = append(result, *s)
		}
	}
	return result, nil
}

func (r *memoryRepo) ReserveSlot(ctx context.Context, slotID uuid.UUID) (*Timeslot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if s.BookedCount >= s.MaxPatients {
		return nil, ErrSlotFull
	}
	s.BookedCount++
	cp := *s
	return &cp, nil
}

func (r *memoryRepo) ReleaseSlot(ctx context.Context, slotID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[slotID]
	if !ok {
		return false, ErrSlotNotFound
	}
	if s.BookedCount == 0 {
		return false, nil
	}
	s.BookedCount--
	return true, nil
}

func (r *memoryRepo) CreateAppointment(ctx context.Context, appt *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	cp := *appt
	r.appointments[appt.ID] = &cp
	return nil
}

func (r *memoryRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memoryRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	det := AppointmentDetail{Appointment: *a}
	if a.TimeslotID != nil {
		if s, ok := r.slots[*a.TimeslotID]; ok {
			cp := *s
			det.Slot = &cp
		}
	}
	if p, ok := r.patients[a.PatientID]; ok {
		cp := *p
		det.Patient = &cp
	}
	if d, ok := r.doctors[a.DoctorID]; ok {
		cp := *d
		det.Doctor = &cp
	}
	return &det, nil
}

func (r *memoryRepo) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	cp := *a
	return &cp, nil
}

func (r *memoryRepo) CancelAppointment(ctx context.Context, id uuid.UUID, from AppointmentStatus, reason string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCancelled
	a.CancelReason = &reason
	cp := *a
	return &cp, nil
}

func (r *memoryRepo) MoveAppointmentToSlot(ctx context.Context, id, slotID uuid.UUID, date, start time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	sid := slotID
	a.TimeslotID = &sid
	a.Date = date
	a.StartTime = start
	cp := *a
	return &cp, nil
}

func (r *memoryRepo) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	r.mu.Lock()
	ids := make([]uuid.UUID, 0)
	for id, a := range r.appointments {
		if a.PatientID == patientID {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	var result []AppointmentDetail
	for _, id := range ids {
		det, err := r.GetAppointmentDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *det)
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *memoryRepo) ListAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]AppointmentDetail, error) {
	r.mu.Lock()
	ids := make([]uuid.UUID, 0)
	for id, a := range r.appointments {
		if a.TimeslotID != nil && *a.TimeslotID == slotID {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	var result []AppointmentDetail
	for _, id := range ids {
		det, err := r.GetAppointmentDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *det)
	}
	return result, nil
}

func (r *memoryRepo) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memoryRepo) eventCount(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.EventType == eventType {
			n++
		}
	}
	return n
}
