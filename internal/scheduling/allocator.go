package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicflow/clinic-backend/internal/config"
	"github.com/clinicflow/clinic-backend/internal/lock"
)

var (
	ErrInvalidRange = errors.New("time window is empty or inverted")
	// ErrConflict means the resource stayed contended through all retry
	// attempts; the caller may simply try again.
	ErrConflict        = errors.New("resource is contended, please retry")
	ErrScheduleOverlap = errors.New("schedule overlaps an existing schedule for the room")
	ErrRoomInUse       = errors.New("room has future schedules and cannot be deleted")
)

// Allocator owns timeslot capacity and room/schedule windows. It is the
// only component that mutates booked_count.
type Allocator struct {
	repo   Repository
	locker lock.Locker
	cfg    config.Config
	log    zerolog.Logger
}

func NewAllocator(repo Repository, locker lock.Locker, cfg config.Config, log zerolog.Logger) *Allocator {
	return &Allocator{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log.With().Str("component", "timeslot_allocator").Logger(),
	}
}

func slotKey(id uuid.UUID) string {
	return fmt.Sprintf("timeslot:%s", id)
}

func roomScheduleKey(id uuid.UUID) string {
	return fmt.Sprintf("room-schedule:%s", id)
}

func (a *Allocator) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.OperationDeadline)
}

// FindAvailable returns the doctor's timeslots on the date that still
// have spare capacity, ordered by start time.
func (a *Allocator) FindAvailable(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Timeslot, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	if _, err := a.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return a.repo.FindOpenSlots(ctx, doctorID, date)
}

// FindAvailableRooms returns rooms of the given type with no schedule
// intersecting the requested window. A nil roomType matches all types.
func (a *Allocator) FindAvailableRooms(ctx context.Context, date time.Time, start, end time.Time, roomType *RoomType) ([]Room, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	if !end.After(start) {
		return nil, ErrInvalidRange
	}

	rooms, err := a.repo.ListRooms(ctx, roomType)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	busySchedules, err := a.repo.ListSchedulesOverlapping(ctx, nil, date, start, end)
	if err != nil {
		return nil, fmt.Errorf("list overlapping schedules: %w", err)
	}

	busy := make(map[uuid.UUID]bool, len(busySchedules))
	for _, s := range busySchedules {
		busy[s.RoomID] = true
	}

	available := make([]Room, 0, len(rooms))
	for _, r := range rooms {
		if !busy[r.ID] {
			available = append(available, r)
		}
	}
	return available, nil
}

// Reserve takes one unit of slot capacity. Exactly one of N concurrent
// callers past capacity is rejected with ErrSlotFull; lock contention
// that outlives the retry budget surfaces as ErrConflict.
func (a *Allocator) Reserve(ctx context.Context, slotID uuid.UUID) (*Timeslot, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	var reserved *Timeslot
	err := lock.WithRetry(ctx, a.locker, slotKey(slotID), a.cfg.RetryAttempts, a.cfg.RetryBackoff, func(lockCtx context.Context) error {
		slot, err := a.repo.ReserveSlot(lockCtx, slotID)
		if err != nil {
			return err
		}
		reserved = slot
		return nil
	})
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrConflict
		}
		return nil, err
	}

	return reserved, nil
}

// Release gives one unit of capacity back. A decrement that would go
// below zero indicates a prior accounting bug: it is logged at error
// level and swallowed, never surfaced to the user.
func (a *Allocator) Release(ctx context.Context, slotID uuid.UUID) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	err := lock.WithRetry(ctx, a.locker, slotKey(slotID), a.cfg.RetryAttempts, a.cfg.RetryBackoff, func(lockCtx context.Context) error {
		ok, err := a.repo.ReleaseSlot(lockCtx, slotID)
		if err != nil {
			return err
		}
		if !ok {
			a.log.Error().
				Str("timeslot_id", slotID.String()).
				Msg("consistency error: release hit booked_count floor")
		}
		return nil
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return ErrConflict
	}
	return err
}

// Reschedule moves a reservation between slots. The new slot is reserved
// first; the old one is released only after that succeeds, so a failed
// reserve leaves the old reservation untouched.
func (a *Allocator) Reschedule(ctx context.Context, oldSlotID, newSlotID uuid.UUID) (*Timeslot, error) {
	if oldSlotID == newSlotID {
		return a.repo.GetSlotByID(ctx, oldSlotID)
	}

	newSlot, err := a.Reserve(ctx, newSlotID)
	if err != nil {
		return nil, err
	}

	if err := a.Release(ctx, oldSlotID); err != nil {
		a.log.Error().
			Err(err).
			Str("timeslot_id", oldSlotID.String()).
			Msg("failed to release old slot after reschedule")
	}

	return newSlot, nil
}

// CreateSchedule inserts a working block after checking the room-overlap
// invariant. The check and the insert run under the room's lock so two
// concurrent creations cannot both pass the check.
func (a *Allocator) CreateSchedule(ctx context.Context, sched *Schedule) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	if !sched.EndTime.After(sched.StartTime) {
		return ErrInvalidRange
	}
	if _, err := a.repo.GetRoomByID(ctx, sched.RoomID); err != nil {
		return err
	}
	if _, err := a.repo.GetDoctorByID(ctx, sched.DoctorID); err != nil {
		return err
	}

	err := lock.WithRetry(ctx, a.locker, roomScheduleKey(sched.RoomID), a.cfg.RetryAttempts, a.cfg.RetryBackoff, func(lockCtx context.Context) error {
		roomID := sched.RoomID
		existing, err := a.repo.ListSchedulesOverlapping(lockCtx, &roomID, sched.Date, sched.StartTime, sched.EndTime)
		if err != nil {
			return fmt.Errorf("check schedule overlap: %w", err)
		}
		if len(existing) > 0 {
			return ErrScheduleOverlap
		}
		return a.repo.CreateSchedule(lockCtx, sched)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return ErrConflict
	}
	return err
}

// DeleteRoom refuses to remove a room that still has future schedules.
func (a *Allocator) DeleteRoom(ctx context.Context, roomID uuid.UUID) error {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	if _, err := a.repo.GetRoomByID(ctx, roomID); err != nil {
		return err
	}

	inUse, err := a.repo.RoomHasSchedulesAfter(ctx, roomID, time.Now())
	if err != nil {
		return fmt.Errorf("check room schedules: %w", err)
	}
	if inUse {
		return ErrRoomInUse
	}

	return a.repo.DeleteRoom(ctx, roomID)
}
