package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicflow/clinic-backend/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	bg := context.Background()

	doctors, err := seedDoctors(bg, pool, 40)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(bg, pool, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	rooms, err := seedRooms(bg, pool)
	if err != nil {
		log.Fatalf("seed rooms: %v", err)
	}
	if err := seedSchedulesAndSlots(bg, pool, doctors, rooms); err != nil {
		log.Fatalf("seed schedules: %v", err)
	}
	if err := seedMedicines(bg, pool, 120); err != nil {
		log.Fatalf("seed medicines: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"General Practice",
		"Cardiology",
		"Dermatology",
		"Pediatrics",
		"Orthopedics",
		"Neurology",
		"Endocrinology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()
			phone := gofakeit.Phone()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, phone, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, name, email, phone)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	return nil
}

func seedRooms(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	log.Println("seeding rooms")

	types := []struct {
		roomType string
		count    int
	}{
		{"consultation", 12},
		{"examination", 6},
		{"laboratory", 3},
		{"pharmacy", 1},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var ids []uuid.UUID
	for _, t := range types {
		for i := 1; i <= t.count; i++ {
			id := uuid.New()
			name := gofakeit.LetterN(1) + "-" + gofakeit.DigitN(3)

			_, err := tx.Exec(ctx, `
				INSERT INTO rooms (id, name, type, capacity, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, id, name, t.roomType, gofakeit.Number(1, 3))
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("rooms seeded")
	return ids, nil
}

// seedSchedulesAndSlots gives each doctor a morning shift with half-hour
// slots for the next 14 days.
func seedSchedulesAndSlots(ctx context.Context, pool *pgxpool.Pool, doctors, rooms []uuid.UUID) error {
	log.Printf("seeding schedules and timeslots for %d doctors", len(doctors))

	for day := 0; day < 14; day++ {
		date := time.Now().UTC().AddDate(0, 0, day+1).Truncate(24 * time.Hour)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i, doctorID := range doctors {
			room := rooms[i%len(rooms)]
			shiftStart := date.Add(9 * time.Hour)
			shiftEnd := date.Add(13 * time.Hour)

			_, err := tx.Exec(ctx, `
				INSERT INTO schedules (id, doctor_id, room_id, date, start_time, end_time, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			`, uuid.New(), doctorID, room, date, shiftStart, shiftEnd)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			for t := shiftStart; t.Before(shiftEnd); t = t.Add(30 * time.Minute) {
				_, err := tx.Exec(ctx, `
					INSERT INTO timeslots (id, doctor_id, date, start_time, end_time, max_patients, booked_count, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, 0, now(), now())
				`, uuid.New(), doctorID, date, t, t.Add(30*time.Minute), gofakeit.Number(1, 3))
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
		log.Printf("schedules seeded for day %d/14", day+1)
	}

	return nil
}

func seedMedicines(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d medicines", count)

	units := []string{"tablet", "capsule", "bottle", "tube", "ampoule"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.BeerName() + " " + gofakeit.DigitN(3) + "mg"
		unit := units[gofakeit.Number(0, len(units)-1)]
		price := int64(gofakeit.Number(500, 50000))

		_, err := tx.Exec(ctx, `
			INSERT INTO medicines (id, name, unit, price, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, unit, price)
		if err != nil {
			return err
		}

		// Two batches per medicine with staggered expiry.
		for b := 0; b < 2; b++ {
			expiry := time.Now().UTC().AddDate(0, gofakeit.Number(2, 18), 0)
			_, err := tx.Exec(ctx, `
				INSERT INTO stock_batches (id, medicine_id, batch_number, quantity, expiry_date, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now())
			`, uuid.New(), id, gofakeit.LetterN(2)+gofakeit.DigitN(5), gofakeit.Number(20, 200), expiry)
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("medicines seeded")
	return nil
}
