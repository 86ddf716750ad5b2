package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/hackgods/caresync-appointments/internal/appointment"
	"github.com/hackgods/caresync-appointments/internal/config"
	"github.com/hackgods/caresync-appointments/internal/db"
	"github.com/hackgods/caresync-appointments/internal/logging"
	"github.com/hackgods/caresync-appointments/internal/patient"
	"github.com/hackgods/caresync-appointments/internal/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	patientCount := getInt("SEED_PATIENTS", 60)
	planCount := getInt("SEED_PLANS", 40)
	horizon := getInt("SEED_HORIZON_DAYS", 45)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		return err
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	patients := patient.NewPgRepository(pool)
	ids, err := seedPatients(ctx, patients, faker, patientCount, logger)
	if err != nil {
		return err
	}

	svc := appointment.NewService(appointment.NewPgRepository(pool), nil, logger.Named("appointment"), nil)
	return seedPlans(ctx, svc, faker, ids, planCount, horizon, logger)
}

func seedPatients(ctx context.Context, repo *patient.PgRepository, faker *gofakeit.Faker, count int, logger *zap.Logger) ([]string, error) {
	logger.Info("seeding patients", zap.Int("count", count))

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		p := patient.Patient{
			ID:    "seed-" + faker.UUID(),
			Name:  faker.Name(),
			Email: faker.Email(),
		}
		email, err := patient.NormalizeEmail(p.Email)
		if err != nil {
			continue
		}
		p.Email = email

		saved, err := repo.Upsert(ctx, p)
		if errors.Is(err, patient.ErrEmailInUse) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("seed patient %d: %w", i, err)
		}
		ids = append(ids, saved.ID)
	}

	logger.Info("patients seeded", zap.Int("count", len(ids)))
	return ids, nil
}

// seedPlans books plans for the first patients at random eligible anchors.
// Collisions are expected once the calendar fills up and are skipped.
func seedPlans(ctx context.Context, svc *appointment.Service, faker *gofakeit.Faker, patientIDs []string, count, horizon int, logger *zap.Logger) error {
	if count > len(patientIDs) {
		count = len(patientIDs)
	}
	logger.Info("seeding plans", zap.Int("count", count), zap.Int("horizon_days", horizon))

	today := schedule.Localize(time.Now())
	booked, skipped := 0, 0

	for _, id := range patientIDs[:count] {
		anchor := schedule.NextEligibleDate(today.AddDays(faker.Number(1, horizon)))
		slot := schedule.Slots[faker.Number(0, len(schedule.Slots)-1)]

		_, err := svc.Book(ctx, appointment.BookRequest{
			PatientID: id,
			Date:      anchor.String(),
			TimeSlot:  string(slot),
		})
		switch {
		case err == nil:
			booked++
		case errors.Is(err, appointment.ErrConflict):
			skipped++
			logger.Debug("plan skipped", zap.String("patient_id", id), zap.String("anchor", anchor.String()), zap.Error(err))
		default:
			return fmt.Errorf("book plan for %s: %w", id, err)
		}
	}

	logger.Info("plans seeded", zap.Int("booked", booked), zap.Int("skipped", skipped))
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
