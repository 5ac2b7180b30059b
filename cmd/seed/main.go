package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/storage"
	"github.com/slxcharge/slxcharge/pkg/types"
)

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	entity := lflag.String("odometer-entity", "sensor.car_odometer", "Entity the odometer history is stored under")
	weeks := 8
	lflag.JSON(&weeks, "weeks", weeks, "Number of weeks of history to generate")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// Simulation state
	const (
		CommuteKM     = 38.0
		WeekendTripKM = 70.0
		StartKM       = 12000.0
	)
	km := StartKM

	now := time.Now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -7*weeks)
	samples := []types.OdometerSample{{TS: day, KM: km}}

	for ; day.Before(now); day = day.AddDate(0, 0, 1) {
		var trips []float64
		switch day.Weekday() {
		case time.Saturday:
			// occasional longer trip
			if rng.Float64() < 0.6 {
				trips = []float64{WeekendTripKM * (0.5 + rng.Float64())}
			}
		case time.Sunday:
			if rng.Float64() < 0.3 {
				trips = []float64{10 + rng.Float64()*20}
			}
		default:
			// morning and evening commute, sometimes with an errand
			trips = []float64{CommuteKM/2 + rng.Float64()*2, CommuteKM/2 + rng.Float64()*2}
			if rng.Float64() < 0.25 {
				trips = append(trips, 5+rng.Float64()*10)
			}
		}

		for i, d := range trips {
			ts := day.Add(time.Duration(7+5*i) * time.Hour).Add(time.Duration(rng.Intn(60)) * time.Minute)
			if ts.After(now) {
				break
			}
			km += d
			samples = append(samples, types.OdometerSample{TS: ts, KM: km})
		}
		fmt.Printf("Seeded %s (%s): %d trips, odometer %.1f km\n",
			day.Format(time.DateOnly), day.Weekday(), len(trips), km)
	}

	if err := s.SaveOdometer(ctx, *entity, samples); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed odometer", "error", err)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data successfully", "samples", len(samples))
}
