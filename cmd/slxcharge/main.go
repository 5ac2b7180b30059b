package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/slxcharge/slxcharge/pkg/adapter"
	"github.com/slxcharge/slxcharge/pkg/coordinator"
	"github.com/slxcharge/slxcharge/pkg/fileflag"
	"github.com/slxcharge/slxcharge/pkg/hass"
	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/mqttbridge"
	"github.com/slxcharge/slxcharge/pkg/server"
	"github.com/slxcharge/slxcharge/pkg/solar"
	"github.com/slxcharge/slxcharge/pkg/storage"
	"github.com/slxcharge/slxcharge/pkg/trips"
	"github.com/slxcharge/slxcharge/pkg/utility"
)

func main() {
	// init packages
	s := storage.Configured()
	ha := hass.Configured()
	bridge := mqttbridge.Configured()
	adapters := adapter.Configured(ha, bridge)
	u := utility.Configured()
	pv := solar.Configured()
	flags := fileflag.Configured()
	srv := server.Configured()

	odometerEntity := lflag.String("odometer-entity", "", "Home Assistant entity of the car odometer; empty disables trip prediction")
	locationName := lflag.String("location", "Local", "Time zone used for days, weekdays and the morning hour")
	refreshInterval := lflag.Duration("refresh-interval", coordinator.DefaultRefreshInterval, "How often odometer and plan are refreshed")
	vehicleProfile := lflag.String("vehicle-profile", "", "Optional YAML file with vehicle and charging settings")

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	}))
	log.SetDefaultLogger(logger)
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	if err := run(ctx, options{
		db:              s,
		ha:              ha,
		bridge:          bridge,
		adapters:        adapters,
		utilities:       u,
		solar:           pv,
		flags:           flags,
		srv:             srv,
		odometerEntity:  *odometerEntity,
		locationName:    *locationName,
		refreshInterval: *refreshInterval,
		vehicleProfile:  *vehicleProfile,
	}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "slxcharge failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "slxcharge exited cleanly")
}

type options struct {
	db        storage.Database
	ha        *hass.Client
	bridge    *mqttbridge.Bridge
	adapters  *adapter.Set
	utilities *utility.Map
	solar     *solar.ForecastSolar
	flags     *fileflag.Dir
	srv       *server.Server

	odometerEntity  string
	locationName    string
	refreshInterval time.Duration
	vehicleProfile  string
}

func run(ctx context.Context, o options) error {
	if err := o.adapters.Validate(); err != nil {
		return err
	}
	loc, err := time.LoadLocation(o.locationName)
	if err != nil {
		return fmt.Errorf("invalid location: %w", err)
	}
	settings, err := coordinator.LoadSettings(ctx, o.db, o.vehicleProfile)
	if err != nil {
		return err
	}

	opts := coordinator.Options{
		DB:              o.db,
		Settings:        settings,
		Car:             o.adapters.Car,
		Charger:         o.adapters.Charger,
		OdometerEntity:  o.odometerEntity,
		Flags:           o.flags,
		Exporter:        o.flags,
		Location:        loc,
		RefreshInterval: o.refreshInterval,
	}
	// nil interfaces keep the optional collaborators disabled
	var (
		stats   trips.StatisticsSource
		history trips.HistorySource
	)
	if o.ha.Enabled() {
		if err := o.ha.Validate(); err != nil {
			return err
		}
		stats, history = o.ha, o.ha
	}
	opts.Statistics, opts.History = stats, history
	if o.solar.Enabled() {
		if err := o.solar.Validate(); err != nil {
			return err
		}
		opts.Solar = o.solar
	}
	costs, ok, err := o.utilities.Active()
	if err != nil {
		return err
	}
	if ok {
		if v, ok := costs.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return err
			}
		}
		opts.Costs = costs
	}

	c := coordinator.New(opts)

	if o.bridge.Enabled() {
		if err := o.bridge.Connect(ctx, c); err != nil {
			return err
		}
		defer o.bridge.Close()
	}

	o.srv.SetEngine(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- c.Run(ctx)
	}()
	go func() {
		errCh <- o.srv.Run(ctx)
	}()

	// the first to return stops the other
	err = <-errCh
	stopped := ctx.Err() != nil
	cancel()
	<-errCh
	if err != nil && !stopped {
		return err
	}
	return nil
}
