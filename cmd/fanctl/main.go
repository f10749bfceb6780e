package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/fanctl/internal/api"
	"codeberg.org/mutker/fanctl/internal/config"
	"codeberg.org/mutker/fanctl/internal/device"
	"codeberg.org/mutker/fanctl/internal/errors"
	"codeberg.org/mutker/fanctl/internal/fancontrol"
	"codeberg.org/mutker/fanctl/internal/logger"
	"codeberg.org/mutker/fanctl/internal/pid"
	"codeberg.org/mutker/fanctl/internal/profile"
	"codeberg.org/mutker/fanctl/internal/suspend"
	"codeberg.org/mutker/fanctl/internal/telemetry"
	"github.com/oklog/run"
	"github.com/spf13/pflag"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, logger.IsService())
	logger.Debug().Msg("Config loaded")

	if err := daemon(cfg); err != nil {
		var appErr errors.Error
		if errors.As(err, &appErr) {
			logger.FatalWithCode(appErr).Msg("fanctl stopped")
		}
		logger.Fatal().Err(err).Msg("fanctl stopped")
	}
}

func daemon(cfg *config.Config) error {
	log := logger.New("main")

	if err := pid.Write(cfg.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(cfg.PIDFile); err != nil {
			log.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	dev, power, err := openDevice(cfg, log)
	if err != nil {
		return err
	}
	defer dev.Close()
	defer power.Close()

	// start from a known state; controllers seed from what firmware set
	if err := dev.SetAuto(); err != nil {
		log.Warn().Err(err).Msg("Failed to enable automatic fan control")
	}

	collector, err := telemetry.NewService(telemetryConfig(cfg.Telemetry), logger.New("telemetry"))
	if err != nil {
		return err
	}
	defer collector.Close()

	coordinator := suspend.NewCoordinator()

	store := profile.NewStore(cfg.ProfileDir, logger.New("profile"))
	if err := store.Init(); err != nil {
		log.Warn().Err(err).Str("dir", cfg.ProfileDir).Msg("Failed to create profile directories")
	}

	fanCount := dev.FanCount()
	profiles := store.LoadOrDefault(fanCount)

	controllers := make([]*fancontrol.Controller, 0, fanCount)
	for fan := 0; fan < fanCount; fan++ {
		var fanPower device.PowerLimit = device.NopPowerLimit{}
		if fan == 0 {
			fanPower = power
		}

		sub := coordinator.Subscribe()
		defer sub.Close()

		c, err := fancontrol.New(dev, profiles[fan], fancontrol.Options{
			Index:         fan,
			Cadence:       cadenceFor(cfg.Control),
			HistorySize:   cfg.Control.HistorySize,
			OverrideLease: cfg.Control.OverrideLease,
			PowerLimit:    fanPower,
			Suspend:       sub,
			Recorder:      collector,
			Logger:        logger.New("fancontrol"),
		})
		if err != nil {
			return err
		}
		controllers = append(controllers, c)
	}

	apply := func(ctx context.Context, profiles []fancontrol.Profile) error {
		var errs []error
		for i, c := range controllers {
			if err := c.UpdateProfile(ctx, profiles[i]); err != nil {
				log.Error().Err(err).Int("fan", c.Index()).Msg("Failed to apply fan profile")
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	reload := func(ctx context.Context) error {
		return store.Reload(ctx, fanCount, apply)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	for _, c := range controllers {
		c := c
		g.Add(func() error {
			return c.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	g.Add(func() error {
		return suspend.ListenLogind(ctx, coordinator, logger.New("suspend"))
	}, func(error) {
		cancel()
	})

	g.Add(func() error {
		if err := store.Watch(ctx, fanCount, apply); err != nil {
			log.Warn().Err(err).Msg("Profile watcher unavailable, reload with SIGHUP")
			<-ctx.Done()
		}
		return nil
	}, func(error) {
		cancel()
	})

	g.Add(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				if err := reload(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to reload fan profiles, keeping current profiles")
				}
			}
		}
	}, func(error) {
		cancel()
	})

	if cfg.API.Listen != "" {
		fans := make([]api.FanController, 0, len(controllers))
		for _, c := range controllers {
			fans = append(fans, c)
		}
		server := api.NewServer(fans, reload, logger.New("api"))

		g.Add(func() error {
			if err := server.Start(cfg.API.Listen); err != nil {
				log.Error().Err(err).Str("listen", cfg.API.Listen).Msg("API server failed")
				<-ctx.Done()
			}
			return nil
		}, func(error) {
			cancel()
			if err := server.Shutdown(); err != nil {
				log.Warn().Err(err).Msg("Failed to shut down API server")
			}
		})
	}

	log.Info().
		Int("fans", fanCount).
		Str("backend", cfg.Device.Backend).
		Str("cadence", cfg.Control.Cadence).
		Msg("fanctl started")

	err = g.Run()

	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		log.Info().Str("signal", sigErr.Signal.String()).Msg("Received termination signal")
		err = nil
	}

	restoreDefaults(dev, power, log)

	return err
}

// restoreDefaults hands the fans back to firmware and resets the power
// limit.
func restoreDefaults(dev device.Device, power device.PowerLimit, log logger.Logger) {
	if err := power.Set(0); err != nil {
		log.Error().Err(err).Msg("Failed to reset power limit")
	}
	if err := dev.SetAuto(); err != nil {
		log.Error().Err(err).Msg("Failed to enable automatic fan control")
	}
	log.Info().Msg("Exiting...")
}
