package telemetry

import (
	"context"

	"codeberg.org/mutker/fanctl/internal/errors"
	"codeberg.org/mutker/fanctl/internal/logger"
)

type service struct {
	sinks  []Repository
	logger logger.Logger
}

type noopCollector struct{}

// NewService builds the collector for cfg: a no-op when telemetry is
// disabled, otherwise a fan-out to the SQLite repository and the MQTT
// publisher, whichever are configured.
func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	s := &service{logger: log}

	if cfg.DBPath != "" {
		repo, err := NewRepository(cfg, log)
		if err != nil {
			return nil, err
		}
		s.sinks = append(s.sinks, repo)
	}

	if cfg.MQTT.Broker != "" {
		pub, err := NewMQTTPublisher(cfg.MQTT, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.sinks = append(s.sinks, pub)
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Str("mqtt_broker", cfg.MQTT.Broker).
		Msg("Telemetry service initialized")

	return s, nil
}

func (s *service) Record(ctx context.Context, snapshot *Snapshot) error {
	errFactory := errors.New()

	if snapshot == nil {
		return errFactory.New(ErrInvalidSnapshot)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Record(snapshot); err != nil && firstErr == nil {
			firstErr = errFactory.Wrap(ErrCollection, err)
		}
	}

	return firstErr
}

func (s *service) Close() error {
	errFactory := errors.New()

	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = errFactory.Wrap(ErrStorageClose, err)
		}
	}

	return firstErr
}

func (*noopCollector) Record(context.Context, *Snapshot) error {
	return nil
}

func (*noopCollector) Close() error {
	return nil
}
