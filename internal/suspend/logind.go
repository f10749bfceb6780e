package suspend

import (
	"context"

	"codeberg.org/mutker/fanctl/internal/logger"
	"github.com/godbus/dbus/v5"
)

const (
	logindPath      = dbus.ObjectPath("/org/freedesktop/login1")
	logindInterface = "org.freedesktop.login1.Manager"
	prepareForSleep = "PrepareForSleep"
	signalBuffer    = 8
)

// ListenLogind forwards systemd-logind PrepareForSleep signals to the
// coordinator until ctx is cancelled. If the system bus is unavailable the
// daemon keeps running without suspend handling.
func ListenLogind(ctx context.Context, coordinator *Coordinator, log logger.Logger) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		log.Warn().Err(err).Msg("System bus unavailable, suspend/resume will not be tracked")
		<-ctx.Done()
		return nil
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(logindPath),
		dbus.WithMatchInterface(logindInterface),
		dbus.WithMatchMember(prepareForSleep),
	); err != nil {
		log.Warn().Err(err).Msg("Failed to subscribe to logind sleep signals")
		<-ctx.Done()
		return nil
	}

	signals := make(chan *dbus.Signal, signalBuffer)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	log.Debug().Msg("Listening for logind sleep signals")

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			suspended, valid := parsePrepareForSleep(sig)
			if !valid {
				continue
			}
			if suspended {
				log.Info().Msg("System is suspending")
			} else {
				log.Info().Msg("System resumed")
			}
			coordinator.Publish(suspended)
		}
	}
}

func parsePrepareForSleep(sig *dbus.Signal) (bool, bool) {
	if sig == nil || sig.Name != logindInterface+"."+prepareForSleep || len(sig.Body) == 0 {
		return false, false
	}
	suspended, ok := sig.Body[0].(bool)
	return suspended, ok
}
