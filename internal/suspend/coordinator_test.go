package suspend

import (
	"context"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeRequiresFullCycle(t *testing.T) {
	coordinator := NewCoordinator()
	sub := coordinator.Subscribe()

	assert.False(t, sub.Consume())

	coordinator.Publish(true)
	assert.False(t, sub.Consume())
	assert.True(t, sub.Suspended())

	coordinator.Publish(false)
	assert.True(t, sub.Consume())
	assert.False(t, sub.Suspended())

	// already consumed
	assert.False(t, sub.Consume())
}

func TestResumeWithoutSuspendIsIgnored(t *testing.T) {
	coordinator := NewCoordinator()
	coordinator.Publish(true)

	sub := coordinator.Subscribe()
	coordinator.Publish(false)

	assert.False(t, sub.Consume())
}

func TestPublishDeduplicatesState(t *testing.T) {
	coordinator := NewCoordinator()
	sub := coordinator.Subscribe()

	coordinator.Publish(false)
	coordinator.Publish(true)
	coordinator.Publish(true)

	assert.False(t, sub.Consume())
	assert.True(t, coordinator.Suspended())
}

func TestSubscribersObserveIndependently(t *testing.T) {
	coordinator := NewCoordinator()
	first := coordinator.Subscribe()
	second := coordinator.Subscribe()

	coordinator.Publish(true)
	coordinator.Publish(false)

	assert.True(t, first.Consume())
	assert.True(t, second.Consume())
}

func TestSlowSubscriberKeepsHistory(t *testing.T) {
	coordinator := NewCoordinator()
	fast := coordinator.Subscribe()
	slow := coordinator.Subscribe()

	for i := 0; i < 3; i++ {
		coordinator.Publish(true)
		coordinator.Publish(false)
		assert.True(t, fast.Consume())
	}

	assert.True(t, slow.Consume())

	coordinator.mu.Lock()
	assert.Empty(t, coordinator.events)
	coordinator.mu.Unlock()
}

func TestCloseReleasesHistory(t *testing.T) {
	coordinator := NewCoordinator()
	sub := coordinator.Subscribe()
	coordinator.Publish(true)

	sub.Close()

	coordinator.mu.Lock()
	assert.Empty(t, coordinator.events)
	coordinator.mu.Unlock()
	assert.False(t, sub.Consume())
}

func TestChangedClosesOnPublish(t *testing.T) {
	coordinator := NewCoordinator()
	sub := coordinator.Subscribe()
	changed := sub.Changed()

	coordinator.Publish(true)

	select {
	case <-changed:
	default:
		t.Fatal("Changed channel not closed after Publish")
	}
}

func TestWaitReturnsAfterCycle(t *testing.T) {
	coordinator := NewCoordinator()
	sub := coordinator.Subscribe()
	done := make(chan error, 1)

	go func() {
		done <- sub.Wait(context.Background())
	}()

	coordinator.Publish(true)
	coordinator.Publish(false)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after suspend/resume cycle")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	coordinator := NewCoordinator()
	sub := coordinator.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sub.Wait(ctx), context.Canceled)
}

func TestParsePrepareForSleep(t *testing.T) {
	suspended, ok := parsePrepareForSleep(&dbus.Signal{
		Name: "org.freedesktop.login1.Manager.PrepareForSleep",
		Body: []interface{}{true},
	})
	assert.True(t, ok)
	assert.True(t, suspended)

	_, ok = parsePrepareForSleep(&dbus.Signal{
		Name: "org.freedesktop.login1.Manager.PrepareForShutdown",
		Body: []interface{}{true},
	})
	assert.False(t, ok)

	_, ok = parsePrepareForSleep(&dbus.Signal{
		Name: "org.freedesktop.login1.Manager.PrepareForSleep",
		Body: []interface{}{"yes"},
	})
	assert.False(t, ok)
}
