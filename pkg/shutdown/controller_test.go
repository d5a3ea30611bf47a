package shutdown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManual_ShouldShutdown_FalseUntilTriggered(t *testing.T) {
	c := Manual()
	require.False(t, c.ShouldShutdown())

	c.Trigger()
	require.True(t, c.ShouldShutdown())
}

func TestManual_Trigger_IsIdempotent(t *testing.T) {
	c := Manual()
	require.NotPanics(t, func() {
		c.Trigger()
		c.Trigger()
		c.Trigger()
	})
	require.True(t, c.ShouldShutdown())
}

func TestManual_Done_ClosesOnTrigger(t *testing.T) {
	c := Manual()

	select {
	case <-c.Done():
		t.Fatal("Done channel closed before Trigger was called")
	default:
	}

	c.Trigger()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done channel did not close after Trigger")
	}
}

func TestManual_TriggerConcurrently_NeverPanics(t *testing.T) {
	c := Manual()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			c.Trigger()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	require.True(t, c.ShouldShutdown())
}
