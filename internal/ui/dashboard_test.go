package ui

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDashboard_StopUnblocksEventDrain(t *testing.T) {
	d := NewDashboard(log.New(io.Discard, "", 0))

	done := make(chan struct{})
	go func() {
		d.drainEvents()
		close(done)
	}()

	d.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain goroutine did not exit after Stop")
	}
}

func TestDashboard_StopIsIdempotent(t *testing.T) {
	d := NewDashboard(log.New(io.Discard, "", 0))
	require.NotPanics(t, func() {
		d.Stop()
		d.Stop()
	})
}
