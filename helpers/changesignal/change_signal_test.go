package changesignal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChangeSignal(t *testing.T) {
	s := New()
	ch0 := s.Chan()
	select {
	case <-ch0:
		t.Fatal("the channel is closed before any broadcast")
	default:
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ch0
	}()
	s.Broadcast()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("the waiter was not woken up")
	}

	ch1 := s.Chan()
	require.NotEqual(t, ch0, ch1)
	select {
	case <-ch1:
		t.Fatal("the new channel must be open")
	default:
	}
}
