package transport

import (
	"context"
	"time"

	"github.com/fentz26/tether/internal/models"
)

// outcome is a single-resolution result cell. The first Resolve wins; every
// later Resolve is a no-op. Wait blocks until the cell is resolved.
type outcome struct {
	ch chan error
}

func newOutcome() *outcome {
	return &outcome{ch: make(chan error, 1)}
}

// Resolve records the result. It reports whether this call won the race.
func (o *outcome) Resolve(err error) bool {
	select {
	case o.ch <- err:
		return true
	default:
		return false
	}
}

// Wait returns the winning result.
func (o *outcome) Wait() error {
	return <-o.ch
}

// ConnectPairing performs a pairing connect attempt: the dial races a fixed
// timeout window and exactly one of them resolves the caller. The losing
// branch is cancelled the instant the other resolves. A nil return means the
// channel is connected.
func (t *Transport) ConnectPairing(ctx context.Context, d *models.ConnectionDescriptor) error {
	cell := newOutcome()

	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()

	timer := time.NewTimer(t.cfg.PairingTimeout)
	defer timer.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := t.Connect(dialCtx, d)
		if cell.Resolve(err) {
			timer.Stop()
			return
		}
		// Lost the race to the timer but the dial still succeeded: the
		// caller already saw a timeout, so tear the connection down.
		if err == nil {
			t.Disconnect()
		}
	}()

	go func() {
		select {
		case <-timer.C:
			if cell.Resolve(ErrConnectionTimeout) {
				cancelDial()
				t.mu.Lock()
				if t.state.Phase == PhaseConnecting {
					t.setStateLocked(State{Phase: PhaseFailed, Reason: ErrConnectionTimeout.Error()})
				}
				t.mu.Unlock()
			}
		case <-ctx.Done():
			if cell.Resolve(&CloseError{Reason: CloseCancel, Err: ctx.Err()}) {
				cancelDial()
			}
		case <-done:
			// The connect branch finished. If it somehow failed to
			// resolve the cell, code the failure rather than hang
			// the caller.
			cell.Resolve(ErrConnectionCleanup)
		}
	}()

	err := cell.Wait()
	if err == nil {
		return nil
	}
	return err
}
