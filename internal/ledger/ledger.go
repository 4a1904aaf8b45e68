// Package ledger tracks ownership of the two device-shared resources.
package ledger

import "fmt"

// Resource names the two peripherals a single device multiplexes.
type Resource string

const (
	Mic Resource = "mic"
	Spk Resource = "spk"
)

// State is one ownership state for a Resource.
type State string

const (
	Available        State = "available"
	OwnedByController State = "owned_by_controller"
	OwnedByDevice     State = "owned_by_device"
	Paused            State = "paused"
)

// Ledger is the controller's authoritative record of mic/spk ownership.
//
// It is mutated only by the session controller's single event-loop
// goroutine; it holds no internal locking because nothing else is allowed
// to touch it concurrently (see SPEC_FULL.md §5).
type Ledger struct {
	mic State
	spk State
}

// New returns a ledger with both resources available.
func New() *Ledger {
	return &Ledger{mic: Available, spk: Available}
}

// Mic returns the current mic ownership state.
func (l *Ledger) Mic() State { return l.mic }

// Spk returns the current spk ownership state.
func (l *Ledger) Spk() State { return l.spk }

// Set assigns a new state to a resource.
func (l *Ledger) Set(resource Resource, state State) {
	switch resource {
	case Mic:
		l.mic = state
	case Spk:
		l.spk = state
	}
}

// ErrInvariantViolated marks a resource-ownership invariant violation; per
// SPEC_FULL.md §7 this is a programming-error fault, not a recoverable one.
type ErrInvariantViolated struct {
	Reason string
}

func (e *ErrInvariantViolated) Error() string {
	return fmt.Sprintf("resource_invariant_violated: %s", e.Reason)
}

// CheckNotBothDeviceOwned enforces P1: mic and spk are never both
// owned_by_device at the same instant.
func (l *Ledger) CheckNotBothDeviceOwned() error {
	if l.mic == OwnedByDevice && l.spk == OwnedByDevice {
		return &ErrInvariantViolated{Reason: "mic and spk are both owned_by_device"}
	}
	return nil
}

// CheckEnterPlayingBack enforces the entry guard for PlayingBack: mic must
// not be owned_by_device.
func (l *Ledger) CheckEnterPlayingBack() error {
	if l.mic == OwnedByDevice {
		return &ErrInvariantViolated{Reason: "entering playing_back with mic owned_by_device"}
	}
	return nil
}

// CheckEnterCapturing enforces the entry guard for Capturing: spk must not
// be owned_by_device.
func (l *Ledger) CheckEnterCapturing() error {
	if l.spk == OwnedByDevice {
		return &ErrInvariantViolated{Reason: "entering capturing with spk owned_by_device"}
	}
	return nil
}

// CheckEnterIdle enforces the entry guard for Idle: both resources must be
// available.
func (l *Ledger) CheckEnterIdle() error {
	if l.mic != Available || l.spk != Available {
		return &ErrInvariantViolated{Reason: fmt.Sprintf("entering idle with mic=%s spk=%s", l.mic, l.spk)}
	}
	return nil
}

// Reset returns both resources to available.
func (l *Ledger) Reset() {
	l.mic = Available
	l.spk = Available
}
