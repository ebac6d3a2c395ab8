package spiflash

import "fmt"

// EraseState is the lifecycle of a chip erase session.
type EraseState int

const (
	EraseIdle EraseState = iota
	EraseErasing
	EraseDone
)

func (s EraseState) String() string {
	switch s {
	case EraseIdle:
		return "idle"
	case EraseErasing:
		return "erasing"
	case EraseDone:
		return "done"
	default:
		return fmt.Sprintf("EraseState(%d)", int(s))
	}
}

// StateError reports an erase session operation invoked from the wrong
// state. It signals caller misuse, not a hardware fault.
type StateError struct {
	Op    string
	State EraseState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("erase session: %s not valid in state %q", e.Op, e.State)
}

// EraseSession tracks an asynchronous whole-chip erase from request to
// completion. The erase is slow, so the session never blocks: callers
// schedule repeated Poll calls until it reports done.
type EraseSession struct {
	dev   *Device
	state EraseState
}

// NewEraseSession returns an idle session for dev.
func NewEraseSession(dev *Device) *EraseSession {
	return &EraseSession{dev: dev}
}

// State returns the current session state.
func (s *EraseSession) State() EraseState {
	return s.state
}

// Start asserts write enable and issues the chip erase command.
// Valid only from the idle state.
func (s *EraseSession) Start() error {
	if s.state != EraseIdle {
		return &StateError{Op: "start", State: s.state}
	}
	if err := s.dev.SetWriteEnable(true); err != nil {
		return err
	}
	if err := s.dev.EraseChip(); err != nil {
		return err
	}
	s.state = EraseErasing
	return nil
}

// Poll checks whether the erase has completed. While the chip reports
// busy it returns false and the session stays in the erasing state.
// On the first poll that observes busy deasserted it clears the write
// enable latch, moves to done and returns true. Polling an idle or
// finished session is a usage error.
func (s *EraseSession) Poll() (bool, error) {
	if s.state != EraseErasing {
		return false, &StateError{Op: "poll", State: s.state}
	}
	busy, err := s.dev.Busy()
	if err != nil {
		return false, err
	}
	if busy {
		return false, nil
	}
	if err := s.dev.SetWriteEnable(false); err != nil {
		return false, err
	}
	s.state = EraseDone
	return true, nil
}
