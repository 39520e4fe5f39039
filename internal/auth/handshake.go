package auth

import (
	"fmt"
	"sync"
)

// State is a step of the three-legged handshake
type State int

const (
	StateNoToken State = iota
	StateTemporaryTokenRequested
	StateVerifierReceived
	StateAccessTokenIssued
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNoToken:
		return "no_token"
	case StateTemporaryTokenRequested:
		return "temporary_token_requested"
	case StateVerifierReceived:
		return "verifier_received"
	case StateAccessTokenIssued:
		return "access_token_issued"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition is possible
func (s State) IsTerminal() bool {
	return s == StateAccessTokenIssued || s == StateFailed
}

var transitions = map[State]State{
	StateNoToken:                 StateTemporaryTokenRequested,
	StateTemporaryTokenRequested: StateVerifierReceived,
	StateVerifierReceived:        StateAccessTokenIssued,
}

// Handshake tracks one authorization attempt
type Handshake struct {
	mu    sync.Mutex
	state State
	err   error
}

func newHandshake(state State) *Handshake {
	return &Handshake{state: state}
}

// State returns the current step
func (h *Handshake) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err returns the failure that ended the attempt, if any
func (h *Handshake) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handshake) advance(to State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if next, ok := transitions[h.state]; !ok || next != to {
		return fmt.Errorf("illegal handshake transition %s -> %s", h.state, to)
	}
	h.state = to
	return nil
}

// fail moves any non-terminal attempt to StateFailed
func (h *Handshake) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.IsTerminal() {
		return
	}
	h.state = StateFailed
	h.err = err
}
