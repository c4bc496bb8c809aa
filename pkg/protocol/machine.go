package protocol

import (
	"time"

	"github.com/lightforgemedia/go-notebooksync/pkg/topic"
)

// Option configures a Machine.
type Option func(*machineConfig)

type machineConfig struct {
	token            string
	priority         []topic.Kind
	subscribeTimeout time.Duration
}

// WithToken seeds the bearer token used when check-auth reports the
// connection as unauthenticated.
func WithToken(token string) Option {
	return func(c *machineConfig) {
		c.token = token
	}
}

// WithPriority overrides which kind is requested first.
func WithPriority(kinds ...topic.Kind) Option {
	return func(c *machineConfig) {
		c.priority = kinds
	}
}

// WithSubscribeTimeout fails a subscription that is not confirmed in d.
// Zero disables the timeout.
func WithSubscribeTimeout(d time.Duration) Option {
	return func(c *machineConfig) {
		if d >= 0 {
			c.subscribeTimeout = d
		}
	}
}

// Machine holds the current State and applies events one at a time. It is
// not safe for concurrent use; callers serialize events.
type Machine struct {
	state State
}

// NewMachine returns a machine in the Idle phase.
func NewMachine(opts ...Option) *Machine {
	var cfg machineConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Machine{state: NewState(cfg.token, cfg.priority, cfg.subscribeTimeout)}
}

// Step applies ev and returns the effects to execute.
func (m *Machine) Step(ev Event) []Effect {
	next, fx := Transition(m.state, ev)
	m.state = next
	return fx
}

// State returns the current state. The registry is shared; callers must not
// mutate it.
func (m *Machine) State() State {
	return m.state
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	return m.state.Phase
}

// Snapshot is a copy of the machine state safe to hand to other goroutines.
type Snapshot struct {
	Phase   Phase
	Auth    AuthStatus
	Targets []topic.Entry
	Pending []topic.Intent
}

// Snapshot copies the observable parts of the state.
func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		Phase:   m.state.Phase,
		Auth:    m.state.Auth,
		Targets: m.state.Subs.Entries(m.state.Priority),
		Pending: m.state.Subs.Pending(),
	}
}
