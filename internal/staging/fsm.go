package staging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var ErrInvalidTransition = fmt.Errorf("invalid state transition")

// State is the per-dataset staging progress. Transitions only move
// forward; there is no compensating rollback. A failed fetch leaves the
// dataset in StateFetching to be retried on the next run.
type State string

const (
	StatePending  State = "pending"
	StateFetching State = "fetching"
	StateIndexed  State = "indexed"
	StateStaged   State = "staged"
	StateLogged   State = "logged"
)

type FSM struct {
	mu          sync.Mutex
	transitions map[State]map[State]struct{}

	current State
	logger  *zap.Logger
}

type FSMOption func(*FSM)

func FSMWithLogger(logger *zap.Logger) FSMOption {
	return func(f *FSM) {
		f.logger = logger
	}
}

func NewFSM(opts ...FSMOption) *FSM {
	f := &FSM{
		current: StatePending,
		logger:  zap.NewNop(),

		transitions: map[State]map[State]struct{}{
			StatePending: {
				StateFetching: {},
			},
			StateFetching: {
				StateIndexed: {},
				// A crashed run resumes by fetching again.
				StateFetching: {},
			},
			StateIndexed: {
				StateStaged: {},
			},
			StateStaged: {
				StateLogged: {},
			},
			StateLogged: {},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FSM) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FSM) Transition(to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.transitions[f.current][to]; !ok {
		f.logger.Error("invalid state transition",
			zap.String("from", string(f.current)),
			zap.String("to", string(to)),
		)
		return ErrInvalidTransition
	}
	previous := f.current
	f.current = to

	f.logger.Debug("state transitioned",
		zap.String("state", string(f.current)),
		zap.String("from", string(previous)),
	)
	return nil
}
