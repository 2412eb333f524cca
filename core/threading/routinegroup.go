package threading

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// RoutineGroup runs routines and waits for all of them, unlike errgroup it
// does not stop at the first failure: every error is kept.
type RoutineGroup struct {
	waitGroup sync.WaitGroup
	mu        sync.Mutex
	errs      *multierror.Error
}

// NewRoutineGroup creates a new RoutineGroup.
func NewRoutineGroup() *RoutineGroup {
	return &RoutineGroup{}
}

// Run runs fn in a goroutine of the group, recovers if fn panics.
func (g *RoutineGroup) Run(fn func() error) {
	g.waitGroup.Add(1)

	GoSafe(func() {
		defer g.waitGroup.Done()
		if err := fn(); err != nil {
			g.mu.Lock()
			g.errs = multierror.Append(g.errs, err)
			g.mu.Unlock()
		}
	})
}

// Wait waits all routines to finish and returns their combined errors.
func (g *RoutineGroup) Wait() error {
	g.waitGroup.Wait()

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errs.ErrorOrNil()
}
