package sensitivity

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrapping structs below carry detail; match with errors.Is.
var (
	// ErrStaleState is returned when a parameter value changed after the
	// solve. Recoverable by re-solving.
	ErrStaleState = errors.New("sensitivity: solved state is stale")

	// ErrNonDifferentiable is returned when the optimum is not locally
	// unique/differentiable: strict complementarity fails, the active
	// constraint gradients are dependent (LICQ), or the KKT Jacobian is
	// singular. Not recoverable without changing the problem or the
	// parameter point.
	ErrNonDifferentiable = errors.New("sensitivity: solution map not differentiable at this point")

	// ErrMissingSeed is returned by reverse mode when every variable seed
	// is zero. The adjoint would be trivially zero; this library fails fast
	// instead of returning an all-zero gradient.
	ErrMissingSeed = errors.New("sensitivity: all variable seeds are zero")

	// ErrNoDerivativeSupport is returned when the result was produced with
	// Options.DerivativeSupport disabled.
	ErrNoDerivativeSupport = errors.New("sensitivity: result solved without derivative support")

	// ErrUnknownName is returned when a perturbation or seed references a
	// variable or parameter the program does not have.
	ErrUnknownName = errors.New("sensitivity: unknown name")
)

// StaleStateError reports the generation mismatch behind ErrStaleState.
type StaleStateError struct {
	SolvedGeneration  uint64
	CurrentGeneration uint64
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("sensitivity: solved state is stale (solved at generation %d, program at %d); re-solve first",
		e.SolvedGeneration, e.CurrentGeneration)
}

func (e *StaleStateError) Unwrap() error { return ErrStaleState }

// NonDifferentiableError reports why the KKT linearization is unusable.
type NonDifferentiableError struct {
	Reason string
	RCond  float64
}

func (e *NonDifferentiableError) Error() string {
	if e.RCond > 0 {
		return fmt.Sprintf("sensitivity: solution map not differentiable: %s (rcond %.3g)", e.Reason, e.RCond)
	}
	return fmt.Sprintf("sensitivity: solution map not differentiable: %s", e.Reason)
}

func (e *NonDifferentiableError) Unwrap() error { return ErrNonDifferentiable }
