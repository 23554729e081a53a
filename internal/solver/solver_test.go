package solver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmap-ml/solmap/internal/program"
	"github.com/solmap-ml/solmap/internal/solver"
)

func buildTutorial(t *testing.T) (*program.Program, *program.Parameter) {
	t.Helper()
	prog := program.New()
	x, err := prog.NewVariable("x")
	require.NoError(t, err)
	y, err := prog.NewVariable("y")
	require.NoError(t, err)
	z, err := prog.NewVariable("z")
	require.NoError(t, err)
	a, err := prog.NewParameter("a", 2.0)
	require.NoError(t, err)
	b, err := prog.NewParameter("b", 1.0)
	require.NoError(t, err)
	c, err := prog.NewParameter("c", 0.5)
	require.NoError(t, err)

	prog.Minimize(program.Sum(
		program.Mono(1).Pow(x, -1).Pow(y, -1).Pow(z, -1),
	))
	prog.SubjectTo(program.Sum(
		program.Mono(1).TimesParam(a).Pow(x, 1).Pow(y, 1),
		program.Mono(1).TimesParam(a).Pow(x, 1).Pow(z, 1),
		program.Mono(1).TimesParam(a).Pow(y, 1).Pow(z, 1),
	), program.Mono(1).TimesParam(b))
	prog.SubjectTo(program.Sum(
		program.Mono(1).PowParam(y, c).Pow(x, -1),
	), program.Mono(1))
	return prog, a
}

func TestSolveSimpleBound(t *testing.T) {
	// minimize x subject to x >= 1 (written 1/x <= 1): x* = 1.
	prog := program.New()
	x, err := prog.NewVariable("x")
	require.NoError(t, err)
	prog.Minimize(program.Sum(program.Mono(1).Pow(x, 1)))
	prog.SubjectTo(program.Sum(program.Mono(1).Pow(x, -1)), program.Mono(1))

	res, err := solver.Solve(prog, solver.DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Solution()["x"], 1e-6)
	assert.InDelta(t, 1.0, res.Lambda[0], 1e-6) // dual of the active bound
}

func TestSolveUpperBound(t *testing.T) {
	// minimize 1/x subject to x <= 2: x* = 2.
	prog := program.New()
	x, err := prog.NewVariable("x")
	require.NoError(t, err)
	prog.Minimize(program.Sum(program.Mono(1).Pow(x, -1)))
	prog.SubjectTo(program.Sum(program.Mono(1).Pow(x, 1)), program.Mono(2))

	res, err := solver.Solve(prog, solver.DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 2.0, res.Solution()["x"], 1e-6)
}

func TestSolveEquality(t *testing.T) {
	// minimize x + y subject to x*y == 1: x* = y* = 1.
	prog := program.New()
	x, err := prog.NewVariable("x")
	require.NoError(t, err)
	y, err := prog.NewVariable("y")
	require.NoError(t, err)
	prog.Minimize(program.Sum(program.Mono(1).Pow(x, 1), program.Mono(1).Pow(y, 1)))
	prog.SubjectToEqual(program.Mono(1).Pow(x, 1).Pow(y, 1), program.Mono(1))

	res, err := solver.Solve(prog, solver.DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Solution()["x"], 1e-6)
	assert.InDelta(t, 1.0, res.Solution()["y"], 1e-6)
	require.Len(t, res.Nu, 1)
}

func TestSolveTutorial(t *testing.T) {
	prog, _ := buildTutorial(t)

	res, err := solver.Solve(prog, solver.DefaultOptions())
	require.NoError(t, err)

	sol := res.Solution()
	assert.InDelta(t, 0.5612, sol["x"], 1e-3)
	assert.InDelta(t, 0.3150, sol["y"], 1e-3)
	assert.InDelta(t, 0.3689, sol["z"], 1e-3)

	assert.Less(t, res.Residual, 1e-8)
	assert.Less(t, res.Gap, 1e-8)
	assert.True(t, res.DerivativeSupport())
	assert.Greater(t, res.ComplementarityMargin, 1e-3,
		"both constraints are active with positive multipliers")
	assert.False(t, res.Stale())
}

func TestZeroOptionsUseDefaults(t *testing.T) {
	prog, _ := buildTutorial(t)

	res, err := solver.Solve(prog, solver.Options{})
	require.NoError(t, err)
	assert.InDelta(t, 0.5612, res.Solution()["x"], 1e-3)
}

func TestStaleAfterParameterChange(t *testing.T) {
	prog, a := buildTutorial(t)

	res, err := solver.Solve(prog, solver.DefaultOptions())
	require.NoError(t, err)
	require.False(t, res.Stale())

	a.SetValue(2.0) // same value still bumps the generation
	assert.True(t, res.Stale())
}

func TestNoObjective(t *testing.T) {
	prog := program.New()
	_, err := prog.NewVariable("x")
	require.NoError(t, err)

	_, err = solver.Solve(prog, solver.DefaultOptions())
	assert.ErrorIs(t, err, program.ErrNoObjective)
}

func TestUnboundedDoesNotConverge(t *testing.T) {
	// minimize 1/x subject to x >= 1 is unbounded below (x → ∞).
	prog := program.New()
	x, err := prog.NewVariable("x")
	require.NoError(t, err)
	prog.Minimize(program.Sum(program.Mono(1).Pow(x, -1)))
	prog.SubjectTo(program.Sum(program.Mono(1).Pow(x, -1)), program.Mono(1))

	opts := solver.DefaultOptions()
	opts.MaxIterations = 40
	_, err = solver.Solve(prog, opts)
	require.Error(t, err)
}

func TestDerivativeSupportDisabled(t *testing.T) {
	prog, _ := buildTutorial(t)

	opts := solver.DefaultOptions()
	opts.DerivativeSupport = false
	res, err := solver.Solve(prog, opts)
	require.NoError(t, err)
	assert.False(t, res.DerivativeSupport())
	assert.Nil(t, res.Lambda)
}

func TestNonPositiveCoefficientParameter(t *testing.T) {
	prog, a := buildTutorial(t)
	a.SetValue(-1)

	_, err := solver.Solve(prog, solver.DefaultOptions())
	assert.ErrorIs(t, err, program.ErrNonPositiveCoefficient)
}
