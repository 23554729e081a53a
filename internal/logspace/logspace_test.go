package logspace_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/solmap-ml/solmap/internal/logspace"
	"github.com/solmap-ml/solmap/internal/program"
)

// buildTutorial compiles the running example:
//
//	minimize 1/(x*y*z) s.t. a*(xy+xz+yz) <= b, x >= y^c
func buildTutorial(t *testing.T) (*program.Program, *logspace.Form) {
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

	form, err := logspace.Compile(prog)
	require.NoError(t, err)
	return prog, form
}

func TestCompileShapes(t *testing.T) {
	_, form := buildTutorial(t)

	assert.Equal(t, 3, form.NumVars)
	assert.Equal(t, 3, form.NumParams)
	assert.Equal(t, []string{"x", "y", "z"}, form.VarNames)
	assert.Equal(t, []string{"a", "b", "c"}, form.ParamNames)
	assert.Len(t, form.Objective.Terms, 1)
	require.Len(t, form.Ineqs, 2)
	assert.Len(t, form.Ineqs[0].Terms, 3)
	assert.Len(t, form.Ineqs[1].Terms, 1)
	assert.Empty(t, form.Eqs)
}

func TestValidateParams(t *testing.T) {
	_, form := buildTutorial(t)

	require.NoError(t, form.ValidateParams([]float64{2, 1, 0.5}))
	// c is an exponent parameter, so it may be negative...
	require.NoError(t, form.ValidateParams([]float64{2, 1, -0.5}))
	// ...but the coefficient parameters a and b may not.
	assert.ErrorIs(t, form.ValidateParams([]float64{-2, 1, 0.5}), logspace.ErrNonPositiveParam)
	assert.ErrorIs(t, form.ValidateParams([]float64{2, 0, 0.5}), logspace.ErrNonPositiveParam)
	assert.Error(t, form.ValidateParams([]float64{2, 1}))
}

func TestGradMatchesFiniteDifferences(t *testing.T) {
	_, form := buildTutorial(t)
	u := []float64{-0.5, -1.0, -0.9}
	alpha := []float64{2, 1, 0.5}

	for i, lse := range append([]logspace.LogSumExp{form.Objective}, form.Ineqs...) {
		analytic := make([]float64, 3)
		lse.Grad(analytic, u, alpha)

		lse := lse
		numeric := fd.Gradient(nil, func(v []float64) float64 {
			return lse.Value(v, alpha)
		}, u, nil)

		for k := range analytic {
			assert.InDelta(t, numeric[k], analytic[k], 1e-5, "lse %d component %d", i, k)
		}
	}
}

func TestHessianMatchesFiniteDifferences(t *testing.T) {
	_, form := buildTutorial(t)
	u := []float64{-0.5, -1.0, -0.9}
	alpha := []float64{2, 1, 0.5}
	lse := form.Ineqs[0]

	hess := mat.NewDense(3, 3, nil)
	lse.AddHessian(hess, 1, u, alpha)

	// Central differences of the analytic gradient.
	const h = 1e-6
	for k := 0; k < 3; k++ {
		up := append([]float64(nil), u...)
		dn := append([]float64(nil), u...)
		up[k] += h
		dn[k] -= h
		gUp := make([]float64, 3)
		gDn := make([]float64, 3)
		lse.Grad(gUp, up, alpha)
		lse.Grad(gDn, dn, alpha)
		for j := 0; j < 3; j++ {
			assert.InDelta(t, (gUp[j]-gDn[j])/(2*h), hess.At(j, k), 1e-5, "entry (%d,%d)", j, k)
		}
	}
}

func TestHessianScaleAccumulates(t *testing.T) {
	_, form := buildTutorial(t)
	u := []float64{-0.5, -1.0, -0.9}
	alpha := []float64{2, 1, 0.5}
	lse := form.Ineqs[0]

	once := mat.NewDense(3, 3, nil)
	lse.AddHessian(once, 2.5, u, alpha)
	twice := mat.NewDense(3, 3, nil)
	lse.AddHessian(twice, 1, u, alpha)
	lse.AddHessian(twice, 1.5, u, alpha)

	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			assert.InDelta(t, once.At(r, c), twice.At(r, c), 1e-12)
		}
	}
}

func TestParamGradMatchesFiniteDifferences(t *testing.T) {
	_, form := buildTutorial(t)
	u := []float64{-0.5, -1.0, -0.9}
	alpha := []float64{2, 1, 0.5}

	for i, lse := range append([]logspace.LogSumExp{form.Objective}, form.Ineqs...) {
		analytic := make([]float64, 3)
		lse.AddParamGrad(analytic, 1, u, alpha)

		lse := lse
		numeric := fd.Gradient(nil, func(v []float64) float64 {
			return lse.Value(u, v)
		}, alpha, nil)

		for j := range analytic {
			assert.InDelta(t, numeric[j], analytic[j], 1e-5, "lse %d parameter %d", i, j)
		}
	}
}

func TestMixedMatchesFiniteDifferences(t *testing.T) {
	_, form := buildTutorial(t)
	u := []float64{-0.5, -1.0, -0.9}
	alpha := []float64{2, 1, 0.5}

	for i, lse := range append([]logspace.LogSumExp{form.Objective}, form.Ineqs...) {
		mixed := mat.NewDense(3, 3, nil)
		lse.AddMixed(mixed, 1, u, alpha)

		// Central differences over α of the analytic u-gradient.
		const h = 1e-6
		for j := 0; j < 3; j++ {
			up := append([]float64(nil), alpha...)
			dn := append([]float64(nil), alpha...)
			up[j] += h
			dn[j] -= h
			gUp := make([]float64, 3)
			gDn := make([]float64, 3)
			lse.Grad(gUp, u, up)
			lse.Grad(gDn, u, dn)
			for k := 0; k < 3; k++ {
				assert.InDelta(t, (gUp[k]-gDn[k])/(2*h), mixed.At(k, j), 1e-5,
					"lse %d entry (%d,%d)", i, k, j)
			}
		}
	}
}

func TestEqualityTermCanonicalization(t *testing.T) {
	prog := program.New()
	x, err := prog.NewVariable("x")
	require.NoError(t, err)
	y, err := prog.NewVariable("y")
	require.NoError(t, err)

	prog.Minimize(program.Sum(program.Mono(1).Pow(x, 1), program.Mono(1).Pow(y, 1)))
	// x*y == 4  =>  log x + log y - log 4 = 0
	prog.SubjectToEqual(program.Mono(1).Pow(x, 1).Pow(y, 1), program.Mono(4))

	form, err := logspace.Compile(prog)
	require.NoError(t, err)
	require.Len(t, form.Eqs, 1)

	// At x=y=2 (u = log 2 each) the equality holds.
	u := []float64{0.6931471805599453, 0.6931471805599453}
	assert.InDelta(t, 0, form.Eqs[0].Value(u, nil), 1e-12)

	a := make([]float64, 2)
	form.Eqs[0].Exponents(a, nil)
	assert.Equal(t, []float64{1, 1}, a)
}
