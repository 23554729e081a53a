// Package solver implements a primal-dual interior-point method for
// geometric programs in log-space form.
//
// The compiled form (see internal/logspace) is smooth and convex:
//
//	minimize  f(u)        (log-sum-exp)
//	s.t.      g_i(u) ≤ 0  (log-sum-exp)
//	          h_j(u) = 0  (affine)
//
// The method introduces slacks s > 0 and inequality duals λ > 0, keeps the
// equality duals ν free, and drives the perturbed KKT residual
//
//	r_d = ∇f + Dgᵀλ + Aᵀν
//	r_p = g + s
//	r_e = h
//	r_c = λ∘s − μ
//
// to zero with damped Newton steps, shrinking the barrier parameter
// μ = σ·sᵀλ/m each iteration. Infeasible starts are fine: primal and
// equality residuals enter the Newton system directly.
package solver

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/solmap-ml/solmap/internal/logspace"
	"github.com/solmap-ml/solmap/internal/program"
)

// Sentinel errors.
var (
	// ErrNotConverged is returned when the iteration limit is reached before
	// the residuals drop below the tolerance. Unbounded or infeasible
	// programs typically surface this way.
	ErrNotConverged = errors.New("solver: interior-point iteration did not converge")

	// ErrSingularSystem is returned when the Newton system cannot be solved.
	ErrSingularSystem = errors.New("solver: singular Newton system")
)

// Options configures a solve.
type Options struct {
	// Tolerance bounds the final KKT residuals and the duality gap.
	Tolerance float64

	// MaxIterations caps the number of Newton iterations.
	MaxIterations int

	// Sigma is the centering factor: each iteration targets μ = Sigma·sᵀλ/m.
	Sigma float64

	// DerivativeSupport keeps the dual variables and the frozen parameter
	// snapshot on the Result so the sensitivity engine can differentiate the
	// solution map. Disabling it yields a Result that can only report the
	// optimum.
	DerivativeSupport bool

	// Logger receives per-iteration progress at Debug level. Nil means no
	// logging.
	Logger *zap.Logger
}

// DefaultOptions returns the options used by Solve when callers have no
// special needs.
func DefaultOptions() Options {
	return Options{
		Tolerance:         1e-9,
		MaxIterations:     200,
		Sigma:             0.1,
		DerivativeSupport: true,
	}
}

// Result is the frozen snapshot of a solved program: the optimal point, the
// duals, the compiled form and the parameter values it was solved at. It is
// read-only; the sensitivity engine depends on it staying untouched.
type Result struct {
	prog  *program.Program
	form  *logspace.Form
	gen   uint64
	alpha []float64

	// U is the log-space optimum, X = exp(U) the optimum of the original
	// positive variables.
	U []float64
	X []float64

	// Lambda and S are the inequality duals and slacks, Nu the equality
	// duals.
	Lambda []float64
	S      []float64
	Nu     []float64

	// Iterations, Residual and Gap describe the terminal iterate.
	Iterations int
	Residual   float64
	Gap        float64

	// ComplementarityMargin is min_i max(λ_i, s_i), the strict
	// complementarity certificate consumed by the sensitivity engine.
	// +Inf when the program has no inequality constraints.
	ComplementarityMargin float64

	derivSupport bool
}

// Form returns the compiled log-space form the program was solved in.
func (r *Result) Form() *logspace.Form { return r.form }

// ParamValues returns a copy of the parameter values at solve time.
func (r *Result) ParamValues() []float64 {
	return append([]float64(nil), r.alpha...)
}

// Generation returns the program generation this result was solved at.
func (r *Result) Generation() uint64 { return r.gen }

// Stale reports whether any parameter value has been set since the solve.
func (r *Result) Stale() bool { return r.gen != r.prog.Generation() }

// ProgramGeneration returns the owning program's current generation.
func (r *Result) ProgramGeneration() uint64 { return r.prog.Generation() }

// DerivativeSupport reports whether the result carries what the sensitivity
// engine needs.
func (r *Result) DerivativeSupport() bool { return r.derivSupport }

// Solution returns the optimal value of every variable by name.
func (r *Result) Solution() map[string]float64 {
	sol := make(map[string]float64, len(r.X))
	for i, name := range r.form.VarNames {
		sol[name] = r.X[i]
	}
	return sol
}

// Solve compiles and solves the program.
func Solve(p *program.Program, opts Options) (*Result, error) {
	form, err := logspace.Compile(p)
	if err != nil {
		return nil, err
	}
	alpha := p.ParameterValues()
	if err := form.ValidateParams(alpha); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultOptions().Tolerance
	}
	if opts.Sigma <= 0 || opts.Sigma >= 1 {
		opts.Sigma = DefaultOptions().Sigma
	}

	it := newIterate(form, alpha)
	iters, err := it.run(opts, logger)
	if err != nil {
		return nil, err
	}

	res := &Result{
		prog:       p,
		form:       form,
		gen:        p.Generation(),
		alpha:      alpha,
		U:          it.u,
		X:          make([]float64, len(it.u)),
		Iterations: iters,
		Residual:   it.residualNorm(),
		Gap:        it.gap(),
	}
	for i, ui := range it.u {
		res.X[i] = math.Exp(ui)
	}
	res.ComplementarityMargin = math.Inf(1)
	for i := range it.lam {
		if m := math.Max(it.lam[i], it.s[i]); m < res.ComplementarityMargin {
			res.ComplementarityMargin = m
		}
	}
	if opts.DerivativeSupport {
		res.derivSupport = true
		res.Lambda = it.lam
		res.S = it.s
		res.Nu = it.nu
	}
	return res, nil
}

// iterate holds the primal-dual point and scratch state for one solve.
type iterate struct {
	form  *logspace.Form
	alpha []float64
	n     int // variables
	m     int // inequalities
	k     int // equalities

	u   []float64
	lam []float64
	nu  []float64
	s   []float64

	// evaluated at u
	gradF []float64
	g     []float64
	dg    *mat.Dense // m×n
	h     []float64
	aEq   *mat.Dense // k×n
}

func newIterate(form *logspace.Form, alpha []float64) *iterate {
	n, m, k := form.NumVars, len(form.Ineqs), len(form.Eqs)
	it := &iterate{
		form:  form,
		alpha: alpha,
		n:     n,
		m:     m,
		k:     k,
		u:     make([]float64, n),
		lam:   make([]float64, m),
		nu:    make([]float64, k),
		s:     make([]float64, m),
		gradF: make([]float64, n),
		g:     make([]float64, m),
		dg:    mat.NewDense(max(m, 1), n, nil),
		h:     make([]float64, k),
		aEq:   mat.NewDense(max(k, 1), n, nil),
	}
	it.eval()
	for i := 0; i < m; i++ {
		it.lam[i] = 1
		it.s[i] = math.Max(1, -it.g[i])
	}
	return it
}

// eval refreshes all form evaluations at the current u.
func (it *iterate) eval() {
	it.form.Objective.Grad(it.gradF, it.u, it.alpha)
	row := make([]float64, it.n)
	for i := range it.form.Ineqs {
		it.g[i] = it.form.Ineqs[i].Value(it.u, it.alpha)
		it.form.Ineqs[i].Grad(row, it.u, it.alpha)
		it.dg.SetRow(i, row)
	}
	for j := range it.form.Eqs {
		it.h[j] = it.form.Eqs[j].Value(it.u, it.alpha)
		it.form.Eqs[j].Exponents(row, it.alpha)
		it.aEq.SetRow(j, row)
	}
}

// residuals writes the μ-perturbed KKT residual into dst (length n+m+k+m).
func (it *iterate) residuals(dst []float64, mu float64) {
	n, m, k := it.n, it.m, it.k
	for x := range dst {
		dst[x] = 0
	}
	copy(dst[:n], it.gradF)
	for i := 0; i < m; i++ {
		for c := 0; c < n; c++ {
			dst[c] += it.lam[i] * it.dg.At(i, c)
		}
		dst[n+i] = it.g[i] + it.s[i]
		dst[n+m+k+i] = it.lam[i]*it.s[i] - mu
	}
	for j := 0; j < k; j++ {
		for c := 0; c < n; c++ {
			dst[c] += it.nu[j] * it.aEq.At(j, c)
		}
		dst[n+m+j] = it.h[j]
	}
}

// residualNorm is the ∞-norm of the μ=0 KKT residual (without the
// complementarity rows; the gap covers those).
func (it *iterate) residualNorm() float64 {
	r := make([]float64, it.n+2*it.m+it.k)
	it.residuals(r, 0)
	norm := 0.0
	for _, v := range r[:it.n+it.m+it.k] {
		if a := math.Abs(v); a > norm {
			norm = a
		}
	}
	return norm
}

func (it *iterate) gap() float64 {
	if it.m == 0 {
		return 0
	}
	dot := 0.0
	for i := range it.lam {
		dot += it.lam[i] * it.s[i]
	}
	return dot / float64(it.m)
}

// newton assembles and solves the full Newton system for the step
// (Δu, Δλ, Δν, Δs) at barrier parameter μ.
func (it *iterate) newton(mu float64) ([]float64, error) {
	n, m, k := it.n, it.m, it.k
	dim := n + 2*m + k

	km := mat.NewDense(dim, dim, nil)

	// Hessian block: ∇²f + Σ λ_i ∇²g_i.
	hess := mat.NewDense(n, n, nil)
	it.form.Objective.AddHessian(hess, 1, it.u, it.alpha)
	for i := range it.form.Ineqs {
		it.form.Ineqs[i].AddHessian(hess, it.lam[i], it.u, it.alpha)
	}
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			km.Set(r, c, hess.At(r, c))
		}
	}
	for i := 0; i < m; i++ {
		for c := 0; c < n; c++ {
			km.Set(c, n+i, it.dg.At(i, c)) // Dgᵀ in dual rows
			km.Set(n+i, c, it.dg.At(i, c)) // Dg in primal rows
		}
		km.Set(n+i, n+m+k+i, 1)          // slack in primal rows
		km.Set(n+m+k+i, n+i, it.s[i])    // S in complementarity rows
		km.Set(n+m+k+i, n+m+k+i, it.lam[i]) // Λ in complementarity rows
	}
	for j := 0; j < k; j++ {
		for c := 0; c < n; c++ {
			km.Set(c, n+m+j, it.aEq.At(j, c)) // Aᵀ
			km.Set(n+m+j, c, it.aEq.At(j, c)) // A
		}
	}

	rhs := make([]float64, dim)
	it.residuals(rhs, mu)
	for x := range rhs {
		rhs[x] = -rhs[x]
	}

	var lu mat.LU
	lu.Factorize(km)
	step := mat.NewVecDense(dim, nil)
	if err := lu.SolveVecTo(step, false, mat.NewVecDense(dim, rhs)); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("%w: %v", ErrSingularSystem, err)
		}
		// Near-singular but usable; common close to convergence.
	}
	return step.RawVector().Data, nil
}

// run drives the iteration to convergence.
func (it *iterate) run(opts Options, logger *zap.Logger) (int, error) {
	n, m, k := it.n, it.m, it.k
	dim := n + 2*m + k
	trial := make([]float64, dim)

	for iter := 0; iter < opts.MaxIterations; iter++ {
		res := it.residualNorm()
		gap := it.gap()
		logger.Debug("interior-point iteration",
			zap.Int("iter", iter),
			zap.Float64("residual", res),
			zap.Float64("gap", gap))
		if res <= opts.Tolerance && gap <= opts.Tolerance {
			return iter, nil
		}

		mu := opts.Sigma * gap
		step, err := it.newton(mu)
		if err != nil {
			return iter, err
		}

		// Fraction-to-boundary: keep λ and s strictly positive.
		t := 1.0
		for i := 0; i < m; i++ {
			if dl := step[n+i]; dl < 0 {
				t = math.Min(t, -0.99*it.lam[i]/dl)
			}
			if ds := step[n+m+k+i]; ds < 0 {
				t = math.Min(t, -0.99*it.s[i]/ds)
			}
		}

		// Backtrack on the μ-residual norm.
		it.residuals(trial, mu)
		base := norm2(trial)
		for bt := 0; bt < 50; bt++ {
			probe := it.clone()
			probe.apply(step, t)
			probe.residuals(trial, mu)
			if norm2(trial) <= (1-0.01*t)*base || t < 1e-12 {
				*it = *probe
				break
			}
			t *= 0.5
		}
	}
	return opts.MaxIterations, fmt.Errorf("%w after %d iterations (residual %.3g, gap %.3g)",
		ErrNotConverged, opts.MaxIterations, it.residualNorm(), it.gap())
}

// apply moves the iterate along the step with step length t and refreshes
// the evaluations.
func (it *iterate) apply(step []float64, t float64) {
	n, m, k := it.n, it.m, it.k
	for c := 0; c < n; c++ {
		it.u[c] += t * step[c]
	}
	for i := 0; i < m; i++ {
		it.lam[i] += t * step[n+i]
		it.s[i] += t * step[n+m+k+i]
	}
	for j := 0; j < k; j++ {
		it.nu[j] += t * step[n+m+j]
	}
	it.eval()
}

func (it *iterate) clone() *iterate {
	cp := *it
	cp.u = append([]float64(nil), it.u...)
	cp.lam = append([]float64(nil), it.lam...)
	cp.nu = append([]float64(nil), it.nu...)
	cp.s = append([]float64(nil), it.s...)
	cp.gradF = append([]float64(nil), it.gradF...)
	cp.g = append([]float64(nil), it.g...)
	cp.h = append([]float64(nil), it.h...)
	cp.dg = mat.DenseCopyOf(it.dg)
	cp.aEq = mat.DenseCopyOf(it.aEq)
	return &cp
}

func norm2(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
