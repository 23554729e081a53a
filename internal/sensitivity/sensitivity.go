// Package sensitivity differentiates the solution map of a solved geometric
// program: the map from parameter values α to the optimal variable values
// x(α).
//
// At a non-degenerate optimum the primal-dual point z = (u, λ, ν) is pinned
// down by the KKT residual
//
//	F(z, α) = [ ∇f + Dgᵀλ + Aᵀν ;  λ∘g ;  h ] = 0
//
// so by the implicit function theorem dz/dα = −(∂F/∂z)⁻¹ (∂F/∂α). The
// derivative operator is never materialized: forward mode answers one
// Jacobian-vector product and reverse mode one vector-Jacobian product, each
// with a single (possibly transposed) solve against the LU factorization of
// ∂F/∂z, which is computed once per Differentiator and reused.
//
// Results are first-order approximations: accuracy for finite perturbations
// degrades with the perturbation size and with the curvature and
// conditioning of the problem near the optimum.
//
// Derivatives are reported for the original positive variables x = exp(u):
// forward deltas are mapped through Δx = x ∘ Δu and reverse seeds through
// the adjoint of the same diagonal map.
package sensitivity

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/solmap-ml/solmap/internal/logspace"
	"github.com/solmap-ml/solmap/internal/solver"
)

// Perturbation assigns forward-mode deltas to parameters by name. Missing
// parameters default to zero.
type Perturbation map[string]float64

// Seed assigns reverse-mode seeds (∂downstream/∂variable) to variables by
// name. Missing variables default to zero; at least one must be non-zero.
type Seed map[string]float64

// VariableDeltas is the forward-mode output: the predicted first-order
// change of every variable's optimal value.
type VariableDeltas map[string]float64

// ParameterGradients is the reverse-mode output: the gradient of the seeded
// downstream scalar with respect to every parameter.
type ParameterGradients map[string]float64

// Option tweaks numerical policies of a Differentiator.
type Option func(*config)

type config struct {
	condFloor            float64
	complementarityFloor float64
}

// WithCondFloor sets the smallest acceptable reciprocal condition number of
// the KKT Jacobian. Default 1e-12.
func WithCondFloor(f float64) Option {
	return func(c *config) { c.condFloor = f }
}

// WithComplementarityFloor sets the smallest acceptable strict
// complementarity margin min_i max(λ_i, s_i). Default 1e-6.
func WithComplementarityFloor(f float64) Option {
	return func(c *config) { c.complementarityFloor = f }
}

// Differentiator answers forward and reverse sensitivity queries against one
// frozen solver result. It caches the LU factorization of ∂F/∂z; it holds no
// per-call state, so interleaved Forward and Backward calls cannot interfere.
type Differentiator struct {
	res   *solver.Result
	form  *logspace.Form
	alpha []float64

	lu   mat.LU
	nMat *mat.Dense // ∂F/∂α, (n+m+k) × p

	varIdx map[string]int
	parIdx map[string]int

	n, m, k, p int
}

// New builds a Differentiator for the result, assembling and factorizing the
// KKT Jacobian once. It fails with ErrNoDerivativeSupport, ErrStaleState or
// ErrNonDifferentiable.
func New(res *solver.Result, opts ...Option) (*Differentiator, error) {
	cfg := config{condFloor: 1e-12, complementarityFloor: 1e-6}
	for _, o := range opts {
		o(&cfg)
	}

	if !res.DerivativeSupport() {
		return nil, ErrNoDerivativeSupport
	}
	if res.Stale() {
		return nil, &StaleStateError{SolvedGeneration: res.Generation(), CurrentGeneration: res.ProgramGeneration()}
	}
	if res.ComplementarityMargin < cfg.complementarityFloor {
		return nil, &NonDifferentiableError{
			Reason: "strict complementarity fails (a constraint is active with a vanishing multiplier)",
		}
	}

	form := res.Form()
	d := &Differentiator{
		res:    res,
		form:   form,
		alpha:  res.ParamValues(),
		varIdx: make(map[string]int, form.NumVars),
		parIdx: make(map[string]int, form.NumParams),
		n:      form.NumVars,
		m:      len(form.Ineqs),
		k:      len(form.Eqs),
		p:      form.NumParams,
	}
	for i, name := range form.VarNames {
		d.varIdx[name] = i
	}
	for j, name := range form.ParamNames {
		d.parIdx[name] = j
	}

	if deficient, rc := d.activeGradientsDeficient(cfg.condFloor); deficient {
		return nil, &NonDifferentiableError{
			Reason: "active constraint gradients are linearly dependent (LICQ fails)",
			RCond:  rc,
		}
	}

	m := d.assembleKKTJacobian()
	cond := mat.Cond(m, 1)
	if math.IsInf(cond, 0) || math.IsNaN(cond) || cond > 1/cfg.condFloor {
		return nil, &NonDifferentiableError{
			Reason: "KKT Jacobian is singular or near-singular",
			RCond:  1 / cond,
		}
	}
	d.lu.Factorize(m)
	d.assembleParamJacobian()
	return d, nil
}

// activeGradientsDeficient checks constraint qualification (LICQ): the
// gradients of the active inequality constraints together with all equality
// gradients must be linearly independent at the optimum. Dependent gradients
// leave the duals non-unique, so the solution map has no derivative there
// even though the barrier keeps the full KKT Jacobian numerically
// invertible. An inequality counts as active when its multiplier dominates
// its slack; strict complementarity (checked before this) guarantees one of
// the two dominates cleanly. Rows are dependent when the smallest singular
// value falls below sqrt(condFloor) of the largest.
func (d *Differentiator) activeGradientsDeficient(condFloor float64) (bool, float64) {
	u := d.res.U
	var rows [][]float64
	grad := make([]float64, d.n)
	for i := range d.form.Ineqs {
		if d.res.Lambda[i] > d.res.S[i] {
			d.form.Ineqs[i].Grad(grad, u, d.alpha)
			rows = append(rows, append([]float64(nil), grad...))
		}
	}
	for j := range d.form.Eqs {
		d.form.Eqs[j].Exponents(grad, d.alpha)
		rows = append(rows, append([]float64(nil), grad...))
	}
	if len(rows) == 0 {
		return false, 0
	}
	if len(rows) > d.n {
		// More active gradients than variables can never be independent.
		return true, 0
	}

	g := mat.NewDense(len(rows), d.n, nil)
	for r, row := range rows {
		g.SetRow(r, row)
	}
	var svd mat.SVD
	if !svd.Factorize(g, mat.SVDNone) {
		return true, 0
	}
	sv := svd.Values(nil)
	smax, smin := sv[0], sv[len(sv)-1]
	if smax == 0 {
		return true, 0
	}
	rc := smin / smax
	return rc < math.Sqrt(condFloor), rc
}

// assembleKKTJacobian builds M = ∂F/∂z at the solved point.
func (d *Differentiator) assembleKKTJacobian() *mat.Dense {
	n, m, k := d.n, d.m, d.k
	dim := n + m + k
	u, lam := d.res.U, d.res.Lambda

	kkt := mat.NewDense(dim, dim, nil)

	// ∂F₁/∂u = ∇²f + Σ λ_i ∇²g_i.
	hess := kkt.Slice(0, n, 0, n).(*mat.Dense)
	d.form.Objective.AddHessian(hess, 1, u, d.alpha)
	for i := range d.form.Ineqs {
		d.form.Ineqs[i].AddHessian(hess, lam[i], u, d.alpha)
	}

	row := make([]float64, n)
	for i := range d.form.Ineqs {
		gi := d.form.Ineqs[i].Value(u, d.alpha)
		d.form.Ineqs[i].Grad(row, u, d.alpha)
		for c := 0; c < n; c++ {
			kkt.Set(c, n+i, row[c])        // ∂F₁/∂λ_i = ∇g_i
			kkt.Set(n+i, c, lam[i]*row[c]) // ∂F₂_i/∂u = λ_i ∇g_i
		}
		kkt.Set(n+i, n+i, gi) // ∂F₂_i/∂λ_i = g_i
	}
	for j := range d.form.Eqs {
		d.form.Eqs[j].Exponents(row, d.alpha)
		for c := 0; c < n; c++ {
			kkt.Set(c, n+m+j, row[c]) // ∂F₁/∂ν_j = ∇h_j
			kkt.Set(n+m+j, c, row[c]) // ∂F₃_j/∂u = ∇h_j
		}
	}
	return kkt
}

// assembleParamJacobian builds N = ∂F/∂α at the solved point.
func (d *Differentiator) assembleParamJacobian() {
	n, m, k, p := d.n, d.m, d.k, d.p
	u, lam, nu := d.res.U, d.res.Lambda, d.res.Nu

	d.nMat = mat.NewDense(n+m+k, max(p, 1), nil)
	if p == 0 {
		return
	}

	// ∂F₁/∂α: mixed second derivatives, weighted by the duals.
	top := d.nMat.Slice(0, n, 0, p).(*mat.Dense)
	d.form.Objective.AddMixed(top, 1, u, d.alpha)
	for i := range d.form.Ineqs {
		d.form.Ineqs[i].AddMixed(top, lam[i], u, d.alpha)
	}
	for j := range d.form.Eqs {
		d.form.Eqs[j].AddMixed(top, nu[j])
	}

	// ∂F₂_i/∂α = λ_i ∂g_i/∂α and ∂F₃_j/∂α = ∂h_j/∂α.
	tmp := make([]float64, p)
	for i := range d.form.Ineqs {
		clear(tmp)
		d.form.Ineqs[i].AddParamGrad(tmp, lam[i], u, d.alpha)
		d.nMat.SetRow(n+i, tmp)
	}
	for j := range d.form.Eqs {
		clear(tmp)
		d.form.Eqs[j].AddParamGrad(tmp, 1, u, d.alpha)
		d.nMat.SetRow(n+m+j, tmp)
	}
}

// Forward computes the Jacobian-vector product of the solution map: the
// first-order deltas of all optimal variable values under the given
// parameter deltas. The returned map covers every variable; on error it is
// nil (no partial results).
func (d *Differentiator) Forward(pert Perturbation) (VariableDeltas, error) {
	if err := d.checkFresh(); err != nil {
		return nil, err
	}
	dAlpha, err := d.paramVector(pert)
	if err != nil {
		return nil, err
	}

	rhs := mat.NewVecDense(d.n+d.m+d.k, nil)
	rhs.MulVec(d.nMat, dAlpha)
	rhs.ScaleVec(-1, rhs)

	dz := mat.NewVecDense(d.n+d.m+d.k, nil)
	if err := d.solve(dz, false, rhs); err != nil {
		return nil, err
	}

	deltas := make(VariableDeltas, d.n)
	for i, name := range d.form.VarNames {
		deltas[name] = d.res.X[i] * dz.AtVec(i)
	}
	return deltas, nil
}

// Backward computes the vector-Jacobian product of the solution map: the
// gradient of the seeded downstream scalar with respect to every parameter.
// The returned map covers every parameter; on error it is nil.
func (d *Differentiator) Backward(seed Seed) (ParameterGradients, error) {
	if err := d.checkFresh(); err != nil {
		return nil, err
	}
	seedU, err := d.seedVector(seed)
	if err != nil {
		return nil, err
	}

	y := mat.NewVecDense(d.n+d.m+d.k, nil)
	if err := d.solve(y, true, seedU); err != nil {
		return nil, err
	}

	grads := make(ParameterGradients, d.p)
	for j, name := range d.form.ParamNames {
		sum := 0.0
		for r := 0; r < d.n+d.m+d.k; r++ {
			sum += d.nMat.At(r, j) * y.AtVec(r)
		}
		grads[name] = -sum
	}
	return grads, nil
}

func (d *Differentiator) checkFresh() error {
	if d.res.Stale() {
		return &StaleStateError{SolvedGeneration: d.res.Generation(), CurrentGeneration: d.res.ProgramGeneration()}
	}
	return nil
}

func (d *Differentiator) solve(dst *mat.VecDense, trans bool, rhs *mat.VecDense) error {
	if err := d.lu.SolveVecTo(dst, trans, rhs); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return &NonDifferentiableError{Reason: "KKT linear solve failed"}
		}
		// Soft condition warning from gonum; the factorization already
		// passed the configured floor.
	}
	return nil
}

// paramVector maps a Perturbation onto parameter order.
func (d *Differentiator) paramVector(pert Perturbation) (*mat.VecDense, error) {
	v := mat.NewVecDense(max(d.p, 1), nil)
	for name, val := range pert {
		j, ok := d.parIdx[name]
		if !ok {
			return nil, &unknownNameError{kind: "parameter", name: name}
		}
		v.SetVec(j, val)
	}
	return v, nil
}

// seedVector maps a Seed into log-space and pads it to the KKT dimension.
func (d *Differentiator) seedVector(seed Seed) (*mat.VecDense, error) {
	v := mat.NewVecDense(d.n+d.m+d.k, nil)
	any := false
	for name, val := range seed {
		i, ok := d.varIdx[name]
		if !ok {
			return nil, &unknownNameError{kind: "variable", name: name}
		}
		if val != 0 {
			any = true
		}
		v.SetVec(i, d.res.X[i]*val)
	}
	if !any {
		return nil, ErrMissingSeed
	}
	return v, nil
}

type unknownNameError struct {
	kind string
	name string
}

func (e *unknownNameError) Error() string {
	return "sensitivity: unknown " + e.kind + " " + e.name
}

func (e *unknownNameError) Unwrap() error { return ErrUnknownName }

// Forward is the one-shot convenience form: build a Differentiator for the
// result and answer a single forward query.
func Forward(res *solver.Result, pert Perturbation, opts ...Option) (VariableDeltas, error) {
	d, err := New(res, opts...)
	if err != nil {
		return nil, err
	}
	return d.Forward(pert)
}

// Backward is the one-shot convenience form for a single reverse query.
func Backward(res *solver.Result, seed Seed, opts ...Option) (ParameterGradients, error) {
	d, err := New(res, opts...)
	if err != nil {
		return nil, err
	}
	return d.Backward(seed)
}
