// Package logspace implements the canonical convex form of a geometric
// program and the analytic calculus the solver and sensitivity engine need.
//
// After the change of variables u = log(x), every monomial becomes an affine
// term
//
//	w(u, α) = logc(α) + a(α)·u
//
// where logc is affine in log(coefficient parameters) and each exponent a_k
// is affine in the exponent parameters. Posynomials become log-sum-exp
// functions of such terms, so the whole program is smooth and convex in u,
// and smooth in the parameters α wherever coefficient parameters stay
// positive.
//
// All derivatives used downstream are analytic: gradients and Hessians with
// respect to u, Jacobians with respect to α, and the mixed second
// derivatives ∂²/∂u∂α that enter the KKT linearization.
package logspace

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/solmap-ml/solmap/internal/program"
)

// ErrNonPositiveParam is returned when a coefficient parameter is not
// strictly positive at evaluation time, which puts the point outside the
// domain where the form (and the solution-map derivative) is defined.
var ErrNonPositiveParam = errors.New("logspace: coefficient parameter must be positive")

// ExpDep records one Scale*α_Param contribution to the exponent of variable
// Var inside a term.
type ExpDep struct {
	Var   int
	Param int
	Scale float64
}

// Term is one affine-in-u summand: w(u, α) = logc(α) + a(α)·u with
//
//	logc(α) = LogC + Σ_{j∈CoeffNum} log α_j − Σ_{j∈CoeffDen} log α_j
//	a_k(α)  = A[k] + Σ_{deps with Var=k} Scale·α_Param
type Term struct {
	LogC     float64
	CoeffNum []int
	CoeffDen []int
	A        []float64
	Deps     []ExpDep
}

// Exponents writes a(α) into dst (length NumVars).
func (t *Term) Exponents(dst []float64, alpha []float64) {
	copy(dst, t.A)
	for _, d := range t.Deps {
		dst[d.Var] += d.Scale * alpha[d.Param]
	}
}

// Value evaluates w(u, α).
func (t *Term) Value(u, alpha []float64) float64 {
	w := t.LogC
	for _, j := range t.CoeffNum {
		w += math.Log(alpha[j])
	}
	for _, j := range t.CoeffDen {
		w -= math.Log(alpha[j])
	}
	for k, ak := range t.A {
		w += ak * u[k]
	}
	for _, d := range t.Deps {
		w += d.Scale * alpha[d.Param] * u[d.Var]
	}
	return w
}

// AddParamGrad accumulates scale * ∂w/∂α into dst (length NumParams).
func (t *Term) AddParamGrad(dst []float64, scale float64, u, alpha []float64) {
	for _, j := range t.CoeffNum {
		dst[j] += scale / alpha[j]
	}
	for _, j := range t.CoeffDen {
		dst[j] -= scale / alpha[j]
	}
	for _, d := range t.Deps {
		dst[d.Param] += scale * d.Scale * u[d.Var]
	}
}

// AddMixed accumulates scale * ∂²w/∂u∂α into dst (NumVars × NumParams).
// For an affine term this is just the exponent dependency pattern.
func (t *Term) AddMixed(dst *mat.Dense, scale float64) {
	for _, d := range t.Deps {
		dst.Set(d.Var, d.Param, dst.At(d.Var, d.Param)+scale*d.Scale)
	}
}

// paramGradRow returns ∂w/∂α as a fresh row vector.
func (t *Term) paramGradRow(p int, u, alpha []float64) []float64 {
	row := make([]float64, p)
	t.AddParamGrad(row, 1, u, alpha)
	return row
}

// LogSumExp is g(u, α) = log Σ_t exp(w_t(u, α)), the log-space image of a
// posynomial. A single-term LogSumExp degenerates to the affine term itself.
type LogSumExp struct {
	Terms []Term
}

// Value evaluates g(u, α) with the usual max-shift for stability.
func (l *LogSumExp) Value(u, alpha []float64) float64 {
	maxW := math.Inf(-1)
	ws := make([]float64, len(l.Terms))
	for i := range l.Terms {
		ws[i] = l.Terms[i].Value(u, alpha)
		if ws[i] > maxW {
			maxW = ws[i]
		}
	}
	sum := 0.0
	for _, w := range ws {
		sum += math.Exp(w - maxW)
	}
	return maxW + math.Log(sum)
}

// Weights returns the softmax weights p_t = exp(w_t) / Σ exp(w_s).
func (l *LogSumExp) Weights(u, alpha []float64) []float64 {
	ws := make([]float64, len(l.Terms))
	maxW := math.Inf(-1)
	for i := range l.Terms {
		ws[i] = l.Terms[i].Value(u, alpha)
		if ws[i] > maxW {
			maxW = ws[i]
		}
	}
	sum := 0.0
	for i, w := range ws {
		ws[i] = math.Exp(w - maxW)
		sum += ws[i]
	}
	for i := range ws {
		ws[i] /= sum
	}
	return ws
}

// Grad writes ∇_u g = Σ p_t a_t into dst (length NumVars).
func (l *LogSumExp) Grad(dst []float64, u, alpha []float64) {
	for k := range dst {
		dst[k] = 0
	}
	probs := l.Weights(u, alpha)
	a := make([]float64, len(dst))
	for i := range l.Terms {
		l.Terms[i].Exponents(a, alpha)
		for k := range dst {
			dst[k] += probs[i] * a[k]
		}
	}
}

// AddHessian accumulates scale * ∇²_u g into dst (NumVars × NumVars):
//
//	∇²_u g = Σ p_t a_t a_tᵀ − (∇g)(∇g)ᵀ
func (l *LogSumExp) AddHessian(dst *mat.Dense, scale float64, u, alpha []float64) {
	n, _ := dst.Dims()
	probs := l.Weights(u, alpha)
	grad := make([]float64, n)
	a := make([]float64, n)
	outer := mat.NewDense(n, n, nil)
	for i := range l.Terms {
		l.Terms[i].Exponents(a, alpha)
		for k := 0; k < n; k++ {
			grad[k] += probs[i] * a[k]
			for j := 0; j < n; j++ {
				outer.Set(k, j, outer.At(k, j)+probs[i]*a[k]*a[j])
			}
		}
	}
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			dst.Set(k, j, dst.At(k, j)+scale*(outer.At(k, j)-grad[k]*grad[j]))
		}
	}
}

// AddParamGrad accumulates scale * ∂g/∂α = scale * Σ p_t ∂w_t/∂α into dst.
func (l *LogSumExp) AddParamGrad(dst []float64, scale float64, u, alpha []float64) {
	probs := l.Weights(u, alpha)
	for i := range l.Terms {
		l.Terms[i].AddParamGrad(dst, scale*probs[i], u, alpha)
	}
}

// AddMixed accumulates scale * ∂²g/∂u∂α into dst (NumVars × NumParams):
//
//	∂(∇_u g)_k/∂α_j = Σ_t [ ∂p_t/∂α_j · a_tk + p_t · ∂a_tk/∂α_j ]
//	∂p_t/∂α_j       = p_t (q_tj − Σ_s p_s q_sj),  q_tj = ∂w_t/∂α_j
func (l *LogSumExp) AddMixed(dst *mat.Dense, scale float64, u, alpha []float64) {
	n, p := dst.Dims()
	probs := l.Weights(u, alpha)

	q := make([][]float64, len(l.Terms))
	qBar := make([]float64, p)
	for i := range l.Terms {
		q[i] = l.Terms[i].paramGradRow(p, u, alpha)
		for j := 0; j < p; j++ {
			qBar[j] += probs[i] * q[i][j]
		}
	}

	a := make([]float64, n)
	for i := range l.Terms {
		l.Terms[i].Exponents(a, alpha)
		for j := 0; j < p; j++ {
			dp := probs[i] * (q[i][j] - qBar[j])
			for k := 0; k < n; k++ {
				dst.Set(k, j, dst.At(k, j)+scale*dp*a[k])
			}
		}
		l.Terms[i].AddMixed(dst, scale*probs[i])
	}
}

// Form is the compiled log-space program:
//
//	minimize  Objective(u, α)
//	s.t.      Ineqs[i](u, α) ≤ 0
//	          Eqs[j](u, α)   = 0
type Form struct {
	NumVars   int
	NumParams int

	VarNames   []string
	ParamNames []string

	Objective LogSumExp
	Ineqs     []LogSumExp
	Eqs       []Term

	// coeffParams lists parameter indices that appear as coefficient
	// factors; these must stay strictly positive for the form to be
	// defined.
	coeffParams []int
}

// Compile canonicalizes a validated program: every inequality lhs ≤ rhs is
// divided by its monomial rhs, every equality lhs == rhs becomes the affine
// condition log(lhs/rhs) = 0, and the objective posynomial becomes a
// log-sum-exp.
func Compile(p *program.Program) (*Form, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	f := &Form{
		NumVars:   len(p.Variables()),
		NumParams: len(p.Parameters()),
	}
	for _, v := range p.Variables() {
		f.VarNames = append(f.VarNames, v.Name())
	}
	for _, par := range p.Parameters() {
		f.ParamNames = append(f.ParamNames, par.Name())
	}

	seen := make(map[int]bool)
	obj, _ := p.Objective()
	f.Objective = f.lseFromPosy(obj, seen)
	for _, c := range p.Inequalities() {
		canon := make(program.Posynomial, len(c.LHS))
		for i, m := range c.LHS {
			canon[i] = m.Div(c.RHS)
		}
		f.Ineqs = append(f.Ineqs, f.lseFromPosy(canon, seen))
	}
	for _, c := range p.Equalities() {
		f.Eqs = append(f.Eqs, f.termFromMono(c.LHS.Div(c.RHS), seen))
	}

	for j := range seen {
		f.coeffParams = append(f.coeffParams, j)
	}
	return f, nil
}

func (f *Form) lseFromPosy(posy program.Posynomial, seen map[int]bool) LogSumExp {
	lse := LogSumExp{Terms: make([]Term, len(posy))}
	for i, m := range posy {
		lse.Terms[i] = f.termFromMono(m, seen)
	}
	return lse
}

func (f *Form) termFromMono(m program.Monomial, seen map[int]bool) Term {
	t := Term{
		LogC: math.Log(m.Coeff.Constant),
		A:    make([]float64, f.NumVars),
	}
	for _, p := range m.Coeff.Num {
		t.CoeffNum = append(t.CoeffNum, p.Index())
		seen[p.Index()] = true
	}
	for _, p := range m.Coeff.Den {
		t.CoeffDen = append(t.CoeffDen, p.Index())
		seen[p.Index()] = true
	}
	for _, fac := range m.Factors {
		t.A[fac.Var.Index()] += fac.Exp.Constant
		for _, et := range fac.Exp.Terms {
			t.Deps = append(t.Deps, ExpDep{Var: fac.Var.Index(), Param: et.Param.Index(), Scale: et.Scale})
		}
	}
	return t
}

// ValidateParams checks that every coefficient parameter is strictly
// positive at the given values.
func (f *Form) ValidateParams(alpha []float64) error {
	if len(alpha) != f.NumParams {
		return fmt.Errorf("logspace: got %d parameter values, want %d", len(alpha), f.NumParams)
	}
	for _, j := range f.coeffParams {
		if alpha[j] <= 0 {
			return fmt.Errorf("parameter %q = %v: %w", f.ParamNames[j], alpha[j], ErrNonPositiveParam)
		}
	}
	return nil
}
