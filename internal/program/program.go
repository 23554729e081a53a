// Package program implements the model layer for parametrized geometric
// programs.
//
// A geometric program is built from positive Variables and named Parameters:
//
//	prog := program.New()
//	x, _ := prog.NewVariable("x")
//	y, _ := prog.NewVariable("y")
//	a, _ := prog.NewParameter("a", 2.0)
//
//	obj := program.Mono(1).Pow(x, -1).Pow(y, -1)           // 1/(x*y)
//	lhs := program.Sum(program.Mono(1).TimesParam(a).Pow(x, 1).Pow(y, 1))
//	prog.Minimize(program.Sum(obj))
//	prog.SubjectTo(lhs, program.Mono(1))                   // a*x*y <= 1
//
// Parameters carry a current value that may be changed between solves with
// SetValue. Every value change bumps the program's generation counter, which
// is how downstream consumers (solver results, the sensitivity engine)
// detect that a solved state has gone stale.
package program

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the model layer.
var (
	// ErrDuplicateName is returned when a variable or parameter name is
	// registered twice in the same program.
	ErrDuplicateName = errors.New("program: duplicate name")

	// ErrEmptyName is returned for variables or parameters with an empty name.
	ErrEmptyName = errors.New("program: empty name")

	// ErrForeignSymbol is returned when an expression references a variable
	// or parameter that belongs to a different program.
	ErrForeignSymbol = errors.New("program: symbol belongs to a different program")

	// ErrNoObjective is returned when a program without an objective is solved.
	ErrNoObjective = errors.New("program: no objective set")

	// ErrNonPositiveCoefficient is returned when a monomial coefficient (its
	// constant part or any coefficient parameter's current value) is not
	// strictly positive. Positivity is what makes the log-space form, and
	// with it the solution-map derivative, well defined.
	ErrNonPositiveCoefficient = errors.New("program: non-positive monomial coefficient")
)

// Program is a parametrized geometric program under construction:
// minimize a posynomial subject to posynomial <= monomial inequalities and
// monomial == monomial equalities.
type Program struct {
	vars   []*Variable
	params []*Parameter
	varIdx map[string]int
	parIdx map[string]int

	objective    Posynomial
	hasObjective bool
	ineqs        []Inequality
	eqs          []Equality

	gen uint64
}

// Inequality is a constraint lhs <= rhs with posynomial lhs and monomial rhs.
type Inequality struct {
	LHS Posynomial
	RHS Monomial
}

// Equality is a constraint lhs == rhs between two monomials.
type Equality struct {
	LHS Monomial
	RHS Monomial
}

// New creates an empty program.
func New() *Program {
	return &Program{
		varIdx: make(map[string]int),
		parIdx: make(map[string]int),
	}
}

// NewVariable registers a new positive variable.
func (p *Program) NewVariable(name string) (*Variable, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if _, ok := p.varIdx[name]; ok {
		return nil, fmt.Errorf("variable %q: %w", name, ErrDuplicateName)
	}
	if _, ok := p.parIdx[name]; ok {
		return nil, fmt.Errorf("variable %q: %w", name, ErrDuplicateName)
	}
	v := &Variable{prog: p, name: name, index: len(p.vars)}
	p.vars = append(p.vars, v)
	p.varIdx[name] = v.index
	return v, nil
}

// NewParameter registers a new named parameter with an initial value.
func (p *Program) NewParameter(name string, value float64) (*Parameter, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if _, ok := p.parIdx[name]; ok {
		return nil, fmt.Errorf("parameter %q: %w", name, ErrDuplicateName)
	}
	if _, ok := p.varIdx[name]; ok {
		return nil, fmt.Errorf("parameter %q: %w", name, ErrDuplicateName)
	}
	par := &Parameter{prog: p, name: name, index: len(p.params), value: value}
	p.params = append(p.params, par)
	p.parIdx[name] = par.index
	return par, nil
}

// Minimize sets the objective posynomial. Calling it again replaces the
// previous objective.
func (p *Program) Minimize(obj Posynomial) {
	p.objective = obj.clone()
	p.hasObjective = true
}

// SubjectTo adds the inequality constraint lhs <= rhs.
func (p *Program) SubjectTo(lhs Posynomial, rhs Monomial) {
	p.ineqs = append(p.ineqs, Inequality{LHS: lhs.clone(), RHS: rhs.clone()})
}

// SubjectToEqual adds the equality constraint lhs == rhs.
func (p *Program) SubjectToEqual(lhs, rhs Monomial) {
	p.eqs = append(p.eqs, Equality{LHS: lhs.clone(), RHS: rhs.clone()})
}

// Generation returns the current generation counter. It increases every time
// any parameter's value is set.
func (p *Program) Generation() uint64 { return p.gen }

// Variables returns the registered variables in declaration order.
func (p *Program) Variables() []*Variable { return p.vars }

// Parameters returns the registered parameters in declaration order.
func (p *Program) Parameters() []*Parameter { return p.params }

// VariableByName looks up a variable by name.
func (p *Program) VariableByName(name string) (*Variable, bool) {
	i, ok := p.varIdx[name]
	if !ok {
		return nil, false
	}
	return p.vars[i], true
}

// ParameterByName looks up a parameter by name.
func (p *Program) ParameterByName(name string) (*Parameter, bool) {
	i, ok := p.parIdx[name]
	if !ok {
		return nil, false
	}
	return p.params[i], true
}

// Objective returns the objective posynomial and whether one has been set.
func (p *Program) Objective() (Posynomial, bool) { return p.objective, p.hasObjective }

// Inequalities returns the inequality constraints in declaration order.
func (p *Program) Inequalities() []Inequality { return p.ineqs }

// Equalities returns the equality constraints in declaration order.
func (p *Program) Equalities() []Equality { return p.eqs }

// ParameterValues returns a fresh slice with the current parameter values,
// indexed by parameter index.
func (p *Program) ParameterValues() []float64 {
	vals := make([]float64, len(p.params))
	for i, par := range p.params {
		vals[i] = par.value
	}
	return vals
}

// Variable is a positive scalar decision variable. Its optimal value is
// produced by the solver.
type Variable struct {
	prog  *Program
	name  string
	index int
}

// Name returns the variable's name.
func (v *Variable) Name() string { return v.name }

// Index returns the variable's position in the program's variable order.
func (v *Variable) Index() int { return v.index }

// Parameter is a named scalar appearing in problem data. Changing its value
// invalidates any solved state derived from the owning program.
type Parameter struct {
	prog  *Program
	name  string
	index int
	value float64
}

// Name returns the parameter's name.
func (par *Parameter) Name() string { return par.name }

// Index returns the parameter's position in the program's parameter order.
func (par *Parameter) Index() int { return par.index }

// Value returns the parameter's current value.
func (par *Parameter) Value() float64 { return par.value }

// SetValue updates the parameter's value and bumps the program generation,
// marking every previously solved state stale. The generation is bumped even
// if the new value equals the old one.
func (par *Parameter) SetValue(v float64) {
	par.value = v
	par.prog.gen++
}
