package program

import (
	"fmt"
	"math"
)

// Coefficient is the positive multiplier of a monomial: a positive constant
// times a product of parameters (numerator) divided by a product of
// parameters (denominator). Restricting parameters to plain positive factors
// keeps log(coefficient) affine in log(parameter), which is what makes the
// compiled form differentiable in the parameters.
type Coefficient struct {
	Constant float64
	Num      []*Parameter
	Den      []*Parameter
}

// Value evaluates the coefficient at the parameters' current values.
func (c Coefficient) Value() float64 {
	v := c.Constant
	for _, p := range c.Num {
		v *= p.value
	}
	for _, p := range c.Den {
		v /= p.value
	}
	return v
}

func (c Coefficient) clone() Coefficient {
	c.Num = append([]*Parameter(nil), c.Num...)
	c.Den = append([]*Parameter(nil), c.Den...)
	return c
}

// ExponentTerm is one Scale*Parameter contribution to an exponent.
type ExponentTerm struct {
	Scale float64
	Param *Parameter
}

// Exponent is an affine function of parameters: Constant + sum of
// Scale*Parameter terms.
type Exponent struct {
	Constant float64
	Terms    []ExponentTerm
}

// Value evaluates the exponent at the parameters' current values.
func (e Exponent) Value() float64 {
	v := e.Constant
	for _, t := range e.Terms {
		v += t.Scale * t.Param.value
	}
	return v
}

func (e Exponent) clone() Exponent {
	e.Terms = append([]ExponentTerm(nil), e.Terms...)
	return e
}

func (e Exponent) add(o Exponent) Exponent {
	sum := e.clone()
	sum.Constant += o.Constant
	sum.Terms = append(sum.Terms, o.Terms...)
	return sum
}

func (e Exponent) neg() Exponent {
	n := Exponent{Constant: -e.Constant}
	for _, t := range e.Terms {
		n.Terms = append(n.Terms, ExponentTerm{Scale: -t.Scale, Param: t.Param})
	}
	return n
}

// Factor is a variable raised to an exponent inside a monomial.
type Factor struct {
	Var *Variable
	Exp Exponent
}

// Monomial is coefficient * product of variable^exponent factors. Monomial
// values are immutable: every builder method returns a copy.
type Monomial struct {
	Coeff   Coefficient
	Factors []Factor
}

// Mono starts a monomial with a constant coefficient and no factors.
func Mono(c float64) Monomial {
	return Monomial{Coeff: Coefficient{Constant: c}}
}

func (m Monomial) clone() Monomial {
	m.Coeff = m.Coeff.clone()
	fs := make([]Factor, len(m.Factors))
	for i, f := range m.Factors {
		fs[i] = Factor{Var: f.Var, Exp: f.Exp.clone()}
	}
	m.Factors = fs
	return m
}

// TimesParam multiplies the coefficient by a parameter.
func (m Monomial) TimesParam(p *Parameter) Monomial {
	m = m.clone()
	m.Coeff.Num = append(m.Coeff.Num, p)
	return m
}

// DivParam divides the coefficient by a parameter.
func (m Monomial) DivParam(p *Parameter) Monomial {
	m = m.clone()
	m.Coeff.Den = append(m.Coeff.Den, p)
	return m
}

// Pow multiplies the monomial by v^e with a constant exponent.
func (m Monomial) Pow(v *Variable, e float64) Monomial {
	return m.PowExp(v, Exponent{Constant: e})
}

// PowParam multiplies the monomial by v^p where the exponent is the
// parameter's value.
func (m Monomial) PowParam(v *Variable, p *Parameter) Monomial {
	return m.PowExp(v, Exponent{Terms: []ExponentTerm{{Scale: 1, Param: p}}})
}

// PowExp multiplies the monomial by v raised to an arbitrary affine exponent.
// Repeated factors on the same variable accumulate.
func (m Monomial) PowExp(v *Variable, e Exponent) Monomial {
	m = m.clone()
	for i, f := range m.Factors {
		if f.Var == v {
			m.Factors[i].Exp = f.Exp.add(e)
			return m
		}
	}
	m.Factors = append(m.Factors, Factor{Var: v, Exp: e.clone()})
	return m
}

// Div divides the monomial by another monomial: coefficients divide and
// exponents subtract. The result is again a monomial.
func (m Monomial) Div(o Monomial) Monomial {
	q := m.clone()
	q.Coeff.Constant /= o.Coeff.Constant
	q.Coeff.Num = append(q.Coeff.Num, o.Coeff.Den...)
	q.Coeff.Den = append(q.Coeff.Den, o.Coeff.Num...)
	for _, f := range o.Factors {
		q = q.PowExp(f.Var, f.Exp.neg())
	}
	return q
}

// Value evaluates the monomial at the given variable values (indexed by
// variable index) and the parameters' current values.
func (m Monomial) Value(x []float64) float64 {
	v := m.Coeff.Value()
	for _, f := range m.Factors {
		v *= math.Pow(x[f.Var.index], f.Exp.Value())
	}
	return v
}

// validate checks that the monomial belongs to prog and that its coefficient
// is strictly positive at the current parameter values.
func (m Monomial) validate(prog *Program) error {
	if m.Coeff.Constant <= 0 {
		return fmt.Errorf("constant %v: %w", m.Coeff.Constant, ErrNonPositiveCoefficient)
	}
	for _, p := range append(append([]*Parameter(nil), m.Coeff.Num...), m.Coeff.Den...) {
		if p.prog != prog {
			return fmt.Errorf("parameter %q: %w", p.name, ErrForeignSymbol)
		}
		if p.value <= 0 {
			return fmt.Errorf("coefficient parameter %q = %v: %w", p.name, p.value, ErrNonPositiveCoefficient)
		}
	}
	for _, f := range m.Factors {
		if f.Var.prog != prog {
			return fmt.Errorf("variable %q: %w", f.Var.name, ErrForeignSymbol)
		}
		for _, t := range f.Exp.Terms {
			if t.Param.prog != prog {
				return fmt.Errorf("parameter %q: %w", t.Param.name, ErrForeignSymbol)
			}
		}
	}
	return nil
}

// Posynomial is a sum of monomials.
type Posynomial []Monomial

// Sum builds a posynomial from monomial terms.
func Sum(ms ...Monomial) Posynomial {
	posy := make(Posynomial, len(ms))
	for i, m := range ms {
		posy[i] = m.clone()
	}
	return posy
}

func (p Posynomial) clone() Posynomial {
	return Sum(p...)
}

// Value evaluates the posynomial at the given variable values.
func (p Posynomial) Value(x []float64) float64 {
	v := 0.0
	for _, m := range p {
		v += m.Value(x)
	}
	return v
}

// Validate checks every constraint and objective monomial of prog for
// positivity and ownership. It is called by the compiler before a solve.
func (p *Program) Validate() error {
	if !p.hasObjective {
		return ErrNoObjective
	}
	check := func(posy Posynomial) error {
		for _, m := range posy {
			if err := m.validate(p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := check(p.objective); err != nil {
		return fmt.Errorf("objective: %w", err)
	}
	for i, c := range p.ineqs {
		if err := check(c.LHS); err != nil {
			return fmt.Errorf("inequality %d: %w", i, err)
		}
		if err := c.RHS.validate(p); err != nil {
			return fmt.Errorf("inequality %d: %w", i, err)
		}
	}
	for i, c := range p.eqs {
		if err := c.LHS.validate(p); err != nil {
			return fmt.Errorf("equality %d: %w", i, err)
		}
		if err := c.RHS.validate(p); err != nil {
			return fmt.Errorf("equality %d: %w", i, err)
		}
	}
	return nil
}
