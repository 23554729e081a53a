package program

import (
	"github.com/solmap-ml/solmap/internal/program"
)

// Type aliases for the public API.

// Program is a parametrized geometric program under construction.
type Program = program.Program

// Variable is a positive scalar decision variable.
type Variable = program.Variable

// Parameter is a named scalar appearing in problem data.
type Parameter = program.Parameter

// Monomial is coefficient * product of variable^exponent factors.
type Monomial = program.Monomial

// Posynomial is a sum of monomials.
type Posynomial = program.Posynomial

// Exponent is an affine function of parameters used as a variable exponent.
type Exponent = program.Exponent

// ExponentTerm is one Scale*Parameter contribution to an Exponent.
type ExponentTerm = program.ExponentTerm

// Sentinel errors.
var (
	ErrDuplicateName          = program.ErrDuplicateName
	ErrEmptyName              = program.ErrEmptyName
	ErrForeignSymbol          = program.ErrForeignSymbol
	ErrNoObjective            = program.ErrNoObjective
	ErrNonPositiveCoefficient = program.ErrNonPositiveCoefficient
)

// New creates an empty program.
func New() *Program {
	return program.New()
}

// Mono starts a monomial with a constant coefficient and no factors.
func Mono(c float64) Monomial {
	return program.Mono(c)
}

// Sum builds a posynomial from monomial terms.
func Sum(ms ...Monomial) Posynomial {
	return program.Sum(ms...)
}
