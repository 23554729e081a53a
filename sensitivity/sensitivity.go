// Copyright 2025 The Solmap Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package sensitivity provides the public API for differentiating the
// solution map of a solved geometric program.
//
// # Overview
//
// The solution map sends parameter values α to the optimal variable values
// x(α). Given a solver.Result, this package answers:
//
//   - Forward mode: given parameter deltas Δα, the predicted first-order
//     change of every optimal variable value (a Jacobian-vector product).
//   - Reverse mode: given seeds ∂L/∂x on the variables, the gradient of L
//     with respect to every parameter (a vector-Jacobian product).
//
// Both modes cost one linear solve against the LU factorization of the KKT
// Jacobian, which a Differentiator computes once and reuses across calls.
//
// # Basic Usage
//
//	res, _ := solver.Solve(prog, solver.DefaultOptions())
//
//	d, err := sensitivity.New(res)
//	if err != nil { ... }
//
//	// Forward: predict the optimum after a small parameter change.
//	deltas, err := d.Forward(sensitivity.Perturbation{"a": 0.01, "b": 0.01})
//
//	// Reverse: gradient of x with respect to all parameters.
//	grads, err := d.Backward(sensitivity.Seed{"x": 1})
//
// # Errors
//
//   - ErrStaleState: a parameter changed after the solve; re-solve first.
//   - ErrNonDifferentiable: degenerate optimum (failed strict
//     complementarity, dependent active-constraint gradients, or a singular
//     KKT Jacobian); not recoverable at this point.
//   - ErrMissingSeed: reverse mode with an all-zero seed (fail-fast policy).
//
// Deltas and gradients are first-order approximations; their accuracy for
// finite perturbations degrades quadratically with the perturbation size.
package sensitivity

import (
	"github.com/solmap-ml/solmap/internal/sensitivity"
	"github.com/solmap-ml/solmap/internal/solver"
)

// Type aliases for the public API.

// Differentiator answers forward and reverse queries against one result.
type Differentiator = sensitivity.Differentiator

// Perturbation assigns forward-mode deltas to parameters by name.
type Perturbation = sensitivity.Perturbation

// Seed assigns reverse-mode seeds to variables by name.
type Seed = sensitivity.Seed

// VariableDeltas is the forward-mode output.
type VariableDeltas = sensitivity.VariableDeltas

// ParameterGradients is the reverse-mode output.
type ParameterGradients = sensitivity.ParameterGradients

// Option tweaks numerical policies of a Differentiator.
type Option = sensitivity.Option

// Sentinel errors.
var (
	ErrStaleState          = sensitivity.ErrStaleState
	ErrNonDifferentiable   = sensitivity.ErrNonDifferentiable
	ErrMissingSeed         = sensitivity.ErrMissingSeed
	ErrNoDerivativeSupport = sensitivity.ErrNoDerivativeSupport
	ErrUnknownName         = sensitivity.ErrUnknownName
)

// New builds a Differentiator for the result, factorizing the KKT Jacobian
// once for reuse across Forward and Backward calls.
func New(res *solver.Result, opts ...Option) (*Differentiator, error) {
	return sensitivity.New(res, opts...)
}

// Forward builds a Differentiator and answers a single forward query.
func Forward(res *solver.Result, pert Perturbation, opts ...Option) (VariableDeltas, error) {
	return sensitivity.Forward(res, pert, opts...)
}

// Backward builds a Differentiator and answers a single reverse query.
func Backward(res *solver.Result, seed Seed, opts ...Option) (ParameterGradients, error) {
	return sensitivity.Backward(res, seed, opts...)
}

// WithCondFloor sets the smallest acceptable reciprocal condition number of
// the KKT Jacobian.
func WithCondFloor(f float64) Option { return sensitivity.WithCondFloor(f) }

// WithComplementarityFloor sets the smallest acceptable strict
// complementarity margin.
func WithComplementarityFloor(f float64) Option {
	return sensitivity.WithComplementarityFloor(f)
}
