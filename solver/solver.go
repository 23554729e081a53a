// Copyright 2025 The Solmap Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package solver provides the public API for solving geometric programs.
//
// The solver transforms the program to its convex log-space form and runs a
// primal-dual interior-point method. The returned Result is a frozen
// snapshot of the optimum (primal values, duals, parameter values at solve
// time) and is the exclusive input of the sensitivity package.
//
// Example:
//
//	res, err := solver.Solve(prog, solver.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Solution()) // map[x:... y:... z:...]
package solver

import (
	"github.com/solmap-ml/solmap/internal/program"
	"github.com/solmap-ml/solmap/internal/solver"
)

// Options configures a solve.
type Options = solver.Options

// Result is the frozen snapshot of a solved program.
type Result = solver.Result

// Sentinel errors.
var (
	ErrNotConverged   = solver.ErrNotConverged
	ErrSingularSystem = solver.ErrSingularSystem
)

// DefaultOptions returns the options used when callers have no special
// needs: tolerance 1e-9, at most 200 iterations, derivative support on.
func DefaultOptions() Options {
	return solver.DefaultOptions()
}

// Solve compiles and solves the program at the parameters' current values.
func Solve(p *program.Program, opts Options) (*Result, error) {
	return solver.Solve(p, opts)
}
