// Copyright 2025 The Solmap Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package program provides the public API for building parametrized
// geometric programs.
//
// # Overview
//
// A geometric program minimizes a posynomial over positive variables
// subject to posynomial <= monomial and monomial == monomial constraints.
// Parameters are named scalars that may appear as positive coefficient
// factors or as affine exponent terms; they can be re-set between solves.
//
// # Basic Usage
//
//	prog := program.New()
//	x, _ := prog.NewVariable("x")
//	y, _ := prog.NewVariable("y")
//	z, _ := prog.NewVariable("z")
//	a, _ := prog.NewParameter("a", 2.0)
//	b, _ := prog.NewParameter("b", 1.0)
//	c, _ := prog.NewParameter("c", 0.5)
//
//	// minimize 1/(x*y*z)
//	prog.Minimize(program.Sum(program.Mono(1).Pow(x, -1).Pow(y, -1).Pow(z, -1)))
//
//	// a*(x*y + x*z + y*z) <= b
//	prog.SubjectTo(program.Sum(
//	    program.Mono(1).TimesParam(a).Pow(x, 1).Pow(y, 1),
//	    program.Mono(1).TimesParam(a).Pow(x, 1).Pow(z, 1),
//	    program.Mono(1).TimesParam(a).Pow(y, 1).Pow(z, 1),
//	), program.Mono(1).TimesParam(b))
//
//	// x >= y^c, written as y^c / x <= 1
//	prog.SubjectTo(program.Sum(
//	    program.Mono(1).PowParam(y, c).Pow(x, -1),
//	), program.Mono(1))
//
// Changing a parameter with SetValue marks every previously solved state of
// the program stale; the sensitivity package refuses to differentiate a
// stale state.
package program
