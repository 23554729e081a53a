// Copyright 2025 The Solmap Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package sensitivity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solmap-ml/solmap/program"
	"github.com/solmap-ml/solmap/sensitivity"
	"github.com/solmap-ml/solmap/solver"
)

// TestEndToEnd walks the whole public surface: build, solve, forward,
// reverse, invalidate, re-solve.
func TestEndToEnd(t *testing.T) {
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

	res, err := solver.Solve(prog, solver.DefaultOptions())
	require.NoError(t, err)

	sol := res.Solution()
	require.InDelta(t, 0.5612, sol["x"], 1e-3)
	require.InDelta(t, 0.3150, sol["y"], 1e-3)
	require.InDelta(t, 0.3689, sol["z"], 1e-3)

	d, err := sensitivity.New(res)
	require.NoError(t, err)

	deltas, err := d.Forward(sensitivity.Perturbation{"a": 0.01, "b": 0.01, "c": 0.01})
	require.NoError(t, err)
	assert.InDelta(t, 0.5573, sol["x"]+deltas["x"], 1e-3)
	assert.InDelta(t, 0.3178, sol["y"]+deltas["y"], 1e-3)
	assert.InDelta(t, 0.3718, sol["z"]+deltas["z"], 1e-3)

	grads, err := d.Backward(sensitivity.Seed{"x": 1})
	require.NoError(t, err)
	require.Len(t, grads, 3)

	// The gradient must agree with the forward deltas.
	fwdX, err := d.Forward(sensitivity.Perturbation{"a": 1})
	require.NoError(t, err)
	assert.InDelta(t, fwdX["x"], grads["a"], 1e-9)

	// Changing a parameter invalidates the result; re-solving recovers.
	a.SetValue(2.1)
	_, err = d.Forward(sensitivity.Perturbation{"a": 0.01})
	require.ErrorIs(t, err, sensitivity.ErrStaleState)

	res2, err := solver.Solve(prog, solver.DefaultOptions())
	require.NoError(t, err)
	_, err = sensitivity.Forward(res2, sensitivity.Perturbation{"a": 0.01})
	require.NoError(t, err)
	assert.Less(t, res2.Solution()["x"], sol["x"],
		"tightening the budget constraint shrinks the optimum")
}

func TestOptionPlumbing(t *testing.T) {
	// minimize 1/x subject to x + x^2 <= b. At b = 2 the optimum is x = 1,
	// and implicitly dx*/db = 1/(1+2x) = 1/3.
	prog := program.New()
	x, err := prog.NewVariable("x")
	require.NoError(t, err)
	b, err := prog.NewParameter("b", 2.0)
	require.NoError(t, err)
	prog.Minimize(program.Sum(program.Mono(1).Pow(x, -1)))
	prog.SubjectTo(program.Sum(
		program.Mono(1).Pow(x, 1),
		program.Mono(1).Pow(x, 2),
	), program.Mono(1).TimesParam(b))

	res, err := solver.Solve(prog, solver.DefaultOptions())
	require.NoError(t, err)
	require.InDelta(t, 1.0, res.Solution()["x"], 1e-6)

	// An impossible complementarity floor makes every optimum degenerate.
	_, err = sensitivity.New(res, sensitivity.WithComplementarityFloor(1e6))
	assert.ErrorIs(t, err, sensitivity.ErrNonDifferentiable)

	// An impossible condition floor does the same.
	_, err = sensitivity.New(res, sensitivity.WithCondFloor(1))
	assert.ErrorIs(t, err, sensitivity.ErrNonDifferentiable)

	// Defaults accept it.
	grads, err := sensitivity.Backward(res, sensitivity.Seed{"x": 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, grads["b"], 1e-6)
}
