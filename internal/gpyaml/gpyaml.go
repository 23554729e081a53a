// Package gpyaml loads geometric programs from YAML problem files.
//
// Schema:
//
//	variables: [x, y, z]
//	parameters: {a: 2.0, b: 1.0, c: 0.5}
//	objective:
//	  - coeff: 1.0
//	    exps: {x: -1, y: -1, z: -1}
//	constraints:
//	  - type: le
//	    lhs:
//	      - {coeff: 1.0, coeff_params: [a], exps: {x: 1, y: 1}}
//	      - {coeff: 1.0, coeff_params: [a], exps: {x: 1, z: 1}}
//	      - {coeff: 1.0, coeff_params: [a], exps: {y: 1, z: 1}}
//	    rhs: {coeff: 1.0, coeff_params: [b]}
//	  - type: le
//	    lhs:
//	      - {coeff: 1.0, exps: {y: {param: c}, x: -1}}
//	    rhs: {coeff: 1.0}
//
// Exponent entries are either a plain number or a mapping with const, scale
// and param keys (scale defaults to 1 when a param is given). Parameters are
// registered in sorted name order so problem files load deterministically.
package gpyaml

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/solmap-ml/solmap/internal/program"
)

// File is the top-level YAML document.
type File struct {
	Variables   []string           `yaml:"variables"`
	Parameters  map[string]float64 `yaml:"parameters"`
	Objective   []MonomialSpec     `yaml:"objective"`
	Constraints []ConstraintSpec   `yaml:"constraints"`
}

// MonomialSpec describes one monomial term.
type MonomialSpec struct {
	Coeff          float64            `yaml:"coeff"`
	CoeffParams    []string           `yaml:"coeff_params"`
	CoeffDivParams []string           `yaml:"coeff_div_params"`
	Exps           map[string]ExpSpec `yaml:"exps"`
}

// ExpSpec is an exponent: either a plain number or const + scale*param.
type ExpSpec struct {
	Const float64
	Scale float64
	Param string
}

// UnmarshalYAML accepts a scalar exponent or a {const, scale, param} mapping.
func (e *ExpSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&e.Const)
	}
	var aux struct {
		Const float64 `yaml:"const"`
		Scale float64 `yaml:"scale"`
		Param string  `yaml:"param"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	e.Const, e.Scale, e.Param = aux.Const, aux.Scale, aux.Param
	if e.Param != "" && e.Scale == 0 {
		e.Scale = 1
	}
	return nil
}

// ConstraintSpec is one constraint: type "le" (posynomial lhs <= monomial
// rhs, the default) or "eq" (single-monomial lhs == monomial rhs).
type ConstraintSpec struct {
	Type string         `yaml:"type"`
	LHS  []MonomialSpec `yaml:"lhs"`
	RHS  MonomialSpec   `yaml:"rhs"`
}

// Load reads and builds a program from a YAML file.
func Load(path string) (*program.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds a program from YAML bytes.
func Parse(data []byte) (*program.Program, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("gpyaml: %w", err)
	}
	return f.Build()
}

// Build instantiates the program described by the file.
func (f *File) Build() (*program.Program, error) {
	if len(f.Variables) == 0 {
		return nil, fmt.Errorf("gpyaml: no variables declared")
	}
	if len(f.Objective) == 0 {
		return nil, fmt.Errorf("gpyaml: no objective declared")
	}

	prog := program.New()
	vars := make(map[string]*program.Variable, len(f.Variables))
	for _, name := range f.Variables {
		v, err := prog.NewVariable(name)
		if err != nil {
			return nil, fmt.Errorf("gpyaml: %w", err)
		}
		vars[name] = v
	}

	paramNames := make([]string, 0, len(f.Parameters))
	for name := range f.Parameters {
		paramNames = append(paramNames, name)
	}
	sort.Strings(paramNames)
	params := make(map[string]*program.Parameter, len(paramNames))
	for _, name := range paramNames {
		p, err := prog.NewParameter(name, f.Parameters[name])
		if err != nil {
			return nil, fmt.Errorf("gpyaml: %w", err)
		}
		params[name] = p
	}

	b := builder{vars: vars, params: params}
	obj, err := b.posynomial(f.Objective)
	if err != nil {
		return nil, fmt.Errorf("gpyaml: objective: %w", err)
	}
	prog.Minimize(obj)

	for i, c := range f.Constraints {
		rhs, err := b.monomial(c.RHS)
		if err != nil {
			return nil, fmt.Errorf("gpyaml: constraint %d: rhs: %w", i, err)
		}
		switch c.Type {
		case "", "le":
			lhs, err := b.posynomial(c.LHS)
			if err != nil {
				return nil, fmt.Errorf("gpyaml: constraint %d: %w", i, err)
			}
			prog.SubjectTo(lhs, rhs)
		case "eq":
			if len(c.LHS) != 1 {
				return nil, fmt.Errorf("gpyaml: constraint %d: eq lhs must be a single monomial, got %d terms", i, len(c.LHS))
			}
			lhs, err := b.monomial(c.LHS[0])
			if err != nil {
				return nil, fmt.Errorf("gpyaml: constraint %d: %w", i, err)
			}
			prog.SubjectToEqual(lhs, rhs)
		default:
			return nil, fmt.Errorf("gpyaml: constraint %d: unknown type %q", i, c.Type)
		}
	}
	return prog, nil
}

type builder struct {
	vars   map[string]*program.Variable
	params map[string]*program.Parameter
}

func (b builder) posynomial(specs []MonomialSpec) (program.Posynomial, error) {
	ms := make([]program.Monomial, len(specs))
	for i, s := range specs {
		m, err := b.monomial(s)
		if err != nil {
			return nil, err
		}
		ms[i] = m
	}
	return program.Sum(ms...), nil
}

func (b builder) monomial(s MonomialSpec) (program.Monomial, error) {
	coeff := s.Coeff
	if coeff == 0 {
		coeff = 1 // unset in YAML
	}
	m := program.Mono(coeff)
	for _, name := range s.CoeffParams {
		p, ok := b.params[name]
		if !ok {
			return m, fmt.Errorf("unknown parameter %q", name)
		}
		m = m.TimesParam(p)
	}
	for _, name := range s.CoeffDivParams {
		p, ok := b.params[name]
		if !ok {
			return m, fmt.Errorf("unknown parameter %q", name)
		}
		m = m.DivParam(p)
	}

	// Sort exponent keys so monomial factor order is deterministic.
	varNames := make([]string, 0, len(s.Exps))
	for name := range s.Exps {
		varNames = append(varNames, name)
	}
	sort.Strings(varNames)
	for _, name := range varNames {
		v, ok := b.vars[name]
		if !ok {
			return m, fmt.Errorf("unknown variable %q", name)
		}
		e := s.Exps[name]
		exp := program.Exponent{Constant: e.Const}
		if e.Param != "" {
			p, ok := b.params[e.Param]
			if !ok {
				return m, fmt.Errorf("unknown parameter %q", e.Param)
			}
			exp.Terms = append(exp.Terms, program.ExponentTerm{Scale: e.Scale, Param: p})
		}
		m = m.PowExp(v, exp)
	}
	return m, nil
}
