// Package workload loads access-trace scenarios from YAML and replays
// them through the swap scheduler against the simulated tensor store.
package workload

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/swap-sched/swap-sched/swap"
)

// Spec describes one replayable training scenario: a device budget, a set
// of named arrays, and the per-function access sequences of a single
// iteration, repeated for the configured number of iterations.
type Spec struct {
	BudgetBytes int64          `yaml:"budget_bytes"`
	Iterations  int            `yaml:"iterations"`
	Arrays      []ArraySpec    `yaml:"arrays"`
	Functions   []FunctionSpec `yaml:"functions"`
	Update      []AccessSpec   `yaml:"update,omitempty"`
}

// ArraySpec declares a named array with its element count and dtype.
type ArraySpec struct {
	Name  string `yaml:"name"`
	Elems int64  `yaml:"elems"`
	Dtype string `yaml:"dtype"`
}

// FunctionSpec is one compute function and the accesses it performs.
type FunctionSpec struct {
	Name     string       `yaml:"name"`
	Accesses []AccessSpec `yaml:"accesses"`
}

// AccessSpec is a single get, cast or clear. Dtype defaults to the
// array's declared dtype; Target is "device" or "host" (ignored for
// clear).
type AccessSpec struct {
	Array     string `yaml:"array"`
	Op        string `yaml:"op"`
	Dtype     string `yaml:"dtype,omitempty"`
	Target    string `yaml:"target,omitempty"`
	WriteOnly bool   `yaml:"write_only,omitempty"`
}

// Load reads and parses a scenario file. The result is not yet validated.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workload: %w", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing workload: %w", err)
	}
	return &spec, nil
}

// Validate checks the whole spec and reports every problem found, not
// just the first.
func (s *Spec) Validate() error {
	var errs *multierror.Error

	if s.BudgetBytes <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("budget_bytes must be positive, got %d", s.BudgetBytes))
	}
	if s.Iterations < 1 {
		errs = multierror.Append(errs, fmt.Errorf("iterations must be at least 1, got %d", s.Iterations))
	}
	if len(s.Arrays) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("at least one array is required"))
	}
	if len(s.Functions) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("at least one function is required"))
	}

	names := make(map[string]bool)
	for i, a := range s.Arrays {
		if a.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("array %d has no name", i))
		} else if names[a.Name] {
			errs = multierror.Append(errs, fmt.Errorf("duplicate array name %q", a.Name))
		}
		names[a.Name] = true
		if a.Elems <= 0 {
			errs = multierror.Append(errs, fmt.Errorf("array %q: elems must be positive, got %d", a.Name, a.Elems))
		}
		if _, err := swap.ParseDtype(a.Dtype); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("array %q: %w", a.Name, err))
		}
	}

	for _, fn := range s.Functions {
		for i, acc := range fn.Accesses {
			errs = appendAccessErrors(errs, names, fmt.Sprintf("function %q access %d", fn.Name, i), acc)
		}
	}
	for i, acc := range s.Update {
		errs = appendAccessErrors(errs, names, fmt.Sprintf("update access %d", i), acc)
	}

	return errs.ErrorOrNil()
}

func appendAccessErrors(errs *multierror.Error, names map[string]bool, where string, acc AccessSpec) *multierror.Error {
	if !names[acc.Array] {
		errs = multierror.Append(errs, fmt.Errorf("%s: unknown array %q", where, acc.Array))
	}
	switch acc.Op {
	case "get", "cast":
		if acc.Target != "device" && acc.Target != "host" {
			errs = multierror.Append(errs, fmt.Errorf("%s: target must be device or host, got %q", where, acc.Target))
		}
	case "clear":
	default:
		errs = multierror.Append(errs, fmt.Errorf("%s: op must be get, cast or clear, got %q", where, acc.Op))
	}
	if acc.Dtype != "" {
		if _, err := swap.ParseDtype(acc.Dtype); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", where, err))
		}
	}
	return errs
}
