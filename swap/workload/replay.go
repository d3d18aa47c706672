package workload

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/swap-sched/swap-sched/swap"
	"github.com/swap-sched/swap-sched/swap/devsim"
)

// Replay drives the scheduler through a scenario against the simulated
// store.
type Replay struct {
	spec     *Spec
	store    *devsim.Store
	sched    *swap.Scheduler
	arrays   map[string]*devsim.Array
	dtypes   map[string]swap.Dtype
	registry *prometheus.Registry
}

// Report is the outcome of a replay run.
type Report struct {
	Summary      swap.PlanSummary
	Iterations   int
	Synchronizes int
	Metrics      map[string]float64 // counter value by metric family name
}

// NewReplay validates the spec and builds the store, arrays and
// scheduler for it.
func NewReplay(spec *Spec) (*Replay, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload: %w", err)
	}

	store := devsim.NewStore()
	sched, err := swap.NewScheduler(devsim.HostContext(), devsim.DeviceContext(), spec.BudgetBytes, store)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	sched.SetMetrics(swap.NewMetrics(registry))

	r := &Replay{
		spec:     spec,
		store:    store,
		sched:    sched,
		arrays:   make(map[string]*devsim.Array),
		dtypes:   make(map[string]swap.Dtype),
		registry: registry,
	}
	for _, a := range spec.Arrays {
		dt, err := swap.ParseDtype(a.Dtype)
		if err != nil {
			return nil, err
		}
		r.arrays[a.Name] = store.NewArray(a.Elems, dt)
		r.dtypes[a.Name] = dt
	}
	return r, nil
}

// Scheduler exposes the underlying scheduler, e.g. for plan inspection.
func (r *Replay) Scheduler() *swap.Scheduler { return r.sched }

// Store exposes the simulated store, e.g. for op-log assertions.
func (r *Replay) Store() *devsim.Store { return r.store }

// Run replays the scenario for the configured number of iterations and
// reports the plan and transfer totals.
func (r *Replay) Run() (*Report, error) {
	for it := 0; it < r.spec.Iterations; it++ {
		if err := r.runIteration(); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", it, err)
		}
		logrus.Debugf("workload: iteration %d done", it)
	}

	report := &Report{
		Summary:      r.sched.Summary(),
		Iterations:   r.sched.Iterations(),
		Synchronizes: r.store.SyncCount(),
		Metrics:      make(map[string]float64),
	}

	families, err := r.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				report.Metrics[mf.GetName()] += c.GetValue()
			}
		}
	}

	return report, nil
}

// RunIteration replays a single iteration; exported for tests that need
// to interleave iterations with other actions (Reset, array swaps).
func (r *Replay) RunIteration() error { return r.runIteration() }

func (r *Replay) runIteration() error {
	r.sched.StartScheduling()

	for _, fn := range r.spec.Functions {
		if err := r.sched.PreFunction(fn.Name); err != nil {
			return err
		}
		for _, acc := range fn.Accesses {
			if err := r.perform(acc); err != nil {
				return err
			}
		}
		if err := r.sched.PostFunction(fn.Name); err != nil {
			return err
		}
	}

	if len(r.spec.Update) > 0 {
		if err := r.sched.PreUpdate(); err != nil {
			return err
		}
		for _, acc := range r.spec.Update {
			if err := r.perform(acc); err != nil {
				return err
			}
		}
		if err := r.sched.PostUpdate(); err != nil {
			return err
		}
	}

	return r.sched.EndScheduling()
}

func (r *Replay) perform(acc AccessSpec) error {
	arr := r.arrays[acc.Array]

	dtype := r.dtypes[acc.Array]
	if acc.Dtype != "" {
		dt, err := swap.ParseDtype(acc.Dtype)
		if err != nil {
			return err
		}
		dtype = dt
	}

	ctx := devsim.DeviceContext()
	if acc.Target == "host" {
		ctx = devsim.HostContext()
	}

	switch acc.Op {
	case "get":
		return arr.Get(dtype, ctx, swap.FlagNone)
	case "cast":
		return arr.Cast(dtype, ctx, acc.WriteOnly, swap.FlagNone)
	case "clear":
		return arr.Clear()
	default:
		return fmt.Errorf("unknown op %q", acc.Op)
	}
}
