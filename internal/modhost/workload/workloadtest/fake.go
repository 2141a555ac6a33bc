// Package workloadtest provides an in-memory workload.Runtime for tests.
package workloadtest

import (
	"context"
	"sync"

	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/modhost/workload"
)

// Runtime records every call and keeps workloads in memory. Setting
// Unavailable makes every call fail with ErrRuntimeUnavailable.
type Runtime struct {
	mu          sync.Mutex
	workloads   map[string]*workload.Status
	specs       map[string]*workload.Spec
	Calls       []string
	Jobs        []*workload.Spec
	JobExitCode int64
	JobOutput   string
	Unavailable bool

	// BeforeCall, when set, runs at the start of every call without the
	// lock held. Tests use it to interleave operations.
	BeforeCall func(op, name string)
}

func New() *Runtime {
	return &Runtime{
		workloads: map[string]*workload.Status{},
		specs:     map[string]*workload.Spec{},
	}
}

func (r *Runtime) enter(op, name string) apperrors.Error {
	if r.BeforeCall != nil {
		r.BeforeCall(op, name)
	}
	r.mu.Lock()
	r.Calls = append(r.Calls, op+":"+name)
	unavailable := r.Unavailable
	r.mu.Unlock()
	if unavailable {
		return workload.ErrRuntimeUnavailable.Msg("runtime unreachable")
	}
	return nil
}

// Put installs a workload directly.
func (r *Runtime) Put(name, image string, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workloads[name] = &workload.Status{ID: "id-" + name, Name: name, Image: image, Running: running}
}

// Workload returns a copy of the named workload, or nil.
func (r *Runtime) Workload(name string) *workload.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.workloads[name]
	if !ok {
		return nil
	}
	c := *st
	return &c
}

// SpecOf returns the spec the named workload was created from.
func (r *Runtime) SpecOf(name string) *workload.Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.specs[name]
}

func (r *Runtime) CallCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.Calls {
		if len(c) > len(op) && c[:len(op)+1] == op+":" {
			n++
		}
	}
	return n
}

func (r *Runtime) Get(_ context.Context, name string) (*workload.Status, apperrors.Error) {
	if err := r.enter("get", name); err != nil {
		return nil, err
	}
	if st := r.Workload(name); st != nil {
		return st, nil
	}
	return nil, workload.ErrWorkloadNotFound.Msg("workload " + name + " not found")
}

func (r *Runtime) Run(_ context.Context, spec *workload.Spec) (*workload.Status, apperrors.Error) {
	if err := r.enter("run", spec.Name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workloads[spec.Name]; ok {
		return nil, workload.ErrWorkloadConflict.Msg("conflict on workload " + spec.Name)
	}
	st := &workload.Status{ID: "id-" + spec.Name, Name: spec.Name, Image: spec.Image, Running: true, State: "running"}
	if len(spec.Labels) > 0 {
		st.Labels = make(map[string]string, len(spec.Labels))
		for k, v := range spec.Labels {
			st.Labels[k] = v
		}
	}
	r.workloads[spec.Name] = st
	r.specs[spec.Name] = spec
	c := *st
	return &c, nil
}

func (r *Runtime) setRunning(op, name string, running bool) apperrors.Error {
	if err := r.enter(op, name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.workloads[name]
	if !ok {
		return workload.ErrWorkloadNotFound.Msg("workload " + name + " not found")
	}
	st.Running = running
	return nil
}

func (r *Runtime) Start(_ context.Context, name string) apperrors.Error {
	return r.setRunning("start", name, true)
}

func (r *Runtime) Stop(_ context.Context, name string) apperrors.Error {
	return r.setRunning("stop", name, false)
}

func (r *Runtime) Remove(_ context.Context, name string) apperrors.Error {
	if err := r.enter("remove", name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workloads[name]; !ok {
		return workload.ErrWorkloadNotFound.Msg("workload " + name + " not found")
	}
	delete(r.workloads, name)
	delete(r.specs, name)
	return nil
}

func (r *Runtime) RunOnce(_ context.Context, spec *workload.Spec) (*workload.JobResult, apperrors.Error) {
	if err := r.enter("runonce", spec.Name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Jobs = append(r.Jobs, spec)
	return &workload.JobResult{ExitCode: r.JobExitCode, Output: r.JobOutput}, nil
}

var _ workload.Runtime = (*Runtime)(nil)
