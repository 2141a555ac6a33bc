// Package workload runs module images as long-lived services or one-shot jobs
// on a container runtime. Workloads are addressed by name; names are derived
// deterministically from tenant and module so every caller resolves the same
// container.
package workload

import (
	"context"
	"net/http"
	"sort"

	"github.com/tansive/modhost/internal/common/apperrors"
)

var (
	ErrRuntime            apperrors.Error = apperrors.New("container runtime error").SetStatusCode(http.StatusInternalServerError)
	ErrWorkloadNotFound   apperrors.Error = ErrRuntime.New("workload not found").SetStatusCode(http.StatusNotFound)
	ErrRuntimeUnavailable apperrors.Error = ErrRuntime.New("container runtime unavailable").SetStatusCode(http.StatusServiceUnavailable)
	ErrWorkloadConflict   apperrors.Error = ErrRuntime.New("workload already exists").SetStatusCode(http.StatusConflict)
	ErrJobFailed          apperrors.Error = ErrRuntime.New("job failed")
)

// Label keys stamped on every workload modhost creates.
const (
	LabelManaged = "modhost.managed"
	LabelTenant  = "modhost.tenant"
	LabelModule  = "modhost.module"

	// LabelConfigHash is the sha256 of the config a service workload was
	// created with.
	LabelConfigHash = "modhost.config-hash"
)

// Spec describes a workload to create.
type Spec struct {
	Name   string
	Image  string
	Env    map[string]string
	Labels map[string]string
	// RestartPolicy is passed to the runtime as is; empty means never restart.
	RestartPolicy string
}

// EnvList renders Env as sorted KEY=VALUE pairs.
func (s *Spec) EnvList() []string {
	env := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Status is the observed state of a workload.
type Status struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	Running bool   `json:"running"`
	State   string `json:"state"`

	Labels map[string]string `json:"labels,omitempty"`
}

// JobResult is the outcome of a one-shot workload.
type JobResult struct {
	ExitCode int64  `json:"exit_code"`
	Output   string `json:"output,omitempty"`
}

// Runtime is the contract every container runtime adapter satisfies.
// Methods that address an existing workload return ErrWorkloadNotFound when
// it does not exist and ErrRuntimeUnavailable when the runtime cannot be
// reached.
type Runtime interface {
	// Get returns the current status of the named workload.
	Get(ctx context.Context, name string) (*Status, apperrors.Error)

	// Run creates the workload and starts it. It returns ErrWorkloadConflict
	// when a workload with the same name already exists.
	Run(ctx context.Context, spec *Spec) (*Status, apperrors.Error)

	Start(ctx context.Context, name string) apperrors.Error
	Stop(ctx context.Context, name string) apperrors.Error
	Remove(ctx context.Context, name string) apperrors.Error

	// RunOnce runs spec to completion and removes it afterwards. A non-zero
	// exit code is reported in the result, not as an error.
	RunOnce(ctx context.Context, spec *Spec) (*JobResult, apperrors.Error)
}
