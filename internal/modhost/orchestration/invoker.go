package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/httpclient"
	"github.com/tansive/modhost/internal/common/uuid"
	"github.com/tansive/modhost/internal/modhost/db"
	"github.com/tansive/modhost/internal/modhost/db/models"
	"github.com/tansive/modhost/internal/modhost/modcommon"
	"github.com/tansive/modhost/internal/modhost/workload"
)

// Invoker runs one pipeline step against a module and returns its result
// document.
type Invoker interface {
	Invoke(ctx context.Context, tenantID string, module *models.ModuleDescriptor, step *models.Step) (json.RawMessage, error)
}

// StepOptions are read from the step config. Unknown keys are left for the
// module.
type StepOptions struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

func decodeStepOptions(config json.RawMessage) (*StepOptions, error) {
	opts := &StepOptions{}
	if len(config) == 0 {
		return opts, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(config, &raw); err != nil {
		return nil, fmt.Errorf("step config must be a JSON object: %w", err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           opts,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid step options: %w", err)
	}
	if opts.TimeoutSeconds < 0 {
		return nil, fmt.Errorf("timeout_seconds must not be negative")
	}
	return opts, nil
}

// stepContext bounds ctx by the step timeout, or by def when the step sets none.
func stepContext(ctx context.Context, opts *StepOptions, def time.Duration) (context.Context, context.CancelFunc) {
	d := def
	if opts.TimeoutSeconds > 0 {
		d = time.Duration(opts.TimeoutSeconds) * time.Second
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func stepBody(config json.RawMessage) []byte {
	if len(config) == 0 {
		return []byte("{}")
	}
	return config
}

// KindInvoker dispatches on the module kind.
type KindInvoker map[string]Invoker

func (k KindInvoker) Invoke(ctx context.Context, tenantID string, module *models.ModuleDescriptor, step *models.Step) (json.RawMessage, error) {
	kind := module.Kind
	if kind == "" {
		kind = modcommon.ModuleKindService
	}
	inv, ok := k[kind]
	if !ok {
		return nil, ErrNoInvoker.Msg("no invoker for module kind " + kind)
	}
	return inv.Invoke(ctx, tenantID, module, step)
}

// ServiceInvoker posts the step config to the /invoke endpoint of the
// module's running workload.
type ServiceInvoker struct {
	links       db.TenantModuleStore
	httpClient  *http.Client
	timeout     time.Duration
	resolveBase func(tenantID string, module *models.ModuleDescriptor) string
}

func NewServiceInvoker(links db.TenantModuleStore, timeout time.Duration) *ServiceInvoker {
	return &ServiceInvoker{
		links:       links,
		httpClient:  &http.Client{},
		timeout:     timeout,
		resolveBase: workloadBaseURL,
	}
}

// workloadBaseURL addresses the workload by its container name, which
// resolves on the shared runtime network.
func workloadBaseURL(tenantID string, module *models.ModuleDescriptor) string {
	port := module.Port
	if port == 0 {
		port = modcommon.DefaultModulePort
	}
	return "http://" + modcommon.WorkloadName(modcommon.TenantId(tenantID), module.Name) + ":" + strconv.Itoa(port)
}

func (s *ServiceInvoker) Invoke(ctx context.Context, tenantID string, module *models.ModuleDescriptor, step *models.Step) (json.RawMessage, error) {
	if _, err := s.links.GetTenantModule(ctx, tenantID, module.Name); err != nil {
		return nil, ErrModuleInactive.MsgErr("module "+module.Name+" is not active for tenant "+tenantID, err)
	}
	opts, err := decodeStepOptions(step.Config)
	if err != nil {
		return nil, err
	}
	ctx, cancel := stepContext(ctx, opts, s.timeout)
	defer cancel()

	client := httpclient.NewClient(s.resolveBase(tenantID, module), httpclient.WithHTTPClient(s.httpClient))
	body, err := client.PostJSON(ctx, "/invoke", stepBody(step.Config))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 || !json.Valid(body) {
		return encodeText(string(body)), nil
	}
	return body, nil
}

// JobInvoker runs the module image once with the step config in STEP_CONFIG
// and succeeds when it exits with status zero.
type JobInvoker struct {
	runtime workload.Runtime
	timeout time.Duration
}

func NewJobInvoker(runtime workload.Runtime, timeout time.Duration) *JobInvoker {
	return &JobInvoker{runtime: runtime, timeout: timeout}
}

type jobResult struct {
	ExitCode int64           `json:"exit_code"`
	Output   json.RawMessage `json:"output,omitempty"`
}

func (j *JobInvoker) Invoke(ctx context.Context, tenantID string, module *models.ModuleDescriptor, step *models.Step) (json.RawMessage, error) {
	opts, err := decodeStepOptions(step.Config)
	if err != nil {
		return nil, err
	}
	ctx, cancel := stepContext(ctx, opts, j.timeout)
	defer cancel()

	// job containers are unique per run
	name := modcommon.WorkloadName(modcommon.TenantId(tenantID), module.Name) + "-job-" + uuid.New().String()[24:]
	spec := &workload.Spec{
		Name:  name,
		Image: module.Image,
		Env: map[string]string{
			"TENANT_ID":   tenantID,
			"MODULE_NAME": module.Name,
			"STEP_CONFIG": string(stepBody(step.Config)),
		},
		Labels: map[string]string{
			workload.LabelTenant: tenantID,
			workload.LabelModule: module.Name,
		},
	}
	res, aerr := j.runtime.RunOnce(ctx, spec)
	if aerr != nil {
		return nil, aerr
	}

	out := jobResult{ExitCode: res.ExitCode}
	if res.Output != "" {
		if json.Valid([]byte(res.Output)) {
			out.Output = json.RawMessage(res.Output)
		} else {
			out.Output = encodeText(res.Output)
		}
	}
	encoded, _ := json.Marshal(out)
	if res.ExitCode != 0 {
		log.Ctx(ctx).Warn().Str("workload", name).Int64("exit_code", res.ExitCode).Msg("job exited with failure")
		return encoded, workload.ErrJobFailed.Msg(fmt.Sprintf("job exited with code %d", res.ExitCode))
	}
	return encoded, nil
}

func encodeText(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}
