package workload

import (
	"bytes"
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
)

// maxJobOutput bounds the captured output of a job.
const maxJobOutput = 64 * 1024

// DockerOptions configures the Docker Engine adapter.
type DockerOptions struct {
	Host       string // empty uses DOCKER_HOST or the default socket
	APIVersion string // empty negotiates with the daemon
	Network    string
}

// Docker runs workloads on a Docker Engine.
type Docker struct {
	cli     *client.Client
	network string
}

func NewDocker(opts DockerOptions) (*Docker, error) {
	clientOpts := []client.Opt{client.FromEnv}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	if opts.APIVersion != "" {
		clientOpts = append(clientOpts, client.WithVersion(opts.APIVersion))
	} else {
		clientOpts = append(clientOpts, client.WithAPIVersionNegotiation())
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, err
	}
	return &Docker{cli: cli, network: opts.Network}, nil
}

func (d *Docker) Close() error {
	return d.cli.Close()
}

// mapDockerError classifies an engine error. Anything that is not a
// not-found or conflict reply is treated as the runtime being unreachable.
func mapDockerError(err error, name string) apperrors.Error {
	switch {
	case errdefs.IsNotFound(err):
		return ErrWorkloadNotFound.Msg("workload " + name + " not found")
	case errdefs.IsConflict(err):
		return ErrWorkloadConflict.MsgErr("conflict on workload "+name, err)
	default:
		return ErrRuntimeUnavailable.Err(err)
	}
}

func (d *Docker) Get(ctx context.Context, name string) (*Status, apperrors.Error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		return nil, mapDockerError(err, name)
	}
	if info.ContainerJSONBase == nil {
		return nil, ErrRuntime.Msg("empty inspect response for " + name)
	}
	st := &Status{ID: info.ID, Name: name}
	if info.Config != nil {
		st.Image = info.Config.Image
		st.Labels = info.Config.Labels
	}
	if info.State != nil {
		st.Running = info.State.Running
		st.State = info.State.Status
	}
	return st, nil
}

func (d *Docker) create(ctx context.Context, spec *Spec) (string, apperrors.Error) {
	labels := map[string]string{LabelManaged: "true"}
	for k, v := range spec.Labels {
		labels[k] = v
	}
	cfg := &container.Config{
		Image:  spec.Image,
		Env:    spec.EnvList(),
		Labels: labels,
	}
	hostCfg := &container.HostConfig{}
	if spec.RestartPolicy != "" {
		hostCfg.RestartPolicy = container.RestartPolicy{Name: spec.RestartPolicy}
	}
	if d.network != "" {
		hostCfg.NetworkMode = container.NetworkMode(d.network)
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil && errdefs.IsNotFound(err) {
		// image is not present locally
		if perr := d.pull(ctx, spec.Image); perr != nil {
			return "", perr
		}
		resp, err = d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	}
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("workload", spec.Name).Msg("failed to create container")
		if errdefs.IsNotFound(err) {
			return "", ErrRuntime.MsgErr("image "+spec.Image+" not available", err)
		}
		return "", mapDockerError(err, spec.Name)
	}
	for _, w := range resp.Warnings {
		log.Ctx(ctx).Warn().Str("workload", spec.Name).Msg(w)
	}
	return resp.ID, nil
}

func (d *Docker) pull(ctx context.Context, image string) apperrors.Error {
	log.Ctx(ctx).Info().Str("image", image).Msg("pulling image")
	rc, err := d.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return mapDockerError(err, image)
	}
	defer rc.Close()
	// progress stream must be drained for the pull to complete
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return ErrRuntimeUnavailable.Err(err)
	}
	return nil
}

func (d *Docker) Run(ctx context.Context, spec *Spec) (*Status, apperrors.Error) {
	id, aerr := d.create(ctx, spec)
	if aerr != nil {
		return nil, aerr
	}
	if err := d.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("workload", spec.Name).Msg("failed to start container")
		return nil, mapDockerError(err, spec.Name)
	}
	return &Status{ID: id, Name: spec.Name, Image: spec.Image, Running: true, State: "running"}, nil
}

func (d *Docker) Start(ctx context.Context, name string) apperrors.Error {
	if err := d.cli.ContainerStart(ctx, name, types.ContainerStartOptions{}); err != nil {
		return mapDockerError(err, name)
	}
	return nil
}

func (d *Docker) Stop(ctx context.Context, name string) apperrors.Error {
	if err := d.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return mapDockerError(err, name)
	}
	return nil
}

func (d *Docker) Remove(ctx context.Context, name string) apperrors.Error {
	if err := d.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: true}); err != nil {
		return mapDockerError(err, name)
	}
	return nil
}

func (d *Docker) RunOnce(ctx context.Context, spec *Spec) (*JobResult, apperrors.Error) {
	id, aerr := d.create(ctx, spec)
	if aerr != nil {
		return nil, aerr
	}
	defer func() {
		// the job context may be done already
		if err := d.cli.ContainerRemove(context.WithoutCancel(ctx), id, types.ContainerRemoveOptions{Force: true}); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("workload", spec.Name).Msg("failed to remove job container")
		}
	}()

	if err := d.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return nil, mapDockerError(err, spec.Name)
	}

	statusCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	result := &JobResult{}
	select {
	case err := <-errCh:
		return nil, mapDockerError(err, spec.Name)
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return nil, ErrJobFailed.Msg(st.Error.Message)
		}
		result.ExitCode = st.StatusCode
	case <-ctx.Done():
		return nil, ErrRuntimeUnavailable.MsgErr("job "+spec.Name+" did not finish", ctx.Err())
	}

	result.Output = d.logs(ctx, id)
	return result, nil
}

// logs returns the tail of the combined stdout and stderr of a container.
// Failures are logged and yield an empty string.
func (d *Docker) logs(ctx context.Context, id string) string {
	rc, err := d.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("container", id).Msg("unable to read job output")
		return ""
	}
	defer rc.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, rc); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("container", id).Msg("unable to demultiplex job output")
	}
	b := out.Bytes()
	if len(b) > maxJobOutput {
		b = b[len(b)-maxJobOutput:]
	}
	return string(b)
}
