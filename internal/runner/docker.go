package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	img "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// containerInfo is the part of a listed container the runner looks at.
type containerInfo struct {
	ID    string
	Name  string
	State string
}

// createRequest describes the participant container.
type createRequest struct {
	Name        string
	Image       string
	InputDir    string
	OutputDir   string
	MemoryBytes int64
}

// engine is the container runtime as seen by the runner.
type engine interface {
	Ping(ctx context.Context) error
	Login(ctx context.Context) error
	Pull(ctx context.Context, image string) error
	List(ctx context.Context, nameFilter string) ([]containerInfo, error)
	Start(ctx context.Context, req createRequest) (string, error)
	Logs(ctx context.Context, id string) ([]byte, error)
	Wait(ctx context.Context, id string) (<-chan int64, <-chan error)
	Remove(ctx context.Context, id string) error
	RemoveImage(ctx context.Context, image string) error
}

type dockerEngine struct {
	cli  *client.Client
	auth registry.AuthConfig
	// encoded credentials sent with every pull
	registryAuth string
}

// newDockerEngine connects to the daemon named by DOCKER_HOST (or the local
// socket) and keeps registry credentials for explicit logins and pulls.
func newDockerEngine(registryAddr, username, password string) (*dockerEngine, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	e := &dockerEngine{cli: cli}
	if username != "" {
		e.auth = registry.AuthConfig{
			Username:      username,
			Password:      password,
			ServerAddress: registryAddr,
		}
		if e.registryAuth, err = registry.EncodeAuthConfig(e.auth); err != nil {
			return nil, fmt.Errorf("encode registry auth: %w", err)
		}
	}
	return e, nil
}

func (e *dockerEngine) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	return err
}

func (e *dockerEngine) Login(ctx context.Context) error {
	if e.auth.Username == "" {
		return nil
	}
	_, err := e.cli.RegistryLogin(ctx, e.auth)
	return err
}

func (e *dockerEngine) Pull(ctx context.Context, image string) error {
	reader, err := e.cli.ImagePull(ctx, imageRef(image), img.PullOptions{RegistryAuth: e.registryAuth})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader) // progress stream
	return err
}

func (e *dockerEngine) List(ctx context.Context, nameFilter string) ([]containerInfo, error) {
	list, err := e.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", nameFilter)),
	})
	if err != nil {
		return nil, err
	}
	out := make([]containerInfo, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, containerInfo{ID: c.ID, Name: name, State: string(c.State)})
	}
	return out, nil
}

// Start creates and starts the participant container: no network, capped
// memory, input mounted read-only and output read-write.
func (e *dockerEngine) Start(ctx context.Context, req createRequest) (string, error) {
	in, err := filepath.Abs(req.InputDir)
	if err != nil {
		return "", err
	}
	out, err := filepath.Abs(req.OutputDir)
	if err != nil {
		return "", err
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode("none"),
		Binds: []string{
			in + ":/input:ro",
			out + ":/output:rw",
		},
		Resources: container.Resources{Memory: req.MemoryBytes},
	}
	create, err := e.cli.ContainerCreate(ctx, &container.Config{
		Image:           req.Image,
		Tty:             false,
		NetworkDisabled: true,
	}, hostCfg, nil, nil, req.Name)
	if err != nil {
		return "", fmt.Errorf("create: %w", err)
	}
	if err := e.cli.ContainerStart(ctx, create.ID, container.StartOptions{}); err != nil {
		return create.ID, fmt.Errorf("start: %w", err)
	}
	return create.ID, nil
}

// Logs returns stdout and stderr interleaved, as written by the container.
func (e *dockerEngine) Logs(ctx context.Context, id string) ([]byte, error) {
	rc, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *dockerEngine) Wait(ctx context.Context, id string) (<-chan int64, <-chan error) {
	statusCh, errCh := e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	codes := make(chan int64, 1)
	errs := make(chan error, 1)
	go func() {
		select {
		case st := <-statusCh:
			if st.Error != nil && st.Error.Message != "" {
				errs <- fmt.Errorf("wait: %s", st.Error.Message)
				return
			}
			codes <- st.StatusCode
		case err := <-errCh:
			errs <- fmt.Errorf("wait: %w", err)
		}
	}()
	return codes, errs
}

func (e *dockerEngine) Remove(ctx context.Context, id string) error {
	timeout := 5
	_ = e.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (e *dockerEngine) RemoveImage(ctx context.Context, image string) error {
	_, err := e.cli.ImageRemove(ctx, imageRef(image), img.RemoveOptions{Force: true})
	return err
}

// imageRef qualifies bare official image names; anything with a registry,
// a tag or a digest is used as given.
func imageRef(image string) string {
	if strings.ContainsAny(image, "/:@") {
		return image
	}
	return "docker.io/library/" + image + ":latest"
}
