// Package runner executes a participant inference container against the
// held-out inputs and collects its logs and predictions artifact.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"seg-eval/internal/config"
	"seg-eval/internal/logging"
	"seg-eval/internal/telemetry"
)

// StatusInvalid marks a submission whose image failed validation.
const StatusInvalid = "INVALID"

var (
	ErrInvalidImage    = errors.New("docker image is invalid")
	ErrMissingArtifact = errors.New("required artifact not written")
)

// LogSink persists a log file next to the submission and returns its
// remote reference.
type LogSink interface {
	StoreFile(ctx context.Context, parentID, path string) (string, error)
}

// Job is one container run.
type Job struct {
	SubmissionID string
	// Repository and Digest identify the image as repository@digest.
	Repository string
	Digest     string
	InputDir   string
	OutputDir  string
	LogDir     string
	// ParentID is the remote folder the logs are stored under.
	ParentID string
	Status   string
}

// Image is the reference the container is started from.
func (j Job) Image() string {
	if j.Digest == "" {
		return j.Repository
	}
	return j.Repository + "@" + j.Digest
}

func (j Job) LogPath() string {
	return filepath.Join(j.LogDir, j.SubmissionID+"_log.txt")
}

type Result struct {
	LogPath      string
	LogRef       string
	ExitCode     int64
	ArtifactPath string
	// Reused is set when a container of the submission was already running.
	Reused bool
}

type Runner struct {
	cfg    config.RunnerConfig
	engine engine
	sink   LogSink
	log    *logrus.Entry
	sleep  func(time.Duration) <-chan time.Time
}

// New connects to the docker daemon. sink may be nil, in which case logs
// stay on local disk only.
func New(cfg config.RunnerConfig, sink LogSink) (*Runner, error) {
	e, err := newDockerEngine(cfg.Registry, cfg.RegistryUsername, cfg.RegistryPassword)
	if err != nil {
		return nil, err
	}
	return newRunner(cfg, e, sink), nil
}

func newRunner(cfg config.RunnerConfig, e engine, sink LogSink) *Runner {
	return &Runner{
		cfg:    cfg,
		engine: e,
		sink:   sink,
		log:    logging.For("runner"),
		sleep:  time.After,
	}
}

// Run executes job and returns once the container has exited, its logs are
// captured and the container and image are removed. The run only succeeds
// when the required artifact exists in the output directory.
func (r *Runner) Run(ctx context.Context, job Job) (res *Result, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrMissingArtifact):
			outcome = "missing_artifact"
		case err != nil:
			outcome = "error"
		}
		telemetry.ContainerRuns.WithLabelValues(outcome).Inc()
		telemetry.ContainerRunDuration.Observe(time.Since(start).Seconds())
	}()

	if job.Status == StatusInvalid {
		return nil, ErrInvalidImage
	}
	if job.SubmissionID == "" {
		return nil, errors.New("submission id is required")
	}
	log := r.log.WithField("submission", job.SubmissionID)

	if err := r.engine.Ping(ctx); err != nil {
		return nil, fmt.Errorf("cannot reach docker daemon (%s): %w", os.Getenv("DOCKER_HOST"), err)
	}
	if err := r.engine.Login(ctx); err != nil {
		return nil, fmt.Errorf("registry login %s: %w", r.cfg.Registry, err)
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(job.LogDir, 0o755); err != nil {
		return nil, err
	}
	res = &Result{LogPath: job.LogPath()}
	if err := os.WriteFile(res.LogPath, nil, 0o644); err != nil {
		return nil, err
	}

	// Pull before starting so the download is not part of the run time.
	image := job.Image()
	if err := r.engine.Pull(ctx, image); err != nil {
		log.WithError(err).WithField("image", image).Warn("unable to pull image")
	}

	id, reused, err := r.findContainer(ctx, job.SubmissionID)
	if err != nil {
		return nil, err
	}
	res.Reused = reused
	var startErr string
	if id == "" {
		log.WithField("image", image).Info("starting container")
		id, err = r.engine.Start(ctx, createRequest{
			Name:        job.SubmissionID,
			Image:       image,
			InputDir:    job.InputDir,
			OutputDir:   job.OutputDir,
			MemoryBytes: r.cfg.MemoryBytes,
		})
		if err != nil {
			log.WithError(err).Error("container did not start")
			if id != "" {
				_ = r.engine.Remove(context.Background(), id)
			}
			id = ""
			startErr = err.Error() + "\n"
		}
	}

	if id != "" {
		code, err := r.follow(ctx, job, id, res)
		if rmErr := r.engine.Remove(context.Background(), id); rmErr != nil {
			log.WithError(rmErr).Warn("unable to remove container")
		}
		if err != nil {
			return res, err
		}
		res.ExitCode = code
	}

	if fi, err := os.Stat(res.LogPath); err == nil && fi.Size() == 0 {
		text := startErr
		if text == "" {
			text = noLogs
		}
		if err := writeLog(res.LogPath, []byte(text)); err != nil {
			return res, err
		}
		r.storeLog(ctx, job, res)
	}

	if err := r.engine.RemoveImage(context.Background(), image); err != nil {
		log.WithError(err).Warn("unable to remove image")
	}

	res.ArtifactPath, err = findArtifact(job.OutputDir, r.cfg.RequiredArtifact)
	if err != nil {
		return res, err
	}
	log.WithFields(logrus.Fields{
		"exit_code": res.ExitCode,
		"artifact":  res.ArtifactPath,
	}).Info("run finished")
	return res, nil
}

// findContainer removes exited leftovers of earlier attempts and returns a
// still running container of the submission, if any.
func (r *Runner) findContainer(ctx context.Context, submissionID string) (string, bool, error) {
	list, err := r.engine.List(ctx, submissionID)
	if err != nil {
		return "", false, fmt.Errorf("list containers: %w", err)
	}
	running := ""
	for _, c := range list {
		if !strings.Contains(c.Name, submissionID) {
			continue
		}
		if c.State == "running" {
			running = c.ID
			continue
		}
		if err := r.engine.Remove(ctx, c.ID); err != nil {
			r.log.WithError(err).WithField("container", c.ID).Warn("unable to remove stale container")
		}
	}
	return running, running != "", nil
}

// follow refreshes the log file every poll interval until the container
// exits, then captures the logs a final time.
func (r *Runner) follow(ctx context.Context, job Job, id string, res *Result) (int64, error) {
	codes, errs := r.engine.Wait(ctx, id)
	var code int64
	for done := false; !done; {
		select {
		case code = <-codes:
			done = true
		case err := <-errs:
			return 0, err
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-r.sleep(r.cfg.PollInterval):
			r.captureLogs(ctx, job, id, res)
		}
	}
	r.captureLogs(ctx, job, id, res)
	return code, nil
}

func (r *Runner) captureLogs(ctx context.Context, job Job, id string, res *Result) {
	text, err := r.engine.Logs(ctx, id)
	if err != nil {
		r.log.WithError(err).WithField("container", id).Warn("unable to read container logs")
		return
	}
	if err := writeLog(res.LogPath, text); err != nil {
		r.log.WithError(err).Warn("unable to write log file")
		return
	}
	r.storeLog(ctx, job, res)
}

// storeLog uploads the log file when it is non-empty and within the size
// limit. Upload failures are logged and otherwise ignored.
func (r *Runner) storeLog(ctx context.Context, job Job, res *Result) {
	if !r.cfg.StoreLogs || r.sink == nil {
		return
	}
	fi, err := os.Stat(res.LogPath)
	if err != nil || !storable(fi.Size(), r.cfg.MaxLogBytes) {
		return
	}
	ref, err := r.sink.StoreFile(ctx, job.ParentID, res.LogPath)
	if err != nil {
		r.log.WithError(err).Warn("unable to store log file")
		return
	}
	res.LogRef = ref
}

func storable(size, limit int64) bool {
	return size > 0 && size <= limit
}

func findArtifact(dir, name string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Name() == name && !e.IsDir() {
			return filepath.Join(dir, name), nil
		}
	}
	return "", fmt.Errorf("%w: no %q written to /output, please check inference docker", ErrMissingArtifact, name)
}
