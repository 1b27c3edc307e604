// Command runner executes one participant container against the input
// directory and checks that it produced the predictions artifact.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"seg-eval/internal/config"
	"seg-eval/internal/logging"
	"seg-eval/internal/runner"
	"seg-eval/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "", "path to segeval.yaml (default: ./segeval.yaml if present)")
	submission := flag.String("submission", "", "submission id (also the container name)")
	repository := flag.String("repository", "", "docker repository of the submission")
	digest := flag.String("digest", "", "image digest, e.g. sha256:...")
	input := flag.String("input", "", "input directory mounted read-only at /input (defaults to runner.input_dir)")
	output := flag.String("output", "", "output directory mounted at /output (defaults to <runner.output_root>/<submission>)")
	parentID := flag.String("parent", "", "remote folder for stored logs")
	status := flag.String("status", "", "image validation status; INVALID aborts the run")
	store := flag.Bool("store", false, "store logs in the object store while the container runs")
	flag.Parse()

	cfg, err := config.Read(*cfgPath)
	if err != nil {
		logrus.WithError(err).Fatal("cannot read configuration")
	}
	logging.Configure(cfg.Logging)
	log := logging.For("runner")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *input == "" {
		*input = cfg.Runner.InputDir
	}
	if *output == "" {
		*output = filepath.Join(cfg.Runner.OutputRoot, *submission)
	}
	if *submission == "" || *repository == "" || *input == "" {
		fmt.Fprintln(os.Stderr, "-submission, -repository and -input are required")
		flag.Usage()
		os.Exit(2)
	}

	var sink runner.LogSink
	cfg.Runner.StoreLogs = *store
	if *store {
		s3c, err := storage.New(ctx, cfg.Storage)
		if err != nil {
			log.WithError(err).Fatal("object store unavailable")
		}
		sink = s3c.Session("submissions", uuid.NewString())
	}

	r, err := runner.New(cfg.Runner, sink)
	if err != nil {
		log.WithError(err).Fatal("docker unavailable")
	}
	res, err := r.Run(ctx, runner.Job{
		SubmissionID: *submission,
		Repository:   *repository,
		Digest:       *digest,
		InputDir:     *input,
		OutputDir:    *output,
		LogDir:       *output,
		ParentID:     *parentID,
		Status:       *status,
	})
	if err != nil {
		log.WithError(err).Fatal("run failed")
	}
	log.WithFields(logrus.Fields{
		"artifact": res.ArtifactPath,
		"log":      res.LogPath,
		"log_ref":  res.LogRef,
	}).Info("done")
}
