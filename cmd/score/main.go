// Command score evaluates a predictions archive against the goldstandard
// archive and writes the score table and the JSON summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"seg-eval/internal/config"
	"seg-eval/internal/logging"
	"seg-eval/internal/scoring"
	"seg-eval/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "", "path to segeval.yaml (default: ./segeval.yaml if present)")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	goldstandard := flag.String("goldstandard", "", "goldstandard zip (defaults to runner.goldstandard)")
	predictions := flag.String("predictions", "", "predictions zip written by the participant container")
	workDir := flag.String("workdir", "", "directory for extracted volumes and outputs (defaults to scoring.work_dir or a temp dir)")
	upload := flag.Bool("upload", false, "store the score table in the object store")
	parentID := flag.String("parent", "", "remote folder for uploaded files")
	flag.Parse()

	cfg, err := config.Read(*cfgPath)
	if err != nil {
		fatal(err)
	}
	logging.Configure(cfg.Logging)
	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			fatal(err)
		}
		os.Stdout.Write(out)
		return
	}
	if err := run(context.Background(), cfg, *goldstandard, *predictions, *workDir, *upload, *parentID); err != nil {
		fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config, gs, preds, dir string, upload bool, parentID string) error {
	if gs == "" {
		gs = cfg.Runner.Goldstandard
	}
	if gs == "" || preds == "" {
		return fmt.Errorf("both -goldstandard (or runner.goldstandard) and -predictions are required")
	}
	opts, err := scoring.OptionsFromConfig(cfg.Scoring)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.Scoring.WorkDir
	}
	if dir == "" {
		if dir, err = os.MkdirTemp("", "segeval-"); err != nil {
			return err
		}
	}

	var up scoring.Uploader
	if upload {
		s3c, err := storage.New(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		up = s3c.Session("submissions", uuid.NewString())
	}

	res, err := scoring.NewScorer(opts).Evaluate(ctx, scoring.EvalRequest{
		GoldstandardZip: gs,
		PredictionsZip:  preds,
		WorkDir:         dir,
		ParentID:        parentID,
		ScoresFile:      cfg.Scoring.ScoresFile,
		ResultsFile:     cfg.Scoring.ResultsFile,
	}, up)
	if err != nil {
		return err
	}
	if err := scoring.WriteSummaryJSON(os.Stdout, res.Summary); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

func fatal(err error) {
	logging.For("score").WithError(err).WithField("kind", scoring.Kind(err)).Error("scoring failed")
	logrus.Exit(1)
}
