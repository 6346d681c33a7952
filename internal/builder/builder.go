// Package builder turns a repository reference into a packaged,
// content-addressed archive: workspace acquisition, shape detection,
// bounded install/build subprocesses, output resolution and archiving.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/hrsh22/filify/internal/car"
	"github.com/hrsh22/filify/internal/domain"
	"github.com/hrsh22/filify/internal/gitx"
	"github.com/hrsh22/filify/internal/workspace"
)

const (
	defaultInstallCommand = "npm install"
	defaultBuildCommand   = "npm run build"
	carFileName           = "output.car"
)

// Stage names reported through Request.OnStage as the pipeline advances.
const (
	StageCloning  = "cloning"
	StageBuilding = "building"
)

// Config bounds subprocess execution.
type Config struct {
	CloneTimeout   time.Duration
	InstallTimeout time.Duration
	BuildTimeout   time.Duration
}

// Request describes one pipeline run.
type Request struct {
	RunID   string
	Project domain.Project
	// Token is the decrypted clone credential. It is used for the clone
	// URL only and never logged.
	Token string
	// ReuseDir, when set, is copied wholesale instead of cloning.
	ReuseDir string
	// OnStage, when set, is invoked as the run enters each stage.
	OnStage func(stage string)
}

// Result is the outcome of a run. Log is populated even on failure so the
// caller can persist a human-readable build log.
type Result struct {
	WorkDir       string
	OutputRel     string
	OutputDir     string
	Log           string
	RootCID       string
	CarPath       string
	Summary       car.Summary
	CommitSHA     string
	CommitMessage string
}

// Orchestrator executes build pipelines.
type Orchestrator struct {
	ws     *workspace.Manager
	runner *Runner
	cfg    Config
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(ws *workspace.Manager, runner *Runner, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.CloneTimeout <= 0 {
		cfg.CloneTimeout = time.Minute
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = 5 * time.Minute
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = 10 * time.Minute
	}
	return &Orchestrator{ws: ws, runner: runner, cfg: cfg, logger: logger}
}

// KillProcess terminates the live subprocess tracked for the run, if any.
func (o *Orchestrator) KillProcess(runID string) bool {
	return o.runner.Kill(runID)
}

// Build runs the pipeline stages in order. Any stage failure aborts the
// rest; the accumulated log, including the failure, is returned in the
// Result alongside the error.
func (o *Orchestrator) Build(ctx context.Context, req Request) (Result, error) {
	var log buildLog
	res := Result{}

	fail := func(err error) (Result, error) {
		log.printf("ERROR: %v", err)
		res.Log = log.String()
		return res, err
	}

	// Stage 1: workspace acquisition.
	stage(req, StageCloning)
	workdir, err := o.ws.Prepare(req.RunID)
	if err != nil {
		return fail(err)
	}
	res.WorkDir = workdir

	if req.ReuseDir != "" {
		log.printf("Reusing workspace from previous deployment")
		if err := o.ws.CopyInto(req.ReuseDir, req.RunID); err != nil {
			return fail(fmt.Errorf("copy previous workspace: %w", err))
		}
	} else {
		log.printf("Cloning %s (branch %s)", req.Project.RepoURL, branchOrDefault(req.Project.Branch))
		cloneCtx, cancel := context.WithTimeout(ctx, o.cfg.CloneTimeout)
		err := gitx.Clone(cloneCtx, req.Project.RepoURL, req.Project.Branch, req.Token, workdir)
		cancel()
		if err != nil {
			return fail(err)
		}
		log.printf("Clone complete")
	}

	if sha, msg, err := gitx.HeadCommit(workdir); err == nil {
		res.CommitSHA = sha
		res.CommitMessage = msg
	}

	frontendRoot := workdir
	if req.Project.FrontendDir != "" {
		frontendRoot = filepath.Join(workdir, req.Project.FrontendDir)
	}

	// Stage 2: shape detection.
	shape, err := DetectShape(frontendRoot)
	if err != nil {
		return fail(err)
	}

	// Stage 3: build execution. Static trees do no subprocess work but
	// still report the stage so the run advances through the state
	// machine like any other build.
	stage(req, StageBuilding)
	var outputRel string
	if shape.Static {
		log.printf("No package.json found, deploying as a static site")
		exportDir := filepath.Join(frontendRoot, staticExportDir)
		if err := workspace.CopyDir(frontendRoot, exportDir, staticSkipSet()); err != nil {
			return fail(fmt.Errorf("stage static files: %w", err))
		}
		outputRel = staticExportDir
	} else {
		if shape.NextJS {
			created, err := EnsureNextExportConfig(frontendRoot)
			if err != nil {
				return fail(err)
			}
			if created {
				log.printf("Generated next.config.js for static export")
			}
		}

		env := []string{"NODE_ENV=production", "CI=true"}

		log.printf("$ %s", defaultInstallCommand)
		out, err := o.runner.Run(ctx, req.RunID, frontendRoot, defaultInstallCommand, env, o.cfg.InstallTimeout)
		log.append(out)
		if err != nil {
			return fail(err)
		}

		buildCmd := strings.TrimSpace(req.Project.BuildCommand)
		if buildCmd == "" {
			buildCmd = defaultBuildCommand
		}
		log.printf("$ %s", buildCmd)
		out, err = o.runner.Run(ctx, req.RunID, frontendRoot, buildCmd, env, o.cfg.BuildTimeout)
		log.append(out)
		if err != nil {
			return fail(err)
		}

		// Stage 4: output resolution.
		outputRel, err = ResolveOutput(frontendRoot, req.Project.OutputDir)
		if err != nil {
			return fail(err)
		}
	}

	outputDir := filepath.Join(frontendRoot, outputRel)
	res.OutputDir = outputDir
	relFromRoot, err := filepath.Rel(workdir, outputDir)
	if err != nil {
		return fail(fmt.Errorf("relativize output path: %w", err))
	}
	res.OutputRel = relFromRoot
	log.printf("Build output: %s", relFromRoot)

	// Stage 5: sidecar for idempotent re-discovery of the output.
	if err := workspace.WriteSidecar(workdir, relFromRoot); err != nil {
		return fail(err)
	}

	// Stage 6: archiving.
	carPath := filepath.Join(workdir, carFileName)
	packed, err := car.Pack(ctx, outputDir, carPath)
	if err != nil {
		return fail(err)
	}
	res.RootCID = packed.RootCID.String()
	res.CarPath = carPath
	res.Summary = packed.Summary
	log.printf("Packed %d files into archive, root %s", packed.Summary.Files, res.RootCID)

	res.Log = log.String()
	return res, nil
}

func stage(req Request, name string) {
	if req.OnStage != nil {
		req.OnStage(name)
	}
}

func branchOrDefault(branch string) string {
	if branch == "" {
		return "default"
	}
	return branch
}

func staticSkipSet() map[string]struct{} {
	skip := make(map[string]struct{}, len(ignoredNames)+1)
	for name := range ignoredNames {
		skip[name] = struct{}{}
	}
	skip[staticExportDir] = struct{}{}
	return skip
}

// buildLog accumulates the human-readable transcript of a run.
type buildLog struct {
	b strings.Builder
}

func (l *buildLog) printf(format string, args ...any) {
	fmt.Fprintf(&l.b, format+"\n", args...)
}

func (l *buildLog) append(out string) {
	out = strings.TrimSpace(out)
	if out != "" {
		l.b.WriteString(out)
		l.b.WriteByte('\n')
	}
}

func (l *buildLog) String() string {
	return l.b.String()
}
