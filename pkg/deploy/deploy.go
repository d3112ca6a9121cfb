// Package deploy sequences the deployment: archive, upload, extract,
// restart and status, each step gated on the previous one.
package deploy

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/andrej220/webdeploy/pkg/archive"
	"github.com/andrej220/webdeploy/pkg/executor"
	"github.com/andrej220/webdeploy/pkg/lg"
	"github.com/andrej220/webdeploy/pkg/transfer"
	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
)

type Step string

const (
	StepArchive Step = "archive"
	StepUpload  Step = "upload"
	StepExtract Step = "extract"
	StepRestart Step = "restart"
	StepStatus  Step = "status"
)

// Target is where the archive lands and which service runs it.
type Target struct {
	RemoteDir string
	Service   string
}

// Deployer drives the remote host through explicit collaborators so each
// one can be replaced in tests.
type Deployer struct {
	Archiver archive.Archiver
	Uploader transfer.Uploader
	Remote   executor.Executor
	Target   Target
}

func New(a archive.Archiver, u transfer.Uploader, remote executor.Executor, target Target) *Deployer {
	return &Deployer{Archiver: a, Uploader: u, Remote: remote, Target: target}
}

func (d *Deployer) StatusCommand() executor.Command {
	return executor.Command{Line: shellquote.Join("systemctl", "status", d.Target.Service)}
}

func (d *Deployer) RestartCommand() executor.Command {
	return executor.Command{Line: shellquote.Join("systemctl", "restart", d.Target.Service), Sudo: true}
}

func (d *Deployer) ExtractCommand(archiveName string) executor.Command {
	dir := transfer.RemoteDir(d.Target.RemoteDir)
	return executor.Command{Line: fmt.Sprintf("cd %s && %s", shellquote.Join(dir), shellquote.Join("tar", "-xzvf", archiveName))}
}

// Status reports the service state as printed by systemctl. The output is
// not interpreted; a non-zero exit comes back as *executor.ExitError with
// the Result still populated.
func (d *Deployer) Status(ctx context.Context) (*executor.Result, error) {
	return d.Remote.Run(ctx, d.StatusCommand())
}

// Restart asks systemd to restart the service. It returns once systemctl
// does; it does not wait for the service to become healthy.
func (d *Deployer) Restart(ctx context.Context) (*executor.Result, error) {
	logger := lg.FromContext(ctx)
	logger.Info("restarting service", lg.String("service", d.Target.Service))
	return d.Remote.Run(ctx, d.RestartCommand())
}

// Deploy runs every step in order and stops at the first failure. The
// returned Report covers each attempted step, including the failing one.
func (d *Deployer) Deploy(ctx context.Context) (*Report, error) {
	report := &Report{ID: uuid.New(), Started: time.Now()}
	logger := lg.FromContext(ctx).With(lg.String("deploy_id", report.ID.String()))
	ctx = lg.Attach(ctx, logger)

	var archivePath, remotePath string
	steps := []struct {
		step Step
		run  func(ctx context.Context) (*executor.Result, error)
	}{
		{StepArchive, func(ctx context.Context) (*executor.Result, error) {
			var err error
			archivePath, err = d.Archiver.Build(ctx)
			return nil, err
		}},
		{StepUpload, func(ctx context.Context) (*executor.Result, error) {
			var err error
			remotePath, err = d.Uploader.Upload(ctx, archivePath, d.Target.RemoteDir)
			return nil, err
		}},
		{StepExtract, func(ctx context.Context) (*executor.Result, error) {
			res, err := d.Remote.Run(ctx, d.ExtractCommand(path.Base(remotePath)))
			if res != nil {
				logger.Debug("extracted", lg.Int("files", len(res.Stdout)))
			}
			return res, err
		}},
		{StepRestart, d.Restart},
		{StepStatus, d.Status},
	}

	for _, s := range steps {
		logger.Info("step started", lg.String("step", string(s.step)))
		start := time.Now()
		res, err := s.run(ctx)
		report.add(s.step, start, res, err)
		if err != nil {
			logger.Error("step failed", lg.String("step", string(s.step)), lg.Err(err))
			report.finish(err)
			return report, &StepError{Step: s.step, Err: err}
		}
		logger.Info("step finished", lg.String("step", string(s.step)), lg.Duration("took", time.Since(start)))
	}
	report.finish(nil)
	return report, nil
}

// StepError names the step that aborted a deploy.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
