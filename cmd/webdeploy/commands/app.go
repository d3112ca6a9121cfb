package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andrej220/webdeploy/pkg/archive"
	"github.com/andrej220/webdeploy/pkg/config"
	"github.com/andrej220/webdeploy/pkg/config/filestore"
	"github.com/andrej220/webdeploy/pkg/deploy"
	"github.com/andrej220/webdeploy/pkg/executor"
	"github.com/andrej220/webdeploy/pkg/lg"
	"github.com/andrej220/webdeploy/pkg/remote"
	"github.com/urfave/cli/v2"
)

const SERVICENAME = "webdeploy"

// runtime carries what every command needs once global flags are parsed.
type runtime struct {
	stdout io.Writer
	stderr io.Writer
	logger lg.Logger
}

// NewApp builds the CLI. Command output goes to stdout, logs and errors to
// stderr. Errors are returned from Run rather than exiting the process.
func NewApp(stdout, stderr io.Writer) *cli.App {
	rt := &runtime{stdout: stdout, stderr: stderr, logger: lg.Discard}

	return &cli.App{
		Name:  SERVICENAME,
		Usage: "package, upload and restart a web application on one host",
		Description: `Deploys the local web/ and static/ trees to a single remote host:

  deploy   archive -> upload -> extract -> restart -> status
  restart  restart the service only
  status   print the service status as reported by systemctl

Connection settings come from the config file (see "init") and can be
overridden with WEBDEPLOY_* environment variables, e.g. WEBDEPLOY_SSH_HOST.`,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				Value:   config.DefaultFileName,
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "console or json",
				Value: "console",
			},
		},
		Before: func(c *cli.Context) error {
			rt.logger = lg.New(&lg.Config{
				ServiceName: SERVICENAME,
				Debug:       c.Bool("debug"),
				Format:      c.String("log-format"),
				Output:      rt.stderr,
			})
			return nil
		},
		After: func(c *cli.Context) error {
			_ = rt.logger.Sync()
			return nil
		},
		// errors are reported by main so tests can inspect them
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			StatusCommand(rt),
			RestartCommand(rt),
			DeployCommand(rt),
			InitCommand(rt),
		},
	}
}

func (rt *runtime) context(c *cli.Context) context.Context {
	return lg.Attach(c.Context, rt.logger)
}

func (rt *runtime) loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(filestore.New(path))
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// deployer wires the collaborators for cfg. The caller closes the session.
func (rt *runtime) deployer(cfg *config.Config) (*deploy.Deployer, *remote.Session) {
	sess := remote.NewSession(cfg.SSHConfig(), cfg.Sudo.Password)
	spec := cfg.ArchiveSpec()
	arch := archive.New(cfg.Archive.Method, spec, executor.NewLocalExecutor(spec.Dir))
	target := deploy.Target{RemoteDir: cfg.Remote.Dir, Service: cfg.Service.Name}
	return deploy.New(arch, sess, sess, target), sess
}

// printResult writes the raw command output, stdout then stderr.
func (rt *runtime) printResult(res *executor.Result) {
	if res == nil {
		return
	}
	if len(res.Stdout) > 0 {
		fmt.Fprintln(rt.stdout, strings.Join(res.Stdout, "\n"))
	}
	if len(res.Stderr) > 0 {
		fmt.Fprintln(rt.stderr, strings.Join(res.Stderr, "\n"))
	}
}

// ExitCode maps err to the process exit status: the exit status of the
// command that failed, or 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *executor.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
		return 1
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) && coder.ExitCode() > 0 {
		return coder.ExitCode()
	}
	return 1
}
