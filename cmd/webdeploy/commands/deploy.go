package commands

import (
	"github.com/andrej220/webdeploy/pkg/deploy"
	"github.com/andrej220/webdeploy/pkg/lg"
	"github.com/andrej220/webdeploy/pkg/persistence"
	"github.com/urfave/cli/v2"
)

func DeployCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "Archive, upload, extract, restart and show status",
		Description: `Runs every step in order and stops at the first failure:

  1. archive  tar -czf <archive.name> <archive.sources...>
  2. upload   copy the archive to <remote.dir> over SFTP
  3. extract  cd <remote.dir> && tar -xzvf <archive.name>
  4. restart  sudo systemctl restart <service.name>
  5. status   systemctl status <service.name>

Nothing is retried or rolled back.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "report",
				Usage: "write a JSON report of the run to `FILE`",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := rt.loadConfig(c)
			if err != nil {
				return err
			}
			d, sess := rt.deployer(cfg)
			defer sess.Close()

			report, err := d.Deploy(rt.context(c))
			if n := len(report.Steps); n > 0 && report.Steps[n-1].Step == deploy.StepStatus {
				rt.printResult(report.Steps[n-1].Result)
			}

			if path := c.String("report"); path != "" {
				if werr := persistence.WriteJSON(report, path); werr != nil {
					rt.logger.Error("failed to write report", lg.String("path", path), lg.Err(werr))
				} else {
					rt.logger.Info("report written", lg.String("path", path))
				}
			}
			if err == nil {
				rt.logger.Info("deploy finished", lg.String("deploy_id", report.ID.String()))
			}
			return err
		},
	}
}
