package commands

import (
	"github.com/andrej220/webdeploy/pkg/lg"
	"github.com/urfave/cli/v2"
)

func RestartCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "restart",
		Usage: "Restart the service on the remote host (sudo)",
		Action: func(c *cli.Context) error {
			cfg, err := rt.loadConfig(c)
			if err != nil {
				return err
			}
			d, sess := rt.deployer(cfg)
			defer sess.Close()

			res, err := d.Restart(rt.context(c))
			rt.printResult(res)
			if err == nil {
				rt.logger.Info("restart accepted", lg.String("service", cfg.Service.Name))
			}
			return err
		},
	}
}
