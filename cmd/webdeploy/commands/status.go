package commands

import (
	"github.com/urfave/cli/v2"
)

// StatusCommand prints "systemctl status" for the service. It never
// escalates privileges or changes anything on the host.
func StatusCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the service status on the remote host",
		Action: func(c *cli.Context) error {
			cfg, err := rt.loadConfig(c)
			if err != nil {
				return err
			}
			d, sess := rt.deployer(cfg)
			defer sess.Close()

			res, err := d.Status(rt.context(c))
			rt.printResult(res)
			return err
		},
	}
}
