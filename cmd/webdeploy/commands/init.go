package commands

import (
	"fmt"

	"github.com/andrej220/webdeploy/pkg/config"
	"github.com/andrej220/webdeploy/pkg/config/filestore"
	"github.com/urfave/cli/v2"
)

// InitCommand writes a starter config file with the default layout.
func InitCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a default config file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "remote host name or address",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "remote login user",
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "overwrite an existing file",
			},
		},
		Action: func(c *cli.Context) error {
			path := c.String("config")
			store := filestore.New(path)
			if store.Exists() && !c.Bool("force") {
				return cli.Exit(fmt.Sprintf("%s already exists, use --force to overwrite", path), 1)
			}

			cfg := config.Default()
			cfg.SSH.Host = c.String("host")
			cfg.SSH.User = c.String("user")
			if err := store.Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(rt.stdout, "wrote %s\n", path)
			return nil
		},
	}
}
