package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/biosense/cmd/biosense/console"
	"github.com/mklimuk/biosense/config"
)

var configCmd = cli.Command{
	Name:  "config",
	Usage: "sensor profiles",
	Subcommands: cli.Commands{
		&configInitCmd,
		&configShowCmd,
	},
}

var configInitCmd = cli.Command{
	Name:      "init",
	Usage:     "write a default profile",
	ArgsUsage: "<path>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "adapter", Aliases: []string{"a"}, Value: config.AdapterMCP2221},
	},
	Action: func(c *cli.Context) error {
		path := c.Args().First()
		if path == "" {
			return console.Exit(1, "missing profile path")
		}
		p := config.Default()
		p.Adapter = c.String("adapter")
		if err := p.Validate(); err != nil {
			return console.Fail("invalid profile", err)
		}
		if err := p.Save(path); err != nil {
			return console.Fail("could not save profile", err)
		}
		console.Infof("profile written to %s", console.White(path))
		return nil
	},
}

var configShowCmd = cli.Command{
	Name:  "show",
	Usage: "print the effective profile",
	Flags: profileFlags,
	Action: func(c *cli.Context) error {
		p, err := loadProfile(c)
		if err != nil {
			return console.Fail("invalid profile", err)
		}
		return encode(p)
	},
}
