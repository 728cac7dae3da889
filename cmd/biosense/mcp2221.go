package main

import (
	"context"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/biosense/adapter"
	"github.com/mklimuk/biosense/cmd/biosense/console"
	"github.com/mklimuk/biosense/snsctx"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 USB to I2C adapter",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "index", Usage: "adapter index when several are connected"},
	},
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
		&mcp2221GPIOCmd,
	},
}

func openAdapter(c *cli.Context) (context.Context, *adapter.MCP2221, error) {
	ctx := snsctx.WithFrameDump(c.Context, c.Bool("verbose"))
	var opts []adapter.MCP2221Opt
	if idx := c.String("index"); idx != "" {
		i, err := strconv.Atoi(idx)
		if err != nil {
			return ctx, nil, console.Exit(1, "invalid adapter index %q", idx)
		}
		opts = append(opts, adapter.WithDeviceIndex(i))
	}
	return ctx, adapter.NewMCP2221(opts...), nil
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the adapter I2C engine status",
	Action: func(c *cli.Context) error {
		ctx, a, err := openAdapter(c)
		if err != nil {
			return err
		}
		status, err := a.Status(ctx)
		if err != nil {
			return console.Fail("adapter communication error", err)
		}
		if err := encode(status); err != nil {
			return err
		}
		console.Infof("bus speed %s", console.White(status.Speed()))
		return nil
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the bus",
	Action: func(c *cli.Context) error {
		ctx, a, err := openAdapter(c)
		if err != nil {
			return err
		}
		status, err := a.ReleaseBus(ctx)
		if err != nil {
			return console.Fail("adapter communication error", err)
		}
		return encode(status)
	},
}

var mcp2221GPIOCmd = cli.Command{
	Name:  "gpio",
	Usage: "print GP pin configuration and levels",
	Action: func(c *cli.Context) error {
		ctx, a, err := openAdapter(c)
		if err != nil {
			return err
		}
		params, err := a.GetGPIOParameters(ctx)
		if err != nil {
			return console.Fail("could not read GP configuration", err)
		}
		values, err := a.ReadGPIO(ctx)
		if err != nil {
			return console.Fail("could not read GP values", err)
		}
		return encode(struct {
			Parameters adapter.MCP2221GPIOParameters `yaml:"parameters"`
			Values     adapter.MCP2221GPIOValues     `yaml:"values"`
		}{params, values})
	},
}
