// Command idbmgr manages idb databases from the command line.
package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/urfave/cli.v1"

	"github.com/hupe1980/idb"
)

func newApp(out io.Writer) *cli.App {
	a := &app{out: out}

	cliApp := cli.NewApp()
	cliApp.Name = "idbmgr"
	cliApp.HelpName = "idbmgr"
	cliApp.Usage = "manage idb inverted-index databases"
	cliApp.Version = idb.Version
	cliApp.Writer = out
	cliApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "path to a YAML config file", EnvVar: "IDB_CONFIG"},
		cli.StringFlag{Name: "log-level", Usage: "override the configured log level"},
	}
	cliApp.Before = func(ctx *cli.Context) error {
		cfg, err := Load(ctx.String("config"))
		if err != nil {
			return err
		}
		if lvl := ctx.String("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		logger, err := cfg.Logging.Logger()
		if err != nil {
			return err
		}
		a.cfg = cfg
		a.logger = logger
		return nil
	}
	cliApp.Commands = a.commands()
	return cliApp
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "idbmgr: %s: %v\n", idb.ErrMsg(idb.CodeOf(err)), err)
		os.Exit(1)
	}
}
