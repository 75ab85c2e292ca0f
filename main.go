package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
	_ "modernc.org/sqlite"

	"github.com/cobalt-tools/sigback/cmd"
)

const appname = "sigback"

var version = "devel"

func main() {
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("%s %s\n", appname, version)
	}

	app := cli.NewApp()
	app.CustomAppHelpTemplate = cmd.AppHelp
	app.Usage = "decrypt, extract and format the contents of Signal backup files"
	app.Name = appname
	app.Version = version
	app.Commands = []cli.Command{
		cmd.Analyse,
		cmd.Decrypt,
		cmd.Extract,
		cmd.Format,
	}
	app.ArgsUsage = "BACKUPFILE"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "help, h",
			Usage: "show help",
		},
	}
	app.Action = func(c *cli.Context) error {
		return cli.ShowAppHelp(c)
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
