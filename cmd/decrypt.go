package cmd

import (
	"log"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Decrypt fulfills the `decrypt` subcommand.
var Decrypt = cli.Command{
	Name:               "decrypt",
	Usage:              "Decrypt the backup file",
	UsageText:          "Parse and extract the contents of the backup file into a sqlite3 database file.",
	CustomHelpTemplate: SubcommandHelp,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "output, o",
			Usage: "write decrypted database to `FILE`",
			Value: "backup.db",
		},
	}, coreFlags...),
	Action: func(c *cli.Context) error {
		ctx, err := setup(c)
		if err != nil {
			return err
		}
		defer ctx.Close()

		fileName := c.String("output")
		log.Printf("Begin decrypt into %s", fileName)

		if err := ctx.ExportSQLite(fileName); err != nil {
			return errors.Wrap(err, "failed to export database")
		}

		log.Println("Done!")
		return nil
	},
}
