package cmd

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Format fulfils the `format` subcommand.
var Format = cli.Command{
	Name:               "format",
	Usage:              "Export messages from a Signal backup",
	UsageText:          "Parse and transform messages in the backup into other formats.\nXML format is compatible with SMS Backup & Restore by SyncTech",
	CustomHelpTemplate: SubcommandHelp,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name: "output, o",
			Usage: "Write formatted data to `FILE` (default is console)",
		},
		&cli.StringFlag{
			Name: "format, f",
			Usage: "Output messages as `FORMAT` (xml, csv, json). " +
				"Default matches --output file extension, or xml if no output file specified.",
		},
		&cli.StringFlag{
			Name: "table, t",
			Usage: "For csv|json, choose which table to dump (e.g. message, sms, mms, recipient). " +
				"Default matches --output file basename, or 'message' if no output file specified.",
		},
	}, coreFlags...),
	Action: func(c *cli.Context) error {
		ctx, err := setup(c)
		if err != nil {
			return err
		}
		defer ctx.Close()

		if err := ctx.MaterializeDatabase(); err != nil {
			return errors.Wrap(err, "replay backup into database")
		}

		var out io.Writer
		output := c.String("output")
		table := strings.ToLower(c.String("table"))
		format := strings.ToLower(c.String("format"))

		if output == "" {
			if format == "" {
				format = "xml"
			} else if table == "" {
				table = "message"
			}
			out = os.Stdout
		} else {
			ext := filepath.Ext(output)
			base := filepath.Base(output)
			base = base[:len(base)-len(ext)]

			if format == "" && len(ext) > 0 {
				format = ext[1:]
			}
			if table == "" {
				table = base
			}

			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return errors.Wrap(err, "unable to open output file")
			}
			defer func() {
				if err := file.Close(); err != nil {
					log.Fatalf("unable to close output file: %s", err.Error())
				}
			}()
			out = file
		}

		switch format {
		case "json":
			err = JSON(ctx.DB(), table, out)
		case "csv":
			err = CSV(ctx.DB(), table, out)
		case "xml":
			err = SyncTechXML(ctx, out)
		default:
			return errors.Errorf("format '%s' not recognised", format)
		}
		if err != nil {
			return errors.Wrap(err, "failed to format output")
		}

		return nil
	},
}

// JSON dumps an entire table into a JSON format.
func JSON(db *sql.DB, table string, out io.Writer) error {
	headers, rows, err := SelectEntireTable(db, table)
	if err != nil {
		return errors.Wrap(err, "selecting table")
	}

	n := len(headers)
	records := make([]map[string]interface{}, 0, len(rows))

	for _, row := range rows {
		values := make(map[string]interface{}, n)
		for i, name := range headers {
			values[name] = row[i]
		}
		records = append(records, values)
	}

	jsonEncoder := json.NewEncoder(out)
	jsonEncoder.SetEscapeHTML(false)
	jsonEncoder.SetIndent("", "\t")
	if err := jsonEncoder.Encode(records); err != nil {
		return errors.Wrap(err, "json encode")
	}

	return nil
}

// CSV dumps an entire table into a comma-separated value format.
func CSV(db *sql.DB, table string, out io.Writer) error {
	headers, rowsI, err := SelectEntireTable(db, table)
	if err != nil {
		return errors.Wrap(err, "selecting table")
	}

	w := csv.NewWriter(out)
	if err := w.Write(headers); err != nil {
		return errors.Wrap(err, "unable to write CSV headers")
	}

	rows := StringifyRows(rowsI)
	if err := w.WriteAll(rows); err != nil {
		return errors.Wrap(err, "unable to format CSV")
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return errors.Wrap(err, "writing CSV")
	}

	return nil
}
