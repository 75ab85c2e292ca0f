package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/cobalt-tools/sigback/backup"
	"github.com/cobalt-tools/sigback/signal"
)

// Analyse fulfils the `analyse` subcommand.
var Analyse = cli.Command{
	Name:               "analyse",
	Aliases:            []string{"analyze"},
	Usage:              "Report information about the backup file",
	Description:        "Perform integrity check and password validation on the entire file. \nOptionally display statistical information.",
	CustomHelpTemplate: SubcommandHelp,
	ArgsUsage:          "BACKUPFILE",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "summary, s",
			Usage: "Count each type of frame in the file",
		},
		&cli.BoolFlag{
			Name:  "frames, f",
			Usage: "Report header info for every frame",
		},
		&cli.BoolFlag{
			Name:  "body, b",
			Usage: "Show frame body for every frame (very verbose!)",
		},
	}, coreFlags...),
	Action: func(c *cli.Context) error {
		ctx, err := setup(c)
		if err != nil {
			return err
		}
		defer ctx.Close()

		fmt.Println("Analysing...")
		counts, err := AnalyseFile(ctx, c)
		if err != nil {
			return errors.WithMessage(err, "failed to analyse file")
		}
		fmt.Println("Password valid, file OK")

		if c.Bool("summary") {
			for key, count := range counts {
				fmt.Printf("%v: %v\n", key, count)
			}
		}

		return nil
	},
}

// AnalyseFile walks the frame stream once, tabulating the frequency of
// every frame and statement kind it finds. If frames/body are requested on
// the command line, it also prints a description of each frame as it goes.
func AnalyseFile(ctx *backup.Context, c *cli.Context) (map[string]int, error) {
	counts := make(map[string]int)

	statementTypes := make(map[string]string)
	for _, caps := range []string{
		"CREATE TABLE ",
		"CREATE VIRTUAL TABLE ",
		"CREATE INDEX ",
		"CREATE UNIQUE INDEX ",
		"CREATE TRIGGER ",
		"DROP TABLE",
		"DROP INDEX",
	} {
		key := strings.ToLower(caps)
		key = strings.ReplaceAll(key, " ", "_")
		key = "stmt_" + key
		key = key[:len(key)-1]
		statementTypes[caps] = key
	}

	wantFrames := c.Bool("frames")
	wantBody := c.Bool("body")

	frames := ctx.Frames()
	frameNumber := 1
	ended := false
	for {
		df, err := frames.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		f := df.Frame

		if ended {
			fmt.Println("*** Warning: more frames found after 'end' frame")
		}

		desc := fmt.Sprintf("FRAME %d", frameNumber)

		switch f.Kind {
		case signal.FrameVersion:
			desc += fmt.Sprintf(" version:%d", f.Version.Version)
			counts["version"]++
			if c.Bool("summary") {
				fmt.Println("Database version", f.Version.Version)
			}
		case signal.FrameStatement:
			stmt := f.Statement.Statement
			desc += fmt.Sprintf(" stmt:%v", firstWords(stmt, 3))
			found := false
			for prefix, key := range statementTypes {
				if strings.HasPrefix(stmt, prefix) {
					counts[key]++
					found = true
				}
			}
			if !found && strings.HasPrefix(stmt, "INSERT INTO") {
				words := strings.SplitN(stmt, " ", 4)
				if len(words) >= 3 {
					counts["stmt_insert_into_"+words[2]]++
					found = true
				}
			}
			if !found {
				counts["stmt_other"]++
			}
		case signal.FramePreference:
			desc += fmt.Sprintf(" pref[%s/%s]", f.Preference.File, f.Preference.Key)
			counts["pref"]++
		case signal.FrameAttachment:
			counts["attachment"]++
			if df.Payload != nil {
				desc += fmt.Sprintf(" attachment[%d]", df.Payload.Length)
				counts["bytes_attachment"] += int(df.Payload.Length)
			}
		case signal.FrameAvatar:
			desc += fmt.Sprintf(" avatar[%d]", f.Avatar.Length)
			counts["avatar"]++
			counts["bytes_avatar"] += int(f.Avatar.Length)
		case signal.FrameSticker:
			desc += fmt.Sprintf(" sticker[%d]", f.Sticker.Length)
			counts["sticker"]++
			counts["bytes_sticker"] += int(f.Sticker.Length)
		case signal.FrameEnd:
			desc += fmt.Sprintf(" end[%v]", f.End)
			counts["end"]++
		}

		if f.HasEnd && f.End {
			ended = true
		}

		if wantFrames {
			fmt.Println(desc)
		}
		if wantBody {
			fmt.Printf("%+v\n", f)
		}
		frameNumber++
	}

	if err := ctx.Rewind(); err != nil {
		return nil, err
	}
	return counts, nil
}

func firstWords(s string, n int) []string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return words
}
