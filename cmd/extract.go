package cmd

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strings"
	"time"

	"github.com/h2non/filetype"
	filetypeTypes "github.com/h2non/filetype/types"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/cobalt-tools/sigback/backup"
	"github.com/cobalt-tools/sigback/signal"
)

var filenameDB = "signal.db"
var FolderAttachment = "Attachments"
var FolderAvatar = "Avatars"
var FolderSticker = "Stickers"
var FolderSettings = "Settings"
var stickerInfoFilename = "pack_info.json"

// Extract fulfils the `extract` subcommand.
var Extract = cli.Command{
	Name:               "extract",
	Usage:              "Decrypt contents into individual files",
	UsageText:          "Decrypt the backup and extract all files inside it.",
	CustomHelpTemplate: SubcommandHelp,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "outdir, o",
			Usage: "output files to `DIRECTORY` (default current directory)",
		},
		&cli.BoolFlag{
			Name:  "attachments",
			Usage: "Skip extracting attachments",
		},
		&cli.BoolFlag{
			Name:  "avatars",
			Usage: "Skip extracting avatars",
		},
		&cli.BoolFlag{
			Name:  "stickers",
			Usage: "Skip extracting stickers",
		},
		&cli.BoolFlag{
			Name:  "settings",
			Usage: "Skip extracting settings",
		},
		&cli.BoolFlag{
			Name:  "database",
			Usage: "Skip extracting database",
		},
	}, coreFlags...),
	Action: func(c *cli.Context) error {
		ctx, err := setup(c)
		if err != nil {
			return err
		}
		defer ctx.Close()

		basePath := c.String("outdir")

		if basePath != "" {
			if err := os.MkdirAll(basePath, 0755); err != nil {
				return errors.Wrap(err, "unable to create output directory")
			}
		}
		if !c.Bool("attachments") {
			if err := os.MkdirAll(path.Join(basePath, FolderAttachment), 0755); err != nil {
				return errors.Wrap(err, "unable to create attachment directory")
			}
		}
		if !c.Bool("avatars") {
			if err := os.MkdirAll(path.Join(basePath, FolderAvatar), 0755); err != nil {
				return errors.Wrap(err, "unable to create avatar directory")
			}
		}
		if !c.Bool("stickers") {
			if err := os.MkdirAll(path.Join(basePath, FolderSticker), 0755); err != nil {
				return errors.Wrap(err, "unable to create sticker directory")
			}
		}
		if !c.Bool("settings") {
			if err := os.MkdirAll(path.Join(basePath, FolderSettings), 0755); err != nil {
				return errors.Wrap(err, "unable to create settings directory")
			}
		}
		if err := ExtractFiles(ctx, c, basePath); err != nil {
			return errors.Wrap(err, "failed to extract backup")
		}

		return nil
	},
}

type avatarInfo struct {
	DisplayName *string
	ProfileName *string
	fetchTime   int64
}

type stickerInfo struct {
	PackID    string `json:"pack_id"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	size      int64
	stickerID int64
	cover     bool
}

// ExtractFiles materializes the replayed database and, for every category
// not explicitly skipped, writes its payloads and metadata under base.
func ExtractFiles(ctx *backup.Context, c *cli.Context, base string) error {
	if err := ctx.MaterializeDatabase(); err != nil {
		return err
	}

	if !c.Bool("database") {
		if err := ctx.ExportSQLite(path.Join(base, filenameDB)); err != nil {
			return errors.Wrap(err, "export database")
		}
	}

	if !c.Bool("attachments") {
		if err := extractAttachments(ctx, base); err != nil {
			return err
		}
	}
	if !c.Bool("avatars") {
		if err := extractAvatars(ctx, base); err != nil {
			return err
		}
	}
	if !c.Bool("stickers") {
		if err := extractStickers(ctx, base); err != nil {
			return err
		}
	}
	if !c.Bool("settings") {
		if err := extractSettings(ctx, base); err != nil {
			return err
		}
	}

	log.Println("Done!")
	return nil
}

func extractAttachments(ctx *backup.Context, base string) error {
	attachments, err := ctx.AttachmentsAll()
	if err != nil {
		return errors.Wrap(err, "query attachments")
	}

	for _, a := range attachments {
		if !a.HasRef {
			log.Printf("attachment (row %d, unique %d) has no recorded payload", a.RowID, a.UniqueID)
			continue
		}

		fileName := fmt.Sprintf("%d", a.UniqueID)
		if a.FileName != nil {
			fileName += "." + *a.FileName
		}
		if a.ContentType == "" {
			log.Printf("attachment %d has no declared content type", a.UniqueID)
		}

		safeFileName := escapeFileName(fileName)
		pathName := path.Join(base, FolderAttachment, safeFileName)
		if err := writeAttachment(ctx, pathName, a.Ref); err != nil {
			return errors.Wrap(err, "attachment")
		} else if _, err := fixFileExtension(pathName, a.ContentType); err != nil {
			return errors.Wrap(err, "attachment")
		}
	}
	return nil
}

func extractAvatars(ctx *backup.Context, base string) error {
	meta, err := loadAvatarMetadata(ctx)
	if err != nil {
		return errors.Wrap(err, "avatar metadata")
	}

	for recipientID, ref := range ctx.AttachmentIndex().Avatars() {
		info, hasInfo := meta[recipientID]

		fileName := recipientID
		mtime := int64(0)

		if !hasInfo {
			log.Printf("avatar `%v` has no associated SQL entry", recipientID)
		} else {
			if info.DisplayName != nil {
				fileName += fmt.Sprintf(" (%s)", *info.DisplayName)
			} else if info.ProfileName != nil {
				fileName += fmt.Sprintf(" (%s)", *info.ProfileName)
			}
			mtime = info.fetchTime
		}

		pathName := path.Join(base, FolderAvatar, escapeFileName(fileName))
		if err := writeAttachment(ctx, pathName, ref); err != nil {
			return errors.Wrap(err, "avatar")
		} else if newName, err := fixFileExtension(pathName, ""); err != nil {
			return errors.Wrap(err, "avatar")
		} else if err := setFileTimestamp(newName, mtime); err != nil {
			return errors.Wrap(err, "avatar")
		}
	}
	return nil
}

func extractStickers(ctx *backup.Context, base string) error {
	meta, err := loadStickerMetadata(ctx)
	if err != nil {
		return errors.Wrap(err, "sticker metadata")
	}

	for rowID, ref := range ctx.AttachmentIndex().Stickers() {
		info, hasInfo := meta[rowID]

		fileName := fmt.Sprintf("%v", rowID)
		packPath := path.Join(base, FolderSticker)

		if !hasInfo {
			log.Printf("sticker `%v` has no associated SQL entry", rowID)
		} else {
			if info.size != int64(ref.Length) {
				log.Printf("sticker length (%d) mismatches SQL entry.size (%d)", ref.Length, info.size)
			}
			fileName = fmt.Sprintf("%d", info.stickerID)

			packPath = path.Join(packPath, info.PackID)
			if err := os.MkdirAll(packPath, 0755); err != nil {
				return errors.Wrap(err, "unable to create sticker pack directory")
			}

			infoPath := path.Join(packPath, stickerInfoFilename)
			if err := writeJson(infoPath, info); err != nil {
				return errors.Wrap(err, "sticker pack info")
			}
		}

		pathName := path.Join(packPath, fileName)
		if err := writeAttachment(ctx, pathName, ref); err != nil {
			return errors.Wrap(err, "sticker")
		} else if _, err := fixFileExtension(pathName, ""); err != nil {
			return errors.Wrap(err, "sticker")
		}
	}
	return nil
}

// extractSettings makes a fresh pass over the frame stream (payloads have
// already been consumed during MaterializeDatabase, but the iterator never
// writes them anywhere, so replaying it a second time is harmless) to
// collect the shared-preference entries, which are not replayed into the
// database.
func extractSettings(ctx *backup.Context, base string) error {
	if err := ctx.Rewind(); err != nil {
		return err
	}

	prefs := make(map[string]map[string]interface{})
	frames := ctx.Frames()
	for {
		df, err := frames.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if df.Frame.Kind != signal.FramePreference {
			continue
		}
		p := df.Frame.Preference
		m, exist := prefs[p.File]
		if !exist {
			m = make(map[string]interface{})
			prefs[p.File] = m
		}
		m[p.Key] = p.Value
	}

	if err := ctx.Rewind(); err != nil {
		return err
	}

	for fileName, kv := range prefs {
		pathName := path.Join(base, FolderSettings, fileName+".json")
		if err := writeJson(pathName, kv); err != nil {
			return errors.Wrap(err, "settings")
		}
	}
	return nil
}

func loadAvatarMetadata(ctx *backup.Context) (map[string]avatarInfo, error) {
	out := make(map[string]avatarInfo)
	db := ctx.DB()

	var rows *sql.Rows
	var err error
	legacy := ctx.SchemaVersion() < 24

	if legacy {
		rows, err = db.Query(`SELECT recipient_ids, system_display_name, signal_profile_name FROM recipient_preferences`)
	} else {
		rows, err = db.Query(`SELECT _id, system_display_name, signal_profile_name, last_profile_fetch FROM recipient`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var displayName, profileName sql.NullString
		var fetchTime sql.NullInt64

		if legacy {
			if err := rows.Scan(&key, &displayName, &profileName); err != nil {
				return nil, err
			}
		} else {
			var id int64
			if err := rows.Scan(&id, &displayName, &profileName, &fetchTime); err != nil {
				return nil, err
			}
			key = fmt.Sprintf("%d", id)
		}

		info := avatarInfo{}
		if displayName.Valid {
			info.DisplayName = &displayName.String
		}
		if profileName.Valid {
			info.ProfileName = &profileName.String
		}
		info.fetchTime = fetchTime.Int64
		out[key] = info
	}
	return out, rows.Err()
}

func loadStickerMetadata(ctx *backup.Context) (map[uint64]stickerInfo, error) {
	out := make(map[uint64]stickerInfo)
	rows, err := ctx.DB().Query(`SELECT _id, pack_id, pack_title, pack_author, file_length, sticker_id, cover FROM sticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id uint64
		var packID, title, author sql.NullString
		var fileLength, stickerID, cover sql.NullInt64
		if err := rows.Scan(&id, &packID, &title, &author, &fileLength, &stickerID, &cover); err != nil {
			return nil, err
		}
		out[id] = stickerInfo{
			PackID:    packID.String,
			Title:     title.String,
			Author:    author.String,
			size:      fileLength.Int64,
			stickerID: stickerID.Int64,
			cover:     cover.Int64 != 0,
		}
	}
	return out, rows.Err()
}

func writeJson(pathName string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "\t")
	if err != nil {
		return errors.Wrap(err, "json marshal error")
	}
	return writeFile(pathName, func(file io.Writer) error {
		_, err := file.Write(data)
		return err
	})
}

func writeAttachment(ctx *backup.Context, pathName string, ref backup.FileRef) error {
	return writeFile(pathName, func(file io.Writer) error {
		return ctx.WriteAttachment(ref, file)
	})
}

func writeFile(pathName string, write func(w io.Writer) error) error {
	file, err := os.OpenFile(pathName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.ModePerm)
	if err != nil {
		return errors.Wrap(err, "failed to create "+pathName)
	}
	defer file.Close()
	if err := write(file); err != nil {
		return errors.Wrap(err, "failed to write "+pathName)
	}
	if err := file.Close(); err != nil {
		return errors.Wrap(err, "failed to close "+pathName)
	}
	return nil
}

func setFileTimestamp(pathName string, milliseconds int64) error {
	if milliseconds != 0 {
		atime := time.Time{} // leave unchanged
		mtime := time.UnixMilli(milliseconds)

		if err := os.Chtimes(pathName, atime, mtime); err != nil {
			return errors.Wrap(err, "failed to change timestamp of attachment file")
		}
	}
	return nil
}

// escapeFileName converts illegal filename characters into url-style %XX
// substrings.
func escapeFileName(fileName string) string {
	const illegal = `<>:"/\|?*`
	var s strings.Builder
	for _, c := range fileName {
		if c < ' ' || strings.IndexRune(illegal, c) >= 0 {
			fmt.Fprintf(&s, "%%%02X", c)
		} else {
			s.WriteRune(c)
		}
	}
	return s.String()
}

func fixFileExtension(pathName string, mimeType string) (string, error) {
	// Set default extension by MIME type
	ext := ""
	if mimeType != "" {
		mimeExt, hasExt := GetExtension(mimeType)
		if hasExt {
			ext = mimeExt
		} else {
			log.Printf("mime type `%s` not recognised", mimeType)
		}
	}

	// Inspect the file data itself to detect proper extension
	if kind, err := filetype.MatchFile(pathName); err != nil {
		log.Println("MatchFile:", err.Error())
	} else {
		if kind != filetype.Unknown {
			if ext != "" && (kind.MIME.Value != mimeType || kind.Extension != ext) {
				log.Printf("detected file type: %s (.%s)", kind.MIME.Value, kind.Extension)
				log.Printf("mismatches declared type: %s (.%s)", mimeType, ext)
			}
			ext = kind.Extension
		} else {
			log.Printf("unable to detect file type of %v", pathName)
			if ext != "" {
				log.Printf("using declared MIME type: %s (.%s)", mimeType, ext)
			}
		}
	}

	// If existing extension is already correct, do not double-append
	givenExt := path.Ext(pathName)
	if givenExt == ".jpeg" {
		givenExt = ".jpg"
	}
	if givenExt == "."+ext {
		ext = ""
	}

	// Rename the file with proper extension
	newName := pathName
	if ext != "" {
		newName += "." + ext
		if err := os.Rename(pathName, newName); err != nil {
			return "", errors.Wrap(err, "change extension")
		}
	}
	return newName, nil
}

// GetExtension looks up the file extension registered for a MIME type.
// There is no simple `GetExtension(mime)` API in h2non/filetype, so this
// walks the same type registry filetype.IsMIMESupported does.
func GetExtension(mime string) (string, bool) {
	found := false
	ext := ""

	filetype.Types.Range(func(k, v interface{}) bool {
		kind := v.(filetypeTypes.Type)
		if kind.MIME.Value == mime {
			ext = kind.Extension
			found = true
		}
		return !found
	})

	return ext, found
}
