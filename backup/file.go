package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/cobalt-tools/sigback/signal"
)

// attachmentBufferSize is the chunk size used when streaming an attachment
// payload through the cipher. Larger buffers don't measurably improve
// throughput but do cost more memory.
const attachmentBufferSize = 8192

// FileRef points at an encrypted attachment/avatar/sticker payload inside
// the backup file. It is immutable once recorded.
type FileRef struct {
	Offset  int64
	Length  uint32
	Counter uint32
}

// Context holds everything needed to read one open backup file: the file
// handle, derived keys, current crypto-stream position, and (once
// MaterializeDatabase has run) the replayed database and attachment
// index. A Context is single-threaded: all operations on it must be
// serialized by the caller.
type Context struct {
	file *os.File
	path string

	cipherKey []byte
	macKey    []byte
	baseIV    []byte
	salt      []byte

	initialCounter uint32
	counter        uint32
	streamStart    int64

	lastErr error

	db              *database
	attachmentIndex *AttachmentIndex
	recipients      *recipientCache
	schemaVersion   uint32
	materialized    bool
}

// Open validates and opens a backup file for reading: it reads the
// unencrypted header frame, derives the cipher and MAC keys from
// passphrase and the header's salt, and positions the context at the
// start of the encrypted frame stream.
func Open(path, passphrase string) (*Context, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, newError(IOError, "open backup file", err)
	}

	ctx := &Context{file: file, path: path}

	header, err := ctx.readHeaderFrame()
	if err != nil {
		file.Close()
		return nil, err
	}
	if header.Version > 0 {
		file.Close()
		return nil, newError(FormatError, "header", errors.Errorf("backup format version %d not supported", header.Version))
	}

	cipherKey, macKey, err := deriveKeys(passphrase, header.Salt)
	if err != nil {
		file.Close()
		return nil, newError(CryptoError, "key derivation", err)
	}

	ctx.cipherKey = cipherKey
	ctx.macKey = macKey
	ctx.baseIV = header.IV
	ctx.salt = header.Salt
	ctx.initialCounter = binary.BigEndian.Uint32(header.IV[0:4])
	ctx.counter = ctx.initialCounter

	pos, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		file.Close()
		return nil, newError(IOError, "seek after header", err)
	}
	ctx.streamStart = pos

	return ctx, nil
}

// Close zeros the key material and closes the file and in-memory
// database, releasing all resources the context owns.
func (c *Context) Close() error {
	for i := range c.cipherKey {
		c.cipherKey[i] = 0
	}
	for i := range c.macKey {
		c.macKey[i] = 0
	}
	var dbErr error
	if c.db != nil {
		dbErr = c.db.close()
	}
	fileErr := c.file.Close()
	if dbErr != nil {
		return dbErr
	}
	return fileErr
}

// LastError returns the most recent error encountered by this context, or
// nil.
func (c *Context) LastError() error { return c.lastErr }

func (c *Context) setErr(err error) error {
	if err != nil {
		c.lastErr = err
	}
	return err
}

// readHeaderFrame reads the unencrypted 4-byte-length-prefixed Header
// frame that starts every backup file.
func (c *Context) readHeaderFrame() (*signal.Header, error) {
	lengthBytes := make([]byte, 4)
	if _, err := io.ReadFull(c.file, lengthBytes); err != nil {
		return nil, c.setErr(newError(IOError, "read header length", err))
	}
	length := binary.BigEndian.Uint32(lengthBytes)

	frame := make([]byte, length)
	if _, err := io.ReadFull(c.file, frame); err != nil {
		return nil, c.setErr(newError(IOError, "read header frame", err))
	}

	bf, err := signal.DecodeBackupFrame(frame)
	if err != nil {
		return nil, c.setErr(newError(FormatError, "decode header frame", err))
	}
	if bf.Header == nil {
		return nil, c.setErr(newError(FormatError, "decode header frame", errors.New("first frame is not a header")))
	}
	if len(bf.Header.IV) != 16 {
		return nil, c.setErr(newError(FormatError, "header", errors.New("no IV in header")))
	}
	return bf.Header, nil
}

// Rewind resets the context to the start of the encrypted frame stream
// and the initial counter value, allowing a fresh single pass over the
// frames. Frame iteration is otherwise non-restartable.
func (c *Context) Rewind() error {
	if _, err := c.file.Seek(c.streamStart, io.SeekStart); err != nil {
		return c.setErr(newError(IOError, "rewind", err))
	}
	c.counter = c.initialCounter
	return nil
}

// nextFrame reads and decrypts the next frame from the current file
// position, authenticating it against the trailing 10-byte MAC. It
// advances the counter by one.
func (c *Context) nextFrame() (*signal.BackupFrame, int64, error) {
	pos, err := c.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, c.setErr(newError(IOError, "seek", err))
	}

	lengthBytes := make([]byte, 4)
	if _, err := io.ReadFull(c.file, lengthBytes); err != nil {
		if err == io.EOF {
			return nil, pos, io.EOF
		}
		return nil, pos, c.setErr(newError(IOError, "read frame length", err))
	}
	length := binary.BigEndian.Uint32(lengthBytes)
	if length <= 10 {
		return nil, pos, c.setErr(newError(FormatError, "frame length", errors.Errorf("frame length %d too short", length)))
	}

	record := make([]byte, length)
	if _, err := io.ReadFull(c.file, record); err != nil {
		return nil, pos, c.setErr(newError(IOError, "read frame", err))
	}

	messageLen := len(record) - 10
	ciphertext := record[:messageLen]
	tag := record[messageLen:]

	if !verifyTruncatedMAC(c.macKey, ciphertext, tag) {
		return nil, pos, c.setErr(newError(AuthError, "frame MAC", errors.New("decryption error, wrong password or corrupt frame")))
	}

	counter := c.counter
	c.counter++

	iv := ivForCounter(c.baseIV, counter)
	block, err := aes.NewCipher(c.cipherKey)
	if err != nil {
		return nil, pos, c.setErr(newError(CryptoError, "cipher init", err))
	}
	stream := cipher.NewCTR(block, iv)
	plaintext := make([]byte, messageLen)
	stream.XORKeyStream(plaintext, ciphertext)

	frame, err := signal.DecodeBackupFrame(plaintext)
	if err != nil {
		return nil, pos, c.setErr(newError(FormatError, "decode frame", err))
	}
	return frame, pos, nil
}

// framePayloadLength returns the declared payload length for a frame
// carrying a file payload (Attachment/Avatar/Sticker), and whether the
// frame carries one at all.
func framePayloadLength(f *signal.BackupFrame) (uint32, bool, error) {
	switch f.Kind {
	case signal.FrameAttachment:
		if !f.Attachment.HasLength() {
			return 0, false, errors.New("attachment frame has no declared length")
		}
		return f.Attachment.Length, true, nil
	case signal.FrameAvatar:
		return f.Avatar.Length, true, nil
	case signal.FrameSticker:
		return f.Sticker.Length, true, nil
	default:
		return 0, false, nil
	}
}

// consumePayload reads length bytes of ciphertext plus a 10-byte MAC from
// the current file position (the payload immediately follows its frame),
// authenticates it, and writes the decrypted bytes to sink if non-nil.
// It captures and returns a FileRef describing the payload's location,
// and advances the counter by one.
func (c *Context) consumePayload(length uint32, sink io.Writer) (FileRef, error) {
	pos, err := c.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return FileRef{}, c.setErr(newError(IOError, "seek before payload", err))
	}

	counter := c.counter
	c.counter++

	ref := FileRef{Offset: pos, Length: length, Counter: counter}

	if err := c.decryptPayloadFrom(c.file, length, counter, sink); err != nil {
		return ref, err
	}
	return ref, nil
}

// WriteAttachment decrypts the payload described by ref, seeking to its
// recorded offset and re-deriving the crypto stream from its recorded
// counter, and writes the plaintext to sink. This is the random-access
// counterpart to the sequential payload consumption performed during
// frame iteration; it does not disturb the context's own counter, but it
// moves the shared file pointer and leaves it at the end of the payload
// (per the resource model, callers must Rewind before resuming frame
// iteration).
func (c *Context) WriteAttachment(ref FileRef, sink io.Writer) error {
	if _, err := c.file.Seek(ref.Offset, io.SeekStart); err != nil {
		return c.setErr(newError(IOError, "seek to attachment", err))
	}
	return c.decryptPayloadFrom(c.file, ref.Length, ref.Counter, sink)
}

// decryptPayloadFrom streams length bytes of ciphertext from r, verifying
// the trailing MAC (computed over IV‖ciphertext, per the attachment wire
// format) and writing plaintext to sink if non-nil.
func (c *Context) decryptPayloadFrom(r io.Reader, length uint32, counter uint32, sink io.Writer) error {
	iv := ivForCounter(c.baseIV, counter)
	block, err := aes.NewCipher(c.cipherKey)
	if err != nil {
		return c.setErr(newError(CryptoError, "cipher init", err))
	}
	stream := cipher.NewCTR(block, iv)
	mac := hmac.New(sha256.New, c.macKey)
	mac.Write(iv)

	remaining := length
	buf := make([]byte, attachmentBufferSize)
	for remaining > 0 {
		n := uint32(len(buf))
		if remaining < n {
			n = remaining
		}
		chunk := buf[:n]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return c.setErr(newError(IOError, "read attachment payload", err))
		}
		mac.Write(chunk)

		out := make([]byte, n)
		stream.XORKeyStream(out, chunk)
		if sink != nil {
			if _, err := sink.Write(out); err != nil {
				return c.setErr(newError(IOError, "write attachment sink", err))
			}
		}
		remaining -= n
	}

	tag := make([]byte, 10)
	if _, err := io.ReadFull(r, tag); err != nil {
		return c.setErr(newError(IOError, "read attachment MAC", err))
	}
	sum := mac.Sum(nil)
	if !hmac.Equal(sum[:10], tag) {
		return c.setErr(newError(AuthError, "attachment MAC", errors.New("decryption error, wrong password or corrupt attachment")))
	}
	return nil
}

// ReadAttachmentText decrypts ref's payload in full and returns it as a
// string, for short text attachments (e.g. the long-message body).
func (c *Context) ReadAttachmentText(ref FileRef) (string, error) {
	var buf bytes.Buffer
	if err := c.WriteAttachment(ref, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
