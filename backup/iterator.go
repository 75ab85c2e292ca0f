package backup

import (
	"io"

	"github.com/cobalt-tools/sigback/signal"
)

// FrameIterator is a one-shot, non-restartable walk over a context's
// frame stream starting from the file position it was created at. It is
// not itself restartable: to read the frames again, call the context's
// Rewind and obtain a fresh iterator.
type FrameIterator struct {
	ctx  *Context
	done bool
}

// Frames returns an iterator starting at the context's current stream
// position (the start of the encrypted frame stream, immediately after
// Open, or wherever the last Rewind left it).
func (c *Context) Frames() *FrameIterator {
	return &FrameIterator{ctx: c}
}

// DecodedFrame is one frame produced by a FrameIterator. Payload is set
// when the frame carries an attachment, avatar or sticker payload: the
// payload bytes immediately following the frame have already been
// consumed from the file (to keep the stream position correct) and
// recorded as a FileRef for later random-access decryption via
// Context.WriteAttachment.
type DecodedFrame struct {
	Frame   *signal.BackupFrame
	Payload *FileRef
}

// Next decrypts and returns the next frame, or (nil, io.EOF) once the
// stream is exhausted. After an error other than io.EOF the iterator must
// not be used again; open a fresh one after Rewind.
func (it *FrameIterator) Next() (*DecodedFrame, error) {
	if it.done {
		return nil, io.EOF
	}
	frame, _, err := it.ctx.nextFrame()
	if err == io.EOF {
		it.done = true
		return nil, io.EOF
	}
	if err != nil {
		it.done = true
		return nil, err
	}

	df := &DecodedFrame{Frame: frame}
	if length, ok, err := framePayloadLength(frame); ok {
		ref, err := it.ctx.consumePayload(length, nil)
		if err != nil {
			it.done = true
			return nil, err
		}
		df.Payload = &ref
	} else if err != nil {
		it.done = true
		return nil, it.ctx.setErr(newError(FormatError, "attachment frame", err))
	}

	if frame.HasEnd && frame.End {
		it.done = true
	}
	return df, nil
}
