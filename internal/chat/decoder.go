package chat

import (
	"bytes"
	"log/slog"
)

const framePrefix = "data: "

// Decoder turns an append-only byte sequence into protocol frames. The wire
// format is newline-delimited lines where only lines starting with "data: "
// are significant; the frame payload is the remainder of the line, verbatim.
//
// Chunks may be split at arbitrary byte offsets, including inside a
// multi-byte UTF-8 sequence. The decoder buffers raw bytes and only splits
// on '\n', which cannot occur inside a multi-byte sequence, so the frames it
// produces are identical for any chunking of the same byte content.
type Decoder struct {
	buf []byte

	logger *slog.Logger
}

// NewDecoder creates a Decoder that logs dropped lines to the given logger.
func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{
		logger: logger.With(slog.String("module", "decoder")),
	}
}

// Feed appends a chunk to the decoder's buffer and returns the frames from
// all lines completed by it. The final unterminated segment stays buffered
// for the next call.
//
// Lines without the frame prefix are not an error: they are dropped, logged
// at debug level so a server-side framing bug would not disappear silently.
func (d *Decoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var frames []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return frames
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]

		// Tolerate CRLF-terminated streams.
		line = bytes.TrimSuffix(line, []byte("\r"))

		if !bytes.HasPrefix(line, []byte(framePrefix)) {
			if len(line) > 0 {
				d.logger.Debug("Dropping unrecognized line", slog.String("line", string(line)))
			}
			continue
		}
		frames = append(frames, string(line[len(framePrefix):]))
	}
}

// Remainder returns the buffered unterminated tail, if any. It is only used
// for diagnostics when the underlying stream ends mid-line.
func (d *Decoder) Remainder() string {
	return string(d.buf)
}
