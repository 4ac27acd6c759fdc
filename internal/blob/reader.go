package blob

import (
	"encoding/binary"
	"fmt"

	"github.com/avoronov/lastvault/internal/common"
)

// The blob is a flat sequence of chunks. Each chunk is a 4-character ASCII
// tag, a 32-bit big-endian payload length, and exactly that many payload
// bytes. Chunk payloads that carry multiple values use the same 32-bit
// length prefix per item.

const (
	tagSize    = 4
	lenSize    = 4
	headerSize = tagSize + lenSize
)

type chunk struct {
	tag     string
	payload []byte
	offset  int // offset of the chunk header within the blob
}

// chunkReader walks the blob buffer without backtracking.
type chunkReader struct {
	buf []byte
	pos int
}

func (r *chunkReader) more() bool {
	return r.pos < len(r.buf)
}

func (r *chunkReader) next() (chunk, error) {
	start := r.pos
	if len(r.buf)-r.pos < headerSize {
		return chunk{}, fmt.Errorf("%w: truncated chunk header at offset %d",
			common.ErrBlobFormat, start)
	}

	tag := string(r.buf[r.pos : r.pos+tagSize])
	n := binary.BigEndian.Uint32(r.buf[r.pos+tagSize : r.pos+headerSize])
	r.pos += headerSize

	if uint32(len(r.buf)-r.pos) < n {
		return chunk{}, fmt.Errorf("%w: chunk %q at offset %d declares %d bytes, %d remain",
			common.ErrBlobFormat, tag, start, n, len(r.buf)-r.pos)
	}

	payload := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return chunk{tag: tag, payload: payload, offset: start}, nil
}

// itemReader walks the length-prefixed items inside a chunk payload.
type itemReader struct {
	c   chunk
	pos int
}

func (r *itemReader) more() bool {
	return r.pos < len(r.c.payload)
}

// next returns the next item. Missing items at the end of a payload are
// not an error at this layer; callers use nextOr for optional trailers.
func (r *itemReader) next() ([]byte, error) {
	if len(r.c.payload)-r.pos < lenSize {
		return nil, fmt.Errorf("%w: truncated item in chunk %q at offset %d",
			common.ErrBlobFormat, r.c.tag, r.c.offset)
	}

	n := binary.BigEndian.Uint32(r.c.payload[r.pos : r.pos+lenSize])
	r.pos += lenSize

	if uint32(len(r.c.payload)-r.pos) < n {
		return nil, fmt.Errorf("%w: item in chunk %q at offset %d overruns payload",
			common.ErrBlobFormat, r.c.tag, r.c.offset)
	}

	item := r.c.payload[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return item, nil
}

// nextOr reads the next item, returning def when the payload has no more
// items. Newer servers append items; older blobs simply end early.
func (r *itemReader) nextOr(def []byte) ([]byte, error) {
	if !r.more() {
		return def, nil
	}
	return r.next()
}
