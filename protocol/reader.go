package protocol

import (
	"errors"
	"io"
)

const (
	defaultBufferSize = 4096

	// maxEmptyReads is how many consecutive zero-byte reads are tolerated
	maxEmptyReads = 100
)

// Reader is a streaming RESP reader. It owns a growable buffer that is kept
// across calls, so switching between ReadNext and ReadSnapshot on the same
// stream never drops or replays bytes.
type Reader struct {
	rd       io.Reader
	buf      []byte
	start    int
	end      int
	consumed int64
	limits   Limits
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		rd:     r,
		buf:    make([]byte, defaultBufferSize),
		limits: DefaultLimits,
	}
}

// SetLimits replaces the size limits applied to subsequent frames
func (r *Reader) SetLimits(limits Limits) {
	r.limits = limits
}

// ReadNext reads the next RESP value from the stream
func (r *Reader) ReadNext() (Value, error) {
	for {
		if r.end > r.start {
			v, n, err := ParseWithLimits(r.buf[r.start:r.end], r.limits)
			if err == nil {
				r.advance(n)
				return v, nil
			}
			if !errors.Is(err, ErrIncomplete) {
				return Value{}, r.absolute(err)
			}
		}
		if err := r.fill(); err != nil {
			return Value{}, err
		}
	}
}

// ReadSnapshot reads the `$<len>\r\n<payload>` frame that follows
// FULLRESYNC. The payload is returned as is and is never interpreted.
func (r *Reader) ReadSnapshot() ([]byte, error) {
	for {
		if r.end > r.start {
			data, n, err := parseSnapshot(r.buf[r.start:r.end], r.limits)
			if err == nil {
				r.advance(n)
				return data, nil
			}
			if !errors.Is(err, ErrIncomplete) {
				return nil, r.absolute(err)
			}
		}
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
}

// Consumed returns the total number of bytes handed out as complete frames
func (r *Reader) Consumed() int64 {
	return r.consumed
}

// Buffered returns the number of bytes read from the source but not yet
// consumed
func (r *Reader) Buffered() int {
	return r.end - r.start
}

func (r *Reader) advance(n int) {
	r.start += n
	r.consumed += int64(n)
	if r.start == r.end {
		r.start, r.end = 0, 0
	}
}

// absolute rebases a ProtocolError offset onto the whole stream
func (r *Reader) absolute(err error) error {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		pe.Offset += int(r.consumed)
	}
	return err
}

// fill reads at least one more byte into the buffer, compacting or growing
// it first when there is no room left
func (r *Reader) fill() error {
	if r.start > 0 {
		copy(r.buf, r.buf[r.start:r.end])
		r.end -= r.start
		r.start = 0
	}
	if r.end == len(r.buf) {
		grown := make([]byte, 2*len(r.buf))
		copy(grown, r.buf[:r.end])
		r.buf = grown
	}

	for i := 0; i < maxEmptyReads; i++ {
		n, err := r.rd.Read(r.buf[r.end:])
		if n < 0 || n > len(r.buf)-r.end {
			return errors.New("protocol: reader returned invalid count")
		}
		r.end += n
		if n > 0 {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) && r.end > r.start {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return io.ErrNoProgress
}
