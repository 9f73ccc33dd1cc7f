package worker

import (
	"io"
	"sync"
	"time"
)

// StreamCursor is a handle to a partially-delivered response body: a lazy,
// finite, non-restartable sequence of chunks ended by a terminal marker.
// The producer side (the predictor's reader goroutine) appends chunks as
// they arrive; a single consumer pulls them with a bounded wait or drains
// the remainder at once. A transport error observed mid-stream is delivered
// after the buffered chunks.
type StreamCursor struct {
	mu     sync.Mutex
	chunks [][]byte
	done   bool
	err    error
	notify chan struct{}
}

// NewStreamCursor returns an open cursor.
func NewStreamCursor() *StreamCursor {
	return &StreamCursor{notify: make(chan struct{}, 1)}
}

func (c *StreamCursor) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// append adds one chunk. No-op after close.
func (c *StreamCursor) append(chunk []byte) {
	c.mu.Lock()
	if !c.done {
		c.chunks = append(c.chunks, chunk)
	}
	c.mu.Unlock()
	c.wake()
}

// close marks the terminal position; a nil err ends the stream normally.
func (c *StreamCursor) close(err error) {
	c.mu.Lock()
	if !c.done {
		c.done = true
		c.err = err
	}
	c.mu.Unlock()
	c.wake()
}

// Next blocks for at most timeout and returns the next chunk in production
// order. After the terminal marker it returns io.EOF exactly once per call;
// a mid-stream transport error is returned once the buffer is drained.
func (c *StreamCursor) Next(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		if len(c.chunks) > 0 {
			chunk := c.chunks[0]
			c.chunks = c.chunks[1:]
			c.mu.Unlock()
			return chunk, nil
		}
		if c.done {
			err := c.err
			c.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		c.mu.Unlock()
		select {
		case <-c.notify:
		case <-timer.C:
			return nil, ErrPredictTimeout("no chunk within " + timeout.String())
		}
	}
}

// ReadAll drains the remaining sequence without a bound and returns the
// concatenated bytes. On a mid-stream transport error the bytes read so far
// are returned with the error.
func (c *StreamCursor) ReadAll() ([]byte, error) {
	var out []byte
	for {
		c.mu.Lock()
		for _, chunk := range c.chunks {
			out = append(out, chunk...)
		}
		c.chunks = nil
		if c.done {
			err := c.err
			c.mu.Unlock()
			return out, err
		}
		c.mu.Unlock()
		<-c.notify
	}
}
