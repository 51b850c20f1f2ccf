// Package logging implements the handling of logs.
package logging

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02 15:04:05"

type entry struct {
	at  time.Time
	msg string
}

func (e entry) String() string {
	return e.at.Format(timestampFormat) + " " + e.msg
}

// RingBuffer keeps the most recent log messages in memory, while also
// writing each of them out to a stream (such as stderr or a log file).
type RingBuffer struct {
	mu    sync.Mutex
	out   io.Writer
	buf   []entry
	next  int
	count int
}

// NewRingBuffer returns a pointer to a new [RingBuffer] holding up to size
// messages. A size below one is raised to one.
func NewRingBuffer(size int, out io.Writer) *RingBuffer {
	if out == nil {
		out = io.Discard
	}

	return &RingBuffer{
		out: out,
		buf: make([]entry, max(1, size)),
	}
}

// Size returns the capacity of the ring-buffer.
func (b *RingBuffer) Size() int {
	return len(b.buf)
}

// Len returns the amount of messages currently held.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Lines returns the held messages (oldest first) with their timestamps.
func (b *RingBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, b.count)
	start := (b.next - b.count + len(b.buf)) % len(b.buf)

	for i := range b.count {
		out = append(out, b.buf[(start+i)%len(b.buf)].String())
	}

	return out
}

// Reset drops all held messages.
func (b *RingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.buf)
	b.next = 0
	b.count = 0
}

// Printf adds a message to the ring-buffer and also writes it to the stream.
func (b *RingBuffer) Printf(format string, args ...any) {
	b.add(fmt.Sprintf(format, args...))
}

// Println adds a message to the ring-buffer and also writes it to the stream.
func (b *RingBuffer) Println(args ...any) {
	b.add(fmt.Sprintln(args...))
}

func (b *RingBuffer) add(msg string) {
	e := entry{
		at:  time.Now(),
		msg: strings.TrimRight(msg, "\n"),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf[b.next] = e
	b.next = (b.next + 1) % len(b.buf)
	b.count = min(b.count+1, len(b.buf))

	fmt.Fprintln(b.out, e.String())
}
