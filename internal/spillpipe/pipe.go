// Package spillpipe implements the "spillable pipe" described in spec.md
// §4.1: a unidirectional, ordered byte queue between a producer calling
// Write and a consumer driven through Start, which overflows to a
// temporary file once an in-memory watermark is exceeded so that a slow or
// paused consumer can never force unbounded memory growth.
//
// Grounded on the FileBackedPipe references throughout
// original_source/.../RequestHandler.h (clientBodyBuffer, clientOutputPipe,
// onCommit/isCommittingToDisk) and on hexinfra-gorox's _contentSaver_ mixin
// for the "spill large content under a temp dir" idiom.
package spillpipe

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/xid"
)

// Ack is how a consumer acknowledges a delivered chunk: consumed is how
// many of the leading bytes it accepted, stopNow requests that delivery
// pause even if consumed == len(chunk).
type Ack func(consumed int, stopNow bool)

// Pipe is a spillable, ordered byte pipe. The zero value is not usable;
// construct with New.
type Pipe struct {
	dir       string
	watermark int

	// Tag, if set before the first spill, is embedded in the spill
	// file's name so an on-disk file can be traced back to whichever
	// connection or pipe created it. Purely for operator debugging;
	// leaving it empty still produces a unique name.
	Tag string

	mu         sync.Mutex
	queue      [][]byte // pending in-memory chunks, oldest first
	queuedSize int
	spilling   bool // once true, all further Write calls go straight to file
	committing bool // a disk write is in flight; producer must pause
	file       *os.File
	filePath   string
	fileSize   int64 // bytes written to file so far
	fileRead   int64 // bytes delivered from file so far
	ended      bool
	terminal   bool // true once OnError or OnEnd has fired; pipe is dead

	paused  bool   // delivery suspended after a partial/stopNow ack
	pending []byte // leftover tail of a partially-acked chunk

	// OnData, OnEnd and OnError are only ever invoked synchronously from
	// within a call the consumer's own goroutine made (Write, End, Start,
	// or Drain) — never from Pipe's internal spill goroutine. OnCommit is
	// the sole exception: it fires once a disk write attempt finishes
	// (nil err on success), and it DOES run on the internal spill
	// goroutine, so it must only ever post to a channel the consumer's
	// goroutine reads from, never touch consumer state directly. On a
	// non-nil err the consumer's goroutine must call Fail(err) itself;
	// on nil it should call Drain() to resume delivering whatever the
	// disk write just made available.
	OnData   func(data []byte, ack Ack)
	OnEnd    func()
	OnError  func(err error)
	OnCommit func(err error)
}

// New creates a Pipe that spills into dir once more than watermark bytes
// are queued in memory.
func New(dir string, watermark int) *Pipe {
	return &Pipe{dir: dir, watermark: watermark}
}

// Fail marks the pipe terminal and fires OnError, reporting err. The
// caller's goroutine becomes the one OnError runs on, so only call this
// from the consumer's own goroutine — typically in response to a non-nil
// err delivered through OnCommit.
func (p *Pipe) Fail(err error) { p.fail(err) }

// Drain resumes attempting delivery without changing the paused flag,
// invoking OnData/OnEnd synchronously on the caller's goroutine. Call this
// from the consumer's goroutine after OnCommit reports success, to push
// whatever the disk write just made available.
func (p *Pipe) Drain() { p.tryDeliver() }

// Write enqueues b for delivery. It returns true if b was accepted purely
// in memory, false if the pipe has begun (or continues) spilling to disk —
// in which case the producer must stop calling Write until OnCommit fires.
func (p *Pipe) Write(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	p.mu.Lock()
	if p.terminal {
		p.mu.Unlock()
		return true
	}
	if !p.spilling && p.queuedSize+len(b) <= p.watermark {
		cp := append([]byte(nil), b...)
		p.queue = append(p.queue, cp)
		p.queuedSize += len(b)
		p.mu.Unlock()
		p.tryDeliver()
		return true
	}

	// Must spill. Open the file on first overflow.
	if p.file == nil {
		if err := p.openFile(); err != nil {
			p.mu.Unlock()
			p.fail(err)
			return false
		}
	}
	p.spilling = true
	p.committing = true
	cp := append([]byte(nil), b...)
	p.mu.Unlock()

	go p.spillToDisk(cp)
	return false
}

func (p *Pipe) openFile() error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return err
	}
	suffix := xid.New().String()
	base := fmt.Sprintf("passrelay-pipe-%s", suffix)
	if p.Tag != "" {
		base = fmt.Sprintf("passrelay-pipe-%s-%s", p.Tag, suffix)
	}
	name := filepath.Join(p.dir, base)
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	p.file = f
	p.filePath = name
	return nil
}

func (p *Pipe) spillToDisk(b []byte) {
	p.mu.Lock()
	f := p.file
	off := p.fileSize
	p.mu.Unlock()

	_, err := f.WriteAt(b, off)

	p.mu.Lock()
	if err == nil {
		p.fileSize += int64(len(b))
	}
	p.committing = false
	p.mu.Unlock()

	if p.OnCommit != nil {
		p.OnCommit(err)
	}
}

// IsCommittingToDisk reports whether a disk write is currently in flight.
func (p *Pipe) IsCommittingToDisk() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.committing
}

// IsSpilling reports whether the pipe has ever overflowed to disk.
func (p *Pipe) IsSpilling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spilling
}

// End marks that no more data will be written. OnEnd fires once everything
// already queued/spilled has been delivered.
func (p *Pipe) End() {
	p.mu.Lock()
	p.ended = true
	p.mu.Unlock()
	p.tryDeliver()
}

// Start (re)enables delivery, immediately attempting to flush whatever is
// queued or buffered-but-unacked.
func (p *Pipe) Start() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.tryDeliver()
}

// Stop suspends delivery until the next Start call.
func (p *Pipe) Stop() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resettable reports whether the pipe holds no in-flight background work,
// i.e. it is safe to discard or recycle (data model invariant: a Client is
// poolable only when all four I/O endpoints are resettable).
func (p *Pipe) Resettable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.committing
}

// Close releases the spill file, if any.
func (p *Pipe) Close() error {
	p.mu.Lock()
	f := p.file
	path := p.filePath
	p.file = nil
	p.mu.Unlock()
	if f == nil {
		return nil
	}
	f.Close()
	return os.Remove(path)
}

func (p *Pipe) fail(err error) {
	p.mu.Lock()
	if p.terminal {
		p.mu.Unlock()
		return
	}
	p.terminal = true
	p.mu.Unlock()
	if p.OnError != nil {
		p.OnError(err)
	}
}

// tryDeliver drains as much as it can to OnData, stopping when paused,
// when there's nothing left, or when a consumer partially acks a chunk.
func (p *Pipe) tryDeliver() {
	for {
		p.mu.Lock()
		if p.terminal || p.paused {
			p.mu.Unlock()
			return
		}

		var chunk []byte
		switch {
		case len(p.pending) > 0:
			chunk = p.pending
			p.pending = nil
		case len(p.queue) > 0:
			chunk = p.queue[0]
			p.queue = p.queue[1:]
			p.queuedSize -= len(chunk)
		case p.fileRead < p.fileSize && !p.committing:
			n := p.fileSize - p.fileRead
			if n > 65536 {
				n = 65536
			}
			buf := make([]byte, n)
			f := p.file
			off := p.fileRead
			p.mu.Unlock()
			read, err := f.ReadAt(buf, off)
			if err != nil && read == 0 {
				p.fail(err)
				return
			}
			p.mu.Lock()
			p.fileRead += int64(read)
			chunk = buf[:read]
		default:
			ended := p.ended
			nothingLeft := len(p.queue) == 0 && p.fileRead >= p.fileSize && !p.committing
			p.mu.Unlock()
			if ended && nothingLeft {
				p.finish()
			}
			return
		}
		p.mu.Unlock()

		if len(chunk) == 0 {
			continue
		}

		// OnData is contractually synchronous: it must call ack before
		// returning, same as the original FileBackedPipe's consumer
		// callback contract.
		var consumed int
		var stopNow bool
		acked := false
		ack := func(c int, s bool) {
			consumed, stopNow = c, s
			acked = true
		}
		if p.OnData != nil {
			p.OnData(chunk, ack)
		} else {
			ack(len(chunk), false)
		}
		if !acked {
			panic("spillpipe: consumer did not ack synchronously")
		}

		if consumed < len(chunk) {
			p.mu.Lock()
			p.pending = chunk[consumed:]
			p.paused = true
			p.mu.Unlock()
			return
		}
		if stopNow {
			p.mu.Lock()
			p.paused = true
			p.mu.Unlock()
			return
		}
	}
}

func (p *Pipe) finish() {
	p.mu.Lock()
	if p.terminal {
		p.mu.Unlock()
		return
	}
	p.terminal = true
	p.mu.Unlock()
	if p.OnEnd != nil {
		p.OnEnd()
	}
}
