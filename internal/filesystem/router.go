package filesystem

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/desertwitch/ctxfs/internal/logging"
)

const (
	dirNlink  = 2
	fileNlink = 1
	dirSize   = 4096
)

// ErrNotFound is returned by every [Router] operation that is given a path
// which does not exist or does not accept the operation.
var ErrNotFound = errors.New("no such entry")

// Metadata describes an entry of the filesystem.
type Metadata struct {
	Mode  os.FileMode
	Nlink uint32
	Size  uint64
	UID   uint32
	GID   uint32
	Mtime time.Time
}

// Router classifies each incoming virtual path and dispatches the
// operation. It owns the [ContextStore] which all operations share.
type Router struct {
	origin  string
	store   *ContextStore
	opts    *Options
	metrics *Metrics
	recent  *accessTracker
	rbuf    *logging.RingBuffer

	uid   uint32
	gid   uint32
	mtime time.Time
}

func newRouter(origin string, opts *Options, metrics *Metrics, recent *accessTracker, rbuf *logging.RingBuffer) *Router {
	uid, gid := identity()

	return &Router{
		origin:  origin,
		store:   NewContextStore(),
		opts:    opts,
		metrics: metrics,
		recent:  recent,
		rbuf:    rbuf,
		uid:     uid,
		gid:     gid,
		mtime:   time.Now(),
	}
}

// Store returns the [ContextStore] owned by the [Router].
func (r *Router) Store() *ContextStore {
	return r.store
}

// Attributes returns the [Metadata] of the entry at vpath.
func (r *Router) Attributes(vpath string) (Metadata, error) {
	r.trace("Attributes", vpath)

	p, err := r.Resolve(vpath)
	if err != nil {
		return Metadata{}, r.fail("Attributes", vpath, err)
	}

	md := Metadata{
		UID:   r.uid,
		GID:   r.gid,
		Mtime: r.mtime,
	}
	if !p.Mtime.IsZero() {
		md.Mtime = p.Mtime
	}

	switch {
	case p.Kind == PathInvalid:
		return Metadata{}, r.notFound("Attributes", vpath)

	case p.IsDir:
		md.Mode = os.ModeDir | dirPerm
		md.Nlink = dirNlink
		md.Size = dirSize

	case p.Kind == PathContextFile:
		md.Mode = contextFilePerm
		md.Nlink = fileNlink
		md.Size = r.contextSize()

	default:
		data, err := r.materialize(p)
		if err != nil {
			return Metadata{}, r.fail("Attributes", vpath, err)
		}
		md.Mode = wrappedFilePerm
		md.Nlink = fileNlink
		md.Size = uint64(len(data))
	}

	return md, nil
}

// List returns the names within the directory at vpath,
// always led by the "." and ".." entries.
func (r *Router) List(vpath string) ([]string, error) {
	r.trace("List", vpath)

	p, err := r.Resolve(vpath)
	if err != nil {
		return nil, r.fail("List", vpath, err)
	}

	names := []string{".", ".."}

	switch {
	case p.Kind == PathRoot:
		return append(names, wrappedDirName, contextFileName), nil

	case p.Kind == PathWrappedRoot, p.Kind == PathWrappedEntry && p.IsDir:
		entries, err := os.ReadDir(p.Origin)
		if err != nil {
			return nil, r.fail("List", vpath, fmt.Errorf("failed to read origin dir: %w", err))
		}
		for _, e := range entries {
			names = append(names, e.Name())
		}

		return names, nil

	default:
		return nil, r.notFound("List", vpath)
	}
}

// Read returns the complete logical content of the file at vpath.
// Slicing of the content by offset and size is left to the transport.
func (r *Router) Read(vpath string) ([]byte, error) {
	r.trace("Read", vpath)

	p, err := r.Resolve(vpath)
	if err != nil {
		return nil, r.fail("Read", vpath, err)
	}

	var data []byte

	switch {
	case p.Kind == PathContextFile:
		data = r.store.Content()

	case p.Kind == PathWrappedEntry && !p.IsDir:
		data, err = r.materialize(p)
		if err != nil {
			return nil, r.fail("Read", vpath, err)
		}

	default:
		return nil, r.notFound("Read", vpath)
	}

	r.metrics.TotalReads.Add(1)
	r.metrics.TotalReadBytes.Add(int64(len(data)))
	r.recent.Touch(p.Virtual)

	return data, nil
}

// Write appends the lines of data onto the [ContextStore], it is only
// accepted for the context file. The full length of data is always
// reported back as written.
func (r *Router) Write(vpath string, data []byte) (int, error) {
	r.trace("Write", vpath)

	if classify(vpath).Kind != PathContextFile {
		return 0, r.notFound("Write", vpath)
	}

	r.appendContext(data)

	return len(data), nil
}

// AppendContext appends the lines of data onto the [ContextStore] like a
// write to the context file does. It returns the amount of lines added.
func (r *Router) AppendContext(data []byte) int {
	r.trace("Write", ContextFilePath)

	return r.appendContext(data)
}

func (r *Router) appendContext(data []byte) int {
	added := r.store.Append(data)

	r.metrics.TotalWrites.Add(1)
	r.metrics.TotalWriteBytes.Add(int64(len(data)))
	r.metrics.TotalContextLines.Add(int64(added))

	if added > 0 {
		r.rbuf.Printf("Context: %d line(s) appended\n", added)
	}

	return added
}

// Open always succeeds, as no state is kept per handle.
func (r *Router) Open(vpath string) error {
	r.trace("Open", vpath)

	return nil
}

// Create only succeeds for the context file and leaves
// the [ContextStore] untouched, no other file can be created.
func (r *Router) Create(vpath string) error {
	r.trace("Create", vpath)

	if classify(vpath).Kind != PathContextFile {
		return r.notFound("Create", vpath)
	}

	return nil
}

// Truncate is accepted for any path and is a no-op, because
// the size of the context file is derived and never stored.
func (r *Router) Truncate(vpath string, length uint64) error {
	if r.opts.Verbose.Load() {
		r.rbuf.Printf("Truncate: %q (%d)\n", vpath, length)
	}

	return nil
}

// contextSize is the size reported for the context file.
func (r *Router) contextSize() uint64 {
	if r.opts.ExactContextSize.Load() {
		return uint64(len(r.store.Content()))
	}

	return uint64(len(r.store.Prefix()))
}

func (r *Router) trace(op string, vpath string) {
	if r.opts.Verbose.Load() {
		r.rbuf.Printf("%s: %q\n", op, vpath)
	}
}

func (r *Router) notFound(op string, vpath string) error {
	if r.opts.Verbose.Load() {
		r.rbuf.Printf("%s: %q: not found\n", op, vpath)
	}

	return fmt.Errorf("%w: %q", ErrNotFound, vpath)
}

func (r *Router) fail(op string, vpath string, err error) error {
	r.metrics.Errors.Add(1)
	r.rbuf.Printf("Error: %s: %q: %v\n", op, vpath, err)

	return err
}
