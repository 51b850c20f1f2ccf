// Package filesystem implements the filesystem.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/ctxfs/internal/logging"
)

const (
	dirPerm         = 0o755
	contextFilePerm = 0o644
	wrappedFilePerm = 0o444 // RO

	defaultExactContextSize = false
	defaultRecentTTL        = 5 * time.Minute
	defaultVerbose          = false
)

var (
	_ fs.FS               = (*FS)(nil)
	_ fs.FSInodeGenerator = (*FS)(nil)

	errMissingArgument = errors.New("missing argument")
	errInvalidArgument = errors.New("invalid argument")
)

// Options contains all settings for the operation of the filesystem.
// All non-atomic fields can no longer be modified at runtime (once mounted).
type Options struct {
	// ExactContextSize controls if the context file reports the size of its
	// actual content (including the trailing marker). When disabled, the size
	// of the context as prefixed onto wrapped files is reported instead.
	ExactContextSize atomic.Bool

	// RecentTTL is how long a read path is remembered for diagnostics.
	// Tracking of recently read paths is disabled when it is zero.
	RecentTTL time.Duration

	// Verbose controls if every filesystem request is being logged.
	Verbose atomic.Bool
}

// DefaultOptions returns a pointer to [Options] with the default values.
func DefaultOptions() *Options {
	opts := &Options{
		RecentTTL: defaultRecentTTL,
	}
	opts.ExactContextSize.Store(defaultExactContextSize)
	opts.Verbose.Store(defaultVerbose)

	return opts
}

// Metrics contains all metrics which are collected within the filesystem.
type Metrics struct {
	// Errors is the amount of errors returned by the filesystem.
	Errors atomic.Int64

	// TotalReads is the amount of served file reads.
	TotalReads atomic.Int64

	// TotalReadBytes is the amount of bytes served by file reads.
	TotalReadBytes atomic.Int64

	// TotalWrites is the amount of writes to the context file.
	TotalWrites atomic.Int64

	// TotalWriteBytes is the amount of bytes written to the context file.
	TotalWriteBytes atomic.Int64

	// TotalContextLines is the amount of lines appended to the context.
	TotalContextLines atomic.Int64
}

// Reset returns all metrics to zero.
func (m *Metrics) Reset() {
	m.Errors.Store(0)
	m.TotalReads.Store(0)
	m.TotalReadBytes.Store(0)
	m.TotalWrites.Store(0)
	m.TotalWriteBytes.Store(0)
	m.TotalContextLines.Store(0)
}

// FS is the core implementation of the filesystem.
type FS struct {
	OriginDir string
	MountTime time.Time

	Options *Options
	Metrics *Metrics
	Router  *Router

	recent *accessTracker
	rbuf   *logging.RingBuffer
}

// NewFS returns a pointer to a new [FS].
// You must call Cleanup() once all work is complete.
func NewFS(originDir string, opts *Options, rbuf *logging.RingBuffer) (*FS, error) {
	if rbuf == nil {
		return nil, fmt.Errorf("%w: need a ring buffer", errMissingArgument)
	}
	if originDir == "" {
		return nil, fmt.Errorf("%w: need an origin dir", errMissingArgument)
	}
	info, err := os.Stat(originDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat origin dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: origin %q is not a directory", errInvalidArgument, originDir)
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	fsys := &FS{
		OriginDir: originDir,
		MountTime: time.Now(),
		Options:   opts,
		Metrics:   &Metrics{},
		recent:    newAccessTracker(opts.RecentTTL),
		rbuf:      rbuf,
	}
	fsys.Router = newRouter(originDir, opts, fsys.Metrics, fsys.recent, rbuf)

	return fsys, nil
}

// Cleanup does filesystem cleanup, dropping all diagnostic records.
func (fsys *FS) Cleanup() {
	fsys.recent.Reset()
}

// Context returns the [ContextStore] of the filesystem.
func (fsys *FS) Context() *ContextStore {
	return fsys.Router.Store()
}

// RecentReads returns the paths that were recently read.
func (fsys *FS) RecentReads() []AccessRecord {
	return fsys.recent.Records()
}

// ResetRecentReads drops all records of recently read paths.
func (fsys *FS) ResetRecentReads() {
	fsys.recent.Reset()
}

// Root returns the entry-point [fs.Node] of the filesystem.
func (fsys *FS) Root() (fs.Node, error) {
	return &dirNode{
		fsys:  fsys,
		inode: 1,
		path:  "/",
	}, nil
}

// GenerateInode implements [fs.FSInodeGenerator] to prevent dynamic
// inode generation by the fallback method inside of the FUSE library.
//
// [FS] handles inodes internally, so dynamic inode generation within the
// FUSE library (being the fallback on encountering zero inodes) is a core
// violation of this very design principle. Calls to this method will panic,
// revealing where internal inode handling does not produce the valid inode.
func (fsys *FS) GenerateInode(_ uint64, _ string) uint64 {
	panic("unhandled zero inode triggered an illegal dynamic generation")
}

// WalkFunc gets called on each visited [fs.Node] as part of a [FS.Walk].
// Do note that as the root directory is synthetic, the [fuse.Dirent] will be nil.
// All paths provided to the callback are virtual paths within the filesystem.
type WalkFunc func(path string, dirent *fuse.Dirent, node fs.Node, attr fuse.Attr) error

// Walk constructs and walks the [FS] in-memory, calling walkFn on each visited [fs.Node].
func (fsys *FS) Walk(ctx context.Context, walkFn WalkFunc) error {
	root, err := fsys.Root()
	if err != nil {
		return fmt.Errorf("failed to get fs root: %w", err)
	}

	return fsys.walkNode(ctx, "/", nil, root, walkFn)
}

// walkNode handles walking of a [fs.Node] within the [FS].
func (fsys *FS) walkNode(ctx context.Context, path string, dirent *fuse.Dirent, node fs.Node, walkFn WalkFunc) error {
	var attr fuse.Attr

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	if err := node.Attr(ctx, &attr); err != nil {
		return fmt.Errorf("attr error at %q: %w", path, err)
	}

	if err := walkFn(path, dirent, node, attr); err != nil {
		return fmt.Errorf("walkfn error at %q: %w", path, err)
	}

	readDirNode, ok := node.(fs.HandleReadDirAller)
	if !ok {
		return nil
	}

	dirents, err := readDirNode.ReadDirAll(ctx)
	if err != nil {
		return fmt.Errorf("readdirall error at %q: %w", path, err)
	}

	lookupNode, ok := node.(fs.NodeStringLookuper)
	if !ok {
		return nil
	}

	for _, de := range dirents {
		childPath := joinVirtual(path, de.Name)

		childNode, err := lookupNode.Lookup(ctx, de.Name)
		if err != nil {
			return fmt.Errorf("lookup error for %q at %q: %w", de.Name, path, err)
		}

		if err := fsys.walkNode(ctx, childPath, &de, childNode, walkFn); err != nil {
			return fmt.Errorf("walkfn error at %q: %w", childPath, err)
		}
	}

	return nil
}
