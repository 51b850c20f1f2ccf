package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	contextFileName = "context"
	wrappedDirName  = "wrapped"

	// ContextFilePath is the virtual path of the context file.
	ContextFilePath = "/" + contextFileName

	// WrappedDirPath is the virtual path mirroring the origin root.
	WrappedDirPath = "/" + wrappedDirName
)

// PathKind is the category a virtual path was classified into.
type PathKind int

const (
	PathInvalid PathKind = iota
	PathRoot
	PathContextFile
	PathWrappedRoot
	PathWrappedEntry
)

func (k PathKind) String() string {
	switch k {
	case PathRoot:
		return "root"
	case PathContextFile:
		return "context-file"
	case PathWrappedRoot:
		return "wrapped-root"
	case PathWrappedEntry:
		return "wrapped-entry"
	default:
		return "invalid"
	}
}

// Path is a classified virtual path, produced once per request.
type Path struct {
	Kind PathKind

	Virtual string    // Cleaned virtual path within our filesystem.
	Rel     string    // Path relative to the origin root (wrapped entries).
	Origin  string    // Resolved path within the origin tree (wrapped only).
	IsDir   bool      // If the path represents a directory.
	Mtime   time.Time // Modified time of the origin object (wrapped only).
}

// IsFile returns if the path represents a readable regular file.
func (p Path) IsFile() bool {
	return p.Kind == PathContextFile || (p.Kind == PathWrappedEntry && !p.IsDir)
}

// classify lexically classifies a virtual path, without touching the origin
// tree. Wrapped entries are returned unresolved, see [Router.Resolve].
func classify(vpath string) Path {
	if !strings.HasPrefix(vpath, "/") {
		return Path{Kind: PathInvalid, Virtual: vpath}
	}
	clean := path.Clean(vpath)

	switch {
	case clean == "/":
		return Path{Kind: PathRoot, Virtual: clean, IsDir: true}

	case clean == ContextFilePath:
		return Path{Kind: PathContextFile, Virtual: clean}

	case clean == WrappedDirPath:
		return Path{Kind: PathWrappedRoot, Virtual: clean, IsDir: true}

	case strings.HasPrefix(clean, WrappedDirPath+"/"):
		rel := strings.TrimPrefix(clean, WrappedDirPath+"/")
		if !filepath.IsLocal(rel) {
			return Path{Kind: PathInvalid, Virtual: clean}
		}

		return Path{Kind: PathWrappedEntry, Virtual: clean, Rel: rel}

	default:
		return Path{Kind: PathInvalid, Virtual: clean}
	}
}

// Resolve classifies a virtual path and, for wrapped entries, stats the
// origin object. A wrapped entry without an origin object is invalid, as is
// one that is neither a directory nor a regular file. Other stat errors are
// returned as they are.
func (r *Router) Resolve(vpath string) (Path, error) {
	p := classify(vpath)

	switch p.Kind { //nolint:exhaustive
	case PathWrappedRoot:
		p.Origin = r.origin

		return p, nil

	case PathWrappedEntry:
		p.Origin = filepath.Join(r.origin, filepath.FromSlash(p.Rel))

		info, err := os.Stat(p.Origin)
		if errors.Is(err, fs.ErrNotExist) {
			return Path{Kind: PathInvalid, Virtual: p.Virtual}, nil
		} else if err != nil {
			return p, fmt.Errorf("failed to stat origin: %w", err)
		}

		switch {
		case info.IsDir():
			p.IsDir = true
		case info.Mode().IsRegular():
			p.IsDir = false
		default:
			return Path{Kind: PathInvalid, Virtual: p.Virtual}, nil
		}
		p.Mtime = info.ModTime()

		return p, nil

	default:
		return p, nil
	}
}
