package filesystem

import (
	"errors"
	"io/fs"
	"syscall"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"
)

// joinVirtual joins a virtual directory path and an entry name.
func joinVirtual(dir string, name string) string {
	if dir == "/" {
		return "/" + name
	}

	return dir + "/" + name
}

// identity returns the user and group identifiers of the running process,
// which are reported as the owner of every entry.
func identity() (uint32, uint32) {
	return uint32(unix.Getuid()), uint32(unix.Getgid()) //nolint:gosec
}

func toFuseErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return fuse.ToErrno(syscall.ENOENT)

	case errors.Is(err, fs.ErrPermission):
		return fuse.ToErrno(syscall.EACCES)

	default:
		return fuse.ToErrno(syscall.EIO)
	}
}
