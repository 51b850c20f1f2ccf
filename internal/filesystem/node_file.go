package filesystem

import (
	"context"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"bazil.org/fuse/fuseutil"
)

var (
	_ fs.Node            = (*fileNode)(nil)
	_ fs.NodeOpener      = (*fileNode)(nil)
	_ fs.NodeSetattrer   = (*fileNode)(nil)
	_ fs.HandleReader    = (*fileNode)(nil)
	_ fs.HandleWriter    = (*fileNode)(nil)
)

// fileNode is a file of our filesystem, either the synthetic context file
// or a regular file within the origin tree (with the context prefixed).
//
// Its content is produced in full by the [Router] on every read request,
// then sliced into the offset and size as requested by the kernel.
type fileNode struct {
	fsys  *FS    // Pointer to our filesystem.
	inode uint64 // Inode within our filesystem.
	path  string // Virtual path within our filesystem.
}

func (f *fileNode) Attr(_ context.Context, a *fuse.Attr) error {
	md, err := f.fsys.Router.Attributes(f.path)
	if err != nil {
		return toFuseErr(err)
	}
	fillAttr(a, f.inode, md)

	return nil
}

func (f *fileNode) Open(_ context.Context, _ *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if err := f.fsys.Router.Open(f.path); err != nil {
		return nil, toFuseErr(err)
	}

	// Content changes with every context write, the page cache must not serve it.
	resp.Flags |= fuse.OpenDirectIO

	return f, nil
}

func (f *fileNode) Setattr(_ context.Context, req *fuse.SetattrRequest, _ *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		if err := f.fsys.Router.Truncate(f.path, req.Size); err != nil {
			return toFuseErr(err)
		}
	}

	return nil
}

func (f *fileNode) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	data, err := f.fsys.Router.Read(f.path)
	if err != nil {
		return toFuseErr(err)
	}
	fuseutil.HandleRead(req, resp, data)

	return nil
}

func (f *fileNode) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, err := f.fsys.Router.Write(f.path, req.Data)
	if err != nil {
		return toFuseErr(err)
	}
	resp.Size = n

	return nil
}
