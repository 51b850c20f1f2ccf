package filesystem

import (
	"context"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
)

var (
	_ fs.Node               = (*dirNode)(nil)
	_ fs.HandleReadDirAller = (*dirNode)(nil)
	_ fs.NodeStringLookuper = (*dirNode)(nil)
	_ fs.NodeCreater        = (*dirNode)(nil)
)

// dirNode is a directory of our filesystem, either the synthetic root,
// the synthetic wrapped folder or a directory within the origin tree.
// All requests are dispatched to the [Router] by the virtual path.
type dirNode struct {
	fsys  *FS    // Pointer to our filesystem.
	inode uint64 // Inode within our filesystem.
	path  string // Virtual path within our filesystem.
}

func (d *dirNode) Attr(_ context.Context, a *fuse.Attr) error {
	md, err := d.fsys.Router.Attributes(d.path)
	if err != nil {
		return toFuseErr(err)
	}
	fillAttr(a, d.inode, md)

	return nil
}

func (d *dirNode) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	names, err := d.fsys.Router.List(d.path)
	if err != nil {
		return nil, toFuseErr(err)
	}

	resp := make([]fuse.Dirent, 0, len(names))

	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}

		p, err := d.fsys.Router.Resolve(joinVirtual(d.path, name))
		if err != nil || p.Kind == PathInvalid {
			continue // vanished or neither directory nor regular file
		}

		typ := fuse.DT_File
		if p.IsDir {
			typ = fuse.DT_Dir
		}

		resp = append(resp, fuse.Dirent{
			Name:  name,
			Type:  typ,
			Inode: fs.GenerateDynamicInode(d.inode, name),
		})
	}

	return resp, nil
}

func (d *dirNode) Lookup(_ context.Context, name string) (fs.Node, error) {
	p, err := d.fsys.Router.Resolve(joinVirtual(d.path, name))
	if err != nil {
		return nil, toFuseErr(err)
	}

	inode := fs.GenerateDynamicInode(d.inode, name)

	switch {
	case p.Kind == PathInvalid:
		return nil, toFuseErr(syscall.ENOENT)

	case p.IsDir:
		return &dirNode{fsys: d.fsys, inode: inode, path: p.Virtual}, nil

	default:
		return &fileNode{fsys: d.fsys, inode: inode, path: p.Virtual}, nil
	}
}

func (d *dirNode) Create(_ context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	vpath := joinVirtual(d.path, req.Name)

	if err := d.fsys.Router.Create(vpath); err != nil {
		return nil, nil, toFuseErr(err)
	}

	n := &fileNode{
		fsys:  d.fsys,
		inode: fs.GenerateDynamicInode(d.inode, req.Name),
		path:  classify(vpath).Virtual,
	}
	resp.Flags |= fuse.OpenDirectIO

	return n, n, nil
}

// fillAttr fills a [fuse.Attr] from the [Metadata] of a [Router].
func fillAttr(a *fuse.Attr, inode uint64, md Metadata) {
	a.Inode = inode
	a.Mode = md.Mode
	a.Nlink = md.Nlink
	a.Size = md.Size
	a.Uid = md.UID
	a.Gid = md.GID

	a.Atime = md.Mtime
	a.Ctime = md.Mtime
	a.Mtime = md.Mtime

	if !md.Mode.IsDir() {
		a.Valid = 0 // size follows the context
	}
}
