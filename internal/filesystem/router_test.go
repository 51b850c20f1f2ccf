package filesystem

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: Directories should report the synthetic directory metadata.
func Test_Router_Attributes_Dirs_Success(t *testing.T) {
	t.Parallel()
	tmpDir, fsys := testFS(t, io.Discard)

	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "sub"), 0o700))
	uid, gid := identity()

	for _, vpath := range []string{"/", "/wrapped", "/wrapped/sub"} {
		md, err := fsys.Router.Attributes(vpath)
		require.NoError(t, err, vpath)

		require.Equal(t, os.ModeDir|os.FileMode(dirPerm), md.Mode, vpath)
		require.Equal(t, uint32(dirNlink), md.Nlink, vpath)
		require.Equal(t, uint64(dirSize), md.Size, vpath)
		require.Equal(t, uid, md.UID, vpath)
		require.Equal(t, gid, md.GID, vpath)
		require.NotZero(t, md.Mtime, vpath)
	}
}

// Expectation: A wrapped file should report read-only mode and the materialized size.
func Test_Router_Attributes_WrappedFile_Success(t *testing.T) {
	t.Parallel()
	tmpDir, fsys := testFS(t, io.Discard)

	writeOrigin(t, tmpDir, "hello.txt", []byte("hello"))

	md, err := fsys.Router.Attributes("/wrapped/hello.txt")
	require.NoError(t, err)
	require.Equal(t, os.FileMode(wrappedFilePerm), md.Mode)
	require.Equal(t, uint32(fileNlink), md.Nlink)
	require.Equal(t, uint64(5), md.Size)

	_, err = fsys.Router.Write("/context", []byte("ctx1"))
	require.NoError(t, err)

	md, err = fsys.Router.Attributes("/wrapped/hello.txt")
	require.NoError(t, err)
	require.Equal(t, uint64(len("ctx1\nhello")), md.Size)
}

// Expectation: The context file should report the prefix size, not the content size.
func Test_Router_Attributes_ContextFile_Success(t *testing.T) {
	t.Parallel()
	_, fsys := testFS(t, io.Discard)

	md, err := fsys.Router.Attributes("/context")
	require.NoError(t, err)
	require.Equal(t, os.FileMode(contextFilePerm), md.Mode)
	require.Equal(t, uint64(0), md.Size)

	_, err = fsys.Router.Write("/context", []byte("a\nb\n"))
	require.NoError(t, err)

	md, err = fsys.Router.Attributes("/context")
	require.NoError(t, err)
	require.Equal(t, uint64(len("a\nb\n")), md.Size)

	data, err := fsys.Router.Read("/context")
	require.NoError(t, err)
	require.Equal(t, []byte("a\nb\nzeub\n"), data)
	require.Equal(t, len(data)-len(contextMarker+"\n"), int(md.Size))
}

// Expectation: With ExactContextSize the context file should report its content size.
func Test_Router_Attributes_ContextFile_ExactSize_Success(t *testing.T) {
	t.Parallel()
	_, fsys := testFS(t, io.Discard)

	fsys.Options.ExactContextSize.Store(true)

	_, err := fsys.Router.Write("/context", []byte("a\nb"))
	require.NoError(t, err)

	md, err := fsys.Router.Attributes("/context")
	require.NoError(t, err)

	data, err := fsys.Router.Read("/context")
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), md.Size)
}

// Expectation: Attributes on paths that do not exist should fail with ErrNotFound.
func Test_Router_Attributes_NotFound_Error(t *testing.T) {
	t.Parallel()
	_, fsys := testFS(t, io.Discard)

	for _, vpath := range []string{"/wrapped/missing.txt", "/missing", "/context/x", "relative"} {
		_, err := fsys.Router.Attributes(vpath)
		require.ErrorIs(t, err, ErrNotFound, vpath)
	}
}

// Expectation: The root should always list the dot entries and both fixed names.
func Test_Router_List_Root_Success(t *testing.T) {
	t.Parallel()
	tmpDir, fsys := testFS(t, io.Discard)

	names, err := fsys.Router.List("/")
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "wrapped", "context"}, names)

	writeOrigin(t, tmpDir, "file.txt", []byte("x"))
	_, err = fsys.Router.Write("/context", []byte("something"))
	require.NoError(t, err)

	names, err = fsys.Router.List("/")
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "wrapped", "context"}, names)
}

// Expectation: The wrapped root and wrapped dirs should list their origin children.
func Test_Router_List_Wrapped_Success(t *testing.T) {
	t.Parallel()
	tmpDir, fsys := testFS(t, io.Discard)

	writeOrigin(t, tmpDir, "b.txt", []byte("b"))
	writeOrigin(t, tmpDir, "a.txt", []byte("a"))
	writeOrigin(t, tmpDir, "sub/c.txt", []byte("c"))

	names, err := fsys.Router.List("/wrapped")
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "a.txt", "b.txt", "sub"}, names)

	names, err = fsys.Router.List("/wrapped/sub")
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "c.txt"}, names)
}

// Expectation: Listing anything that is not a directory should fail with ErrNotFound.
func Test_Router_List_NotFound_Error(t *testing.T) {
	t.Parallel()
	tmpDir, fsys := testFS(t, io.Discard)

	writeOrigin(t, tmpDir, "file.txt", []byte("x"))

	for _, vpath := range []string{"/context", "/wrapped/file.txt", "/wrapped/missing", "/missing"} {
		_, err := fsys.Router.List(vpath)
		require.ErrorIs(t, err, ErrNotFound, vpath)
	}
}

// Expectation: A wrapped file should be read verbatim, then with the context prefixed.
func Test_Router_Read_WrappedFile_Success(t *testing.T) {
	t.Parallel()
	tmpDir, fsys := testFS(t, io.Discard)

	writeOrigin(t, tmpDir, "hello.txt", []byte("hello"))

	data, err := fsys.Router.Read("/wrapped/hello.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	_, err = fsys.Router.Write("/context", []byte("ctx1"))
	require.NoError(t, err)

	data, err = fsys.Router.Read("/wrapped/hello.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("ctx1\nhello"), data)

	require.Equal(t, int64(2), fsys.Metrics.TotalReads.Load())
	require.Equal(t, int64(len("hello")+len("ctx1\nhello")), fsys.Metrics.TotalReadBytes.Load())
}

// Expectation: Repeated reads without intervening writes should return identical bytes.
func Test_Router_Read_Idempotent_Success(t *testing.T) {
	t.Parallel()
	tmpDir, fsys := testFS(t, io.Discard)

	writeOrigin(t, tmpDir, "sub/data.bin", []byte{0x00, 0x01, 0xff})
	_, err := fsys.Router.Write("/context", []byte("one\ntwo"))
	require.NoError(t, err)

	first, err := fsys.Router.Read("/wrapped/sub/data.bin")
	require.NoError(t, err)

	for range 3 {
		again, err := fsys.Router.Read("/wrapped/sub/data.bin")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}

	require.Equal(t, []byte("one\ntwo\n\x00\x01\xff"), first)
}

// Expectation: Origin changes should be visible on the next read (no caching).
func Test_Router_Read_NoCaching_Success(t *testing.T) {
	t.Parallel()
	tmpDir, fsys := testFS(t, io.Discard)

	path := writeOrigin(t, tmpDir, "file.txt", []byte("old"))

	data, err := fsys.Router.Read("/wrapped/file.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("old"), data)

	require.NoError(t, os.WriteFile(path, []byte("new content"), 0o644))

	data, err = fsys.Router.Read("/wrapped/file.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("new content"), data)
}

// Expectation: The context file should read as the store followed by the marker.
func Test_Router_Read_ContextFile_Success(t *testing.T) {
	t.Parallel()
	_, fsys := testFS(t, io.Discard)

	data, err := fsys.Router.Read("/context")
	require.NoError(t, err)
	require.Empty(t, data)

	_, err = fsys.Router.Write("/context", []byte("a\nb"))
	require.NoError(t, err)

	data, err = fsys.Router.Read("/context")
	require.NoError(t, err)
	require.Equal(t, []byte("a\nb\nzeub\n"), data)
}

// Expectation: Reading directories or missing paths should fail with ErrNotFound.
func Test_Router_Read_NotFound_Error(t *testing.T) {
	t.Parallel()
	tmpDir, fsys := testFS(t, io.Discard)

	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "sub"), 0o755))

	for _, vpath := range []string{"/", "/wrapped", "/wrapped/sub", "/wrapped/missing.txt", "/missing"} {
		_, err := fsys.Router.Read(vpath)
		require.ErrorIs(t, err, ErrNotFound, vpath)
	}
	require.Zero(t, fsys.Metrics.TotalReads.Load())
}

// Expectation: An origin that vanishes between resolution and read should propagate the host error.
func Test_Router_Read_OriginError_Error(t *testing.T) {
	t.Parallel()
	tmpDir, fsys := testFS(t, io.Discard)

	path := writeOrigin(t, tmpDir, "gone.txt", []byte("x"))

	p, err := fsys.Router.Resolve("/wrapped/gone.txt")
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = fsys.Router.materialize(p)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NotErrorIs(t, err, ErrNotFound)
}

// Expectation: Writes to the context file should be fully accepted and appended.
func Test_Router_Write_ContextFile_Success(t *testing.T) {
	t.Parallel()
	_, fsys := testFS(t, io.Discard)

	data := []byte("alpha\nbeta\n\ncharlie")
	n, err := fsys.Router.Write("/context", data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	n, err = fsys.Router.Write("/context", []byte("  delta  \n"))
	require.NoError(t, err)
	require.Equal(t, len("  delta  \n"), n)

	require.Equal(t, []string{"alpha", "beta", "charlie", "delta"}, fsys.Context().Lines())
	require.Equal(t, int64(2), fsys.Metrics.TotalWrites.Load())
	require.Equal(t, int64(4), fsys.Metrics.TotalContextLines.Load())
}

// Expectation: Writes anywhere but the context file should fail with ErrNotFound.
func Test_Router_Write_NotFound_Error(t *testing.T) {
	t.Parallel()
	tmpDir, fsys := testFS(t, io.Discard)

	origin := writeOrigin(t, tmpDir, "file.txt", []byte("orig"))

	for _, vpath := range []string{"/", "/wrapped", "/wrapped/file.txt", "/wrapped/new.txt", "/other"} {
		_, err := fsys.Router.Write(vpath, []byte("data"))
		require.ErrorIs(t, err, ErrNotFound, vpath)
	}

	content, err := os.ReadFile(origin)
	require.NoError(t, err)
	require.Equal(t, []byte("orig"), content)
	require.Equal(t, 0, fsys.Context().Len())
}

// Expectation: Open should always succeed, even for paths that do not exist.
func Test_Router_Open_Success(t *testing.T) {
	t.Parallel()
	_, fsys := testFS(t, io.Discard)

	for _, vpath := range []string{"/", "/context", "/wrapped", "/wrapped/missing", "/nothing"} {
		require.NoError(t, fsys.Router.Open(vpath), vpath)
	}
}

// Expectation: Create should only succeed for the context file and not touch the store.
func Test_Router_Create_Success(t *testing.T) {
	t.Parallel()
	_, fsys := testFS(t, io.Discard)

	_, err := fsys.Router.Write("/context", []byte("keep"))
	require.NoError(t, err)

	require.NoError(t, fsys.Router.Create("/context"))
	require.Equal(t, []string{"keep"}, fsys.Context().Lines())
}

// Expectation: Create anywhere but the context file should fail with ErrNotFound.
func Test_Router_Create_NotFound_Error(t *testing.T) {
	t.Parallel()
	tmpDir, fsys := testFS(t, io.Discard)

	for _, vpath := range []string{"/", "/new", "/wrapped", "/wrapped/new.txt", "/wrapped/sub/new.txt"} {
		require.ErrorIs(t, fsys.Router.Create(vpath), ErrNotFound, vpath)
	}

	entries, err := os.ReadDir(tmpDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

// Expectation: Truncate should be a no-op that never fails or resizes the context.
func Test_Router_Truncate_Success(t *testing.T) {
	t.Parallel()
	_, fsys := testFS(t, io.Discard)

	_, err := fsys.Router.Write("/context", []byte("x\ny"))
	require.NoError(t, err)

	for _, vpath := range []string{"/context", "/wrapped/missing", "/"} {
		require.NoError(t, fsys.Router.Truncate(vpath, 0), vpath)
	}

	require.Equal(t, []string{"x", "y"}, fsys.Context().Lines())
}

// Expectation: Verbose mode should log every request, errors should always be logged.
func Test_Router_Logging_Success(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	_, fsys := testFS(t, &out)

	_, _ = fsys.Router.Attributes("/context")
	require.Empty(t, out.String())

	fsys.Options.Verbose.Store(true)
	_, _ = fsys.Router.Attributes("/context")
	require.Contains(t, out.String(), `Attributes: "/context"`)

	_, _ = fsys.Router.Write("/context", []byte("a"))
	require.True(t, strings.Contains(out.String(), "Context: 1 line(s) appended"))
}

// Expectation: AppendContext should report the lines added by its own call and count as a write.
func Test_Router_AppendContext_Success(t *testing.T) {
	t.Parallel()
	_, fsys := testFS(t, io.Discard)

	require.Equal(t, 2, fsys.Router.AppendContext([]byte("one\n\n two ")))
	require.Zero(t, fsys.Router.AppendContext([]byte(" \n\t")))
	require.Equal(t, 1, fsys.Router.AppendContext([]byte("three")))

	require.Equal(t, []string{"one", "two", "three"}, fsys.Context().Lines())
	require.Equal(t, int64(3), fsys.Metrics.TotalWrites.Load())
	require.Equal(t, int64(3), fsys.Metrics.TotalContextLines.Load())
}

// Expectation: Concurrent appends should each report exactly their own added lines.
func Test_Router_AppendContext_Concurrent_Success(t *testing.T) {
	t.Parallel()
	_, fsys := testFS(t, io.Discard)

	var wg sync.WaitGroup
	var mismatches atomic.Int64

	for range 8 {
		wg.Go(func() {
			for range 50 {
				if fsys.Router.AppendContext([]byte("x\ny\n")) != 2 {
					mismatches.Add(1)
				}
			}
		})
	}
	wg.Wait()

	require.Zero(t, mismatches.Load())
	require.Equal(t, 800, fsys.Context().Len())
}
