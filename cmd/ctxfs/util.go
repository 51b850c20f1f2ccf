package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"text/tabwriter"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/ctxfs/internal/filesystem"
	"github.com/desertwitch/ctxfs/internal/logging"
	"github.com/dustin/go-humanize"
)

const stackTraceBuffer = 1 << 24

// signalHandler observes the runtime signals of a mounted filesystem.
type signalHandler struct {
	mountDir string
	rbuf     *logging.RingBuffer
	stderr   io.Writer
	sigs     chan os.Signal

	unmount func(dir string) error
}

func newSignalHandler(mountDir string, rbuf *logging.RingBuffer, stderr io.Writer) *signalHandler {
	h := &signalHandler{
		mountDir: mountDir,
		rbuf:     rbuf,
		stderr:   stderr,
		sigs:     make(chan os.Signal, 1),
		unmount:  fuse.Unmount,
	}
	signal.Notify(h.sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)

	return h
}

// Stop stops the delivery of signals to the handler.
func (h *signalHandler) Stop() {
	signal.Stop(h.sigs)
}

// Handle processes signals until done is closed.
func (h *signalHandler) Handle(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sig := <-h.sigs:
			h.handle(sig)
		}
	}
}

func (h *signalHandler) handle(sig os.Signal) {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM:
		h.rbuf.Println("Signal received, unmounting the filesystem...")

		if err := h.unmount(h.mountDir); err != nil {
			h.rbuf.Printf("Unmount error: %v (try again later)\n", err)
		}

	case syscall.SIGUSR1:
		h.rbuf.Println("Signal received, forcing garbage collection...")
		runtime.GC()
		debug.FreeOSMemory()

	case syscall.SIGUSR2:
		h.rbuf.Println("Signal received, printing stacktrace (to stderr)...")
		buf := make([]byte, stackTraceBuffer)
		stacklen := runtime.Stack(buf, true)
		_, _ = h.stderr.Write(buf[:stacklen])
	}
}

// printTree walks the filesystem in-memory and prints every
// path with its mode and size, without mounting it.
func printTree(ctx context.Context, fsys *filesystem.FS, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0) //nolint:mnd

	err := fsys.Walk(ctx, func(path string, _ *fuse.Dirent, _ fs.Node, attr fuse.Attr) error {
		_, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", attr.Mode, humanize.IBytes(attr.Size), path)

		return err //nolint:wrapcheck
	})
	if err != nil {
		return fmt.Errorf("failed to walk filesystem: %w", err)
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	return nil
}
