/*
ctxfs is a FUSE filesystem that mirrors a directory tree read-only and
prepends a shared context onto the content of every file read from it.
The context is built by appending lines to the "/context" file, which can
be read back directly. It includes a HTTP dashboard for basic filesystem
metrics and controlling runtime behavior.

The filesystem exposes the following layout:
  - "/context" is the appendable context file
  - "/wrapped" mirrors the origin directory, with every file prefixed

The following signals are observed and handled by the filesystem:
  - SIGTERM or SIGINT (CTRL+C) gracefully unmounts the filesystem
  - SIGUSR1 forces a garbage collection (within Go)
  - SIGUSR2 dumps a diagnostic stacktrace to standard error (stderr)
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/desertwitch/ctxfs/internal/filesystem"
	"github.com/desertwitch/ctxfs/internal/logging"
	"github.com/desertwitch/ctxfs/internal/webserver"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRingBufferSize = 500
	defaultRecentTTL      = 5 * time.Minute

	helperFDEnv = "CTXFS_HELPER_FD"
)

var (
	// Version is the program version (filled in from the Makefile).
	Version string

	errInvalidArgument = errors.New("invalid argument")
)

type programOpts struct {
	originDir string
	mountDir  string

	allowOther     bool
	dryRun         bool
	exactSize      bool
	verbose        bool
	recentTTL      time.Duration
	ringBufferSize int
	webserverAddr  string
}

func rootCmd() *cobra.Command {
	var opts programOpts

	cmd := &cobra.Command{
		Use:     helpTextUse,
		Short:   helpTextShort,
		Long:    helpTextLong,
		Version: Version,
		Args:    cobra.ExactArgs(2), //nolint:mnd
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.originDir = args[0]
			opts.mountDir = args[1]

			if opts.ringBufferSize <= 0 {
				return fmt.Errorf("%w: ring buffer size must be positive", errInvalidArgument)
			}
			if opts.recentTTL < 0 {
				return fmt.Errorf("%w: recent reads TTL must not be negative", errInvalidArgument)
			}

			return run(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&opts.allowOther, "allow-other", false, "Allow other users to access the filesystem")
	cmd.Flags().BoolVarP(&opts.dryRun, "dry-run", "d", false, "Do not mount, only print the filesystem tree (to stdout)")
	cmd.Flags().BoolVar(&opts.exactSize, "exact-size", false, "Report the size of /context including its closing marker line")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log every filesystem operation (to stderr)")
	cmd.Flags().DurationVar(&opts.recentTTL, "recent-ttl", defaultRecentTTL, "How long read paths are remembered for the dashboard (0 disables)")
	cmd.Flags().IntVar(&opts.ringBufferSize, "ring-buffer-size", defaultRingBufferSize, "Amount of log lines kept for the dashboard")
	cmd.Flags().StringVarP(&opts.webserverAddr, "webserver", "w", "", "Address to serve the diagnostics dashboard on (e.g. :8000; disabled when empty)")

	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts programOpts, stdout io.Writer, stderr io.Writer) error {
	rbuf := logging.NewRingBuffer(opts.ringBufferSize, stderr)

	fsOpts := filesystem.DefaultOptions()
	fsOpts.ExactContextSize.Store(opts.exactSize)
	fsOpts.Verbose.Store(opts.verbose)
	fsOpts.RecentTTL = opts.recentTTL

	fsys, err := filesystem.NewFS(opts.originDir, fsOpts, rbuf)
	if err != nil {
		return fmt.Errorf("failed to create filesystem: %w", err)
	}
	defer fsys.Cleanup()

	if opts.dryRun {
		return printTree(ctx, fsys, stdout)
	}

	mountOpts := []fuse.MountOption{
		fuse.FSName("ctxfs"),
		fuse.Subtype("ctxfs"),
	}
	if opts.allowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(opts.mountDir, mountOpts...)
	if err != nil {
		return fmt.Errorf("fs mount error: %w", err)
	}
	defer c.Close()
	defer fuse.Unmount(opts.mountDir) //nolint:errcheck

	rbuf.Printf("Mounted %q at %q\n", opts.originDir, opts.mountDir)

	if err := notifyHelper(os.Getenv(helperFDEnv)); err != nil {
		rbuf.Printf("Mount helper notification error: %v\n", err)
	}

	if opts.webserverAddr != "" {
		srv := webserver.NewFSDashboard(fsys, rbuf, Version).Serve(opts.webserverAddr)
		defer srv.Close()
	}

	sigs := newSignalHandler(opts.mountDir, rbuf, stderr)
	defer sigs.Stop()

	var g errgroup.Group
	serveDone := make(chan struct{})

	g.Go(func() error {
		defer close(serveDone)

		if err := fs.Serve(c, fsys); err != nil {
			return fmt.Errorf("fs serve error: %w", err)
		}

		return nil
	})
	g.Go(func() error {
		sigs.Handle(serveDone)

		return nil
	})

	if err := g.Wait(); err != nil {
		return err //nolint:wrapcheck
	}

	rbuf.Println("Filesystem unmounted, exiting...")

	return nil
}

// notifyHelper signals readiness to a waiting mount helper, if any,
// by writing a single byte onto the inherited file descriptor.
func notifyHelper(fdEnv string) error {
	if fdEnv == "" {
		return nil
	}

	fd, err := strconv.Atoi(fdEnv)
	if err != nil || fd < 0 {
		return fmt.Errorf("%w: bad helper fd %q", errInvalidArgument, fdEnv)
	}

	f := os.NewFile(uintptr(fd), "helper")
	if f == nil {
		return fmt.Errorf("%w: bad helper fd %q", errInvalidArgument, fdEnv)
	}
	defer f.Close()

	if _, err := f.Write([]byte{1}); err != nil && !errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("failed to write helper fd: %w", err)
	}

	return nil
}
