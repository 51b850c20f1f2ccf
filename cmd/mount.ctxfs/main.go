/*
mount.ctxfs - FUSE mount helper

This program is a helper for the mount/fstab mechanism.
It is normally located in /sbin or another directory
searched by mount(8) for filesystem helpers, and is
not intended to be invoked directly by end users.

Usage:

	mount.ctxfs source mountpoint [-o key[=value],key[=value],...]

For running the filesystem as another (e.g. unprivileged) user:

	mount.ctxfs source mountpoint -o setuid=USER[,key[=value],...]

Example (fstab entry):

	/srv/docs   /mnt/ctxfs   ctxfs   allow_other,webserver=:8000   0  0

Filesystem-specific options need to be adapted into this format:

	--webserver :8000 --exact-size => webserver=:8000,exact_size

Mount helper events are logged to standard error (stderr).
Filesystem events are logged to '/var/log/ctxfs.log' (if writeable).
*/
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultType         = "ctxfs"
	defaultMountLog     = "/var/log/ctxfs.log"
	defaultMountTimeout = 20 * time.Second

	helperFDEnv = "CTXFS_HELPER_FD"
)

var (
	// Version is the program version (filled in from the Makefile).
	Version string

	errMissingArgument = errors.New("missing argument")
	errInvalidArgument = errors.New("invalid argument")
	errMountTimeout    = errors.New("timed out: mountpoint not found")

	// allowedKeys are the filesystem flags passed through to the binary.
	allowedKeys = map[string]struct{}{
		"allow-other":      {},
		"dry-run":          {},
		"exact-size":       {},
		"verbose":          {},
		"recent-ttl":       {},
		"ring-buffer-size": {},
		"webserver":        {},
	}
)

// MountHelper is a parsed invocation of the mount helper.
type MountHelper struct {
	Program    string
	Type       string
	Source     string
	Mountpoint string
	Options    map[string]string

	Setuid  string        // setuid=USER
	Binary  string        // xbin=PATH
	LogFile string        // xlog=PATH
	Timeout time.Duration // xtim=SECS
}

func newMountHelper(args []string) (*MountHelper, error) {
	if len(args) < 3 { //nolint:mnd
		return nil, fmt.Errorf("%w: need source and mountpoint", errMissingArgument)
	}

	mh := &MountHelper{
		Program:    args[0],
		Source:     args[1],
		Type:       defaultType,
		Mountpoint: args[2],
		Options:    make(map[string]string),
		LogFile:    defaultMountLog,
		Timeout:    defaultMountTimeout,
	}

	if mh.Source == "" {
		return nil, fmt.Errorf("%w: no source argument was given", errMissingArgument)
	}
	if mh.Mountpoint == "" {
		return nil, fmt.Errorf("%w: no mountpoint argument was given", errMissingArgument)
	}

	basename := filepath.Base(mh.Program)
	if after, ok := strings.CutPrefix(basename, "mount.fuse."); ok {
		mh.Type = after
	} else if after, ok := strings.CutPrefix(basename, "mount.fuseblk."); ok {
		mh.Type = after
	}

	if err := mh.parseOptions(args[3:]); err != nil {
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}

	if mh.Type == "" {
		if err := mh.deriveTypeFromSource(); err != nil {
			return nil, fmt.Errorf("failed to derive fs type: %w", err)
		}
	}

	return mh, nil
}

func (mh *MountHelper) parseOptions(args []string) error {
	for i := 0; i < len(args); i++ { //nolint:intrange
		arg := args[i]

		if arg == "-v" || arg == "-o" {
			continue
		}

		if arg == "-t" {
			if err := mh.deriveTypeFromArg(&i, args); err != nil {
				return fmt.Errorf("failed to derive type: %w", err)
			}

			continue
		}

		for opt := range strings.SplitSeq(arg, ",") {
			if opt == "" {
				continue
			}
			opt = strings.ReplaceAll(opt, "_", "-")
			opt = strings.TrimPrefix(opt, "--")

			key, val, hasVal := strings.Cut(opt, "=")
			if err := mh.setOption(key, val, hasVal); err != nil {
				return err
			}
		}
	}

	return nil
}

func (mh *MountHelper) setOption(key string, val string, hasVal bool) error {
	switch key {
	case "setuid":
		mh.Setuid = val

	case "xbin":
		mh.Binary = val

	case "xlog":
		mh.LogFile = val

	case "xtim":
		secs, err := strconv.Atoi(val)
		if err != nil || secs <= 0 {
			return fmt.Errorf("%w: xtim needs positive seconds, got %q", errInvalidArgument, val)
		}
		mh.Timeout = time.Duration(secs) * time.Second

	default:
		if _, ok := allowedKeys[key]; !ok {
			return nil
		}
		if hasVal {
			mh.Options[key] = val
		} else {
			mh.Options[key] = ""
		}
	}

	return nil
}

func (mh *MountHelper) deriveTypeFromArg(i *int, args []string) error {
	*i++
	if *i >= len(args) {
		return fmt.Errorf("%w: no value to argument '-t'", errMissingArgument)
	}

	t := args[*i]
	if after, ok := strings.CutPrefix(t, "fuse."); ok {
		t = after
	} else if after, ok := strings.CutPrefix(t, "fuseblk."); ok {
		t = after
	}
	if t == "" {
		return fmt.Errorf("%w: no value to argument '-t'", errMissingArgument)
	}
	mh.Type = t

	return nil
}

func (mh *MountHelper) deriveTypeFromSource() error {
	fsType, source, ok := strings.Cut(mh.Source, "#")
	if !ok {
		return fmt.Errorf("%w: source argument is not in format 'type#source'", errInvalidArgument)
	}

	if fsType == "" {
		return fmt.Errorf("%w: empty type before '#' in source argument", errInvalidArgument)
	}
	if source == "" {
		return fmt.Errorf("%w: empty source after '#' in source argument", errInvalidArgument)
	}

	mh.Type = fsType
	mh.Source = source

	return nil
}

func main() {
	if len(os.Args) < 3 { //nolint:mnd
		progName := filepath.Base(os.Args[0])
		fmt.Fprintf(os.Stderr, helpTextLong+"\n", progName, Version, progName, progName, defaultMountLog)
		os.Exit(1)
	}

	helper, err := newMountHelper(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := helper.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
