package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"syscall"
	"time"
)

const (
	mountPollInterval = 200 * time.Millisecond
	mountInfoPath     = "/proc/self/mountinfo"
	fallbackPath      = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

// BuildCommand returns the filesystem command line, binary first.
func (mh *MountHelper) BuildCommand() []string {
	bin := mh.Type
	if mh.Binary != "" {
		bin = mh.Binary
	}

	parts := []string{bin, mh.Source, mh.Mountpoint}

	return append(parts, mh.BuildOptions()...)
}

// BuildOptions returns the filesystem flags, sorted by their name.
func (mh *MountHelper) BuildOptions() []string {
	parts := []string{}

	keys := make([]string, 0, len(mh.Options))
	for k := range mh.Options {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		parts = append(parts, "--"+key)
		if val := mh.Options[key]; val != "" {
			parts = append(parts, val)
		}
	}

	return parts
}

// Execute starts the filesystem as a detached process and
// waits for it to either signal readiness or appear as mounted.
func (mh *MountHelper) Execute() error {
	mh.setupEnvironment()

	cmdArgs := mh.BuildCommand()
	if mh.Binary == "" {
		if _, err := exec.LookPath(cmdArgs[0]); err != nil {
			return fmt.Errorf("%s: %w\n%s", cmdArgs[0], err, fmt.Sprintf(helpErrNotFound, cmdArgs[0]))
		}
	}

	cmd := mh.buildExec(cmdArgs)

	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}
	defer null.Close()

	cmd.Stdin, cmd.Stdout, cmd.Stderr = null, null, null
	if logFile := mh.openLog(); logFile != nil {
		defer logFile.Close()
		cmd.Stdout, cmd.Stderr = logFile, logFile
	}

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("pipe error: %w", err)
	}
	defer r.Close()

	cmd.Env = append(os.Environ(), helperFDEnv+"=3")
	cmd.ExtraFiles = []*os.File{w}

	if err := cmd.Start(); err != nil {
		w.Close()

		return fmt.Errorf("process error: %w", err)
	}
	_ = cmd.Process.Release()
	w.Close()

	if err := mh.waitForMount(r); err != nil {
		if errors.Is(err, errMountTimeout) {
			return fmt.Errorf("%w\n%s", err, fmt.Sprintf(helpErrMountTimeout, int(mh.Timeout.Seconds()), mh.LogFile))
		}

		return fmt.Errorf("mount error: %w", err)
	}

	return nil
}

// buildExec returns the [exec.Cmd] in its own session, running
// as another user when requested. Users not resolvable by us are
// left to be resolved by su(1) instead.
func (mh *MountHelper) buildExec(cmdArgs []string) *exec.Cmd {
	cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...) //nolint:gosec,noctx

	spa := &syscall.SysProcAttr{Setsid: true}
	if mh.Setuid != "" {
		uid, gid, err := resolveUser(mh.Setuid)
		if err == nil {
			spa.Credential = &syscall.Credential{
				Uid: uid,
				Gid: gid,
			}
		} else {
			cmd = exec.Command("/bin/sh", "-c", suCommandLine(mh.Setuid, cmdArgs)) //nolint:gosec,noctx
		}
	}
	cmd.SysProcAttr = spa

	return cmd
}

// openLog returns the filesystem log file opened for appending,
// or nil if there is none or it is not writeable.
func (mh *MountHelper) openLog() *os.File {
	if mh.LogFile == "" {
		return nil
	}

	f, err := os.OpenFile(mh.LogFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644) //nolint:gosec,mnd
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot open log %q: %v (logging disabled)\n", mh.LogFile, err)

		return nil
	}

	return f
}

func (mh *MountHelper) setupEnvironment() {
	if mh.Setuid == "" && os.Getenv("HOME") == "" {
		os.Setenv("HOME", "/root") //nolint:errcheck
	}

	if currentPath := os.Getenv("PATH"); currentPath == "" {
		os.Setenv("PATH", fallbackPath) //nolint:errcheck
	} else {
		os.Setenv("PATH", currentPath+":"+fallbackPath) //nolint:errcheck
	}
}

func (mh *MountHelper) waitForMount(r io.Reader) error {
	signalDone := make(chan error, 1)
	go func() {
		defer close(signalDone)
		buf := make([]byte, 1)
		_, err := r.Read(buf)
		signalDone <- err
	}()

	ticker := time.NewTicker(mountPollInterval)
	defer ticker.Stop()

	totalTimeout := time.After(mh.Timeout)
	for {
		select {
		case signalErr := <-signalDone:
			if signalErr == nil {
				return nil
			}
			signalDone = nil // EOF: the child exited or closed the pipe

		case <-ticker.C:
			if isMounted, _ := mh.checkMountTable(mountInfoPath); isMounted {
				return nil
			}

		case <-totalTimeout:
			if isMounted, _ := mh.checkMountTable(mountInfoPath); isMounted {
				return nil
			}

			return errMountTimeout
		}
	}
}

// checkMountTable returns if the mountpoint appears within
// a mountinfo(5) formatted table.
func (mh *MountHelper) checkMountTable(table string) (bool, error) {
	f, err := os.Open(table)
	if err != nil {
		return false, fmt.Errorf("cannot open %s: %w", table, err)
	}
	defer f.Close()

	return mountTableContains(f, mh.Mountpoint)
}

func mountTableContains(r io.Reader, mountpoint string) (bool, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), " "+mountpoint+" ") {
			return true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("error reading mount table: %w", err)
	}

	return false, nil
}
