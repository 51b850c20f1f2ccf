package main

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// resolveUser returns the UID and GID of a username or a numeric UID.
// A numeric UID is also used as the GID.
func resolveUser(spec string) (uint32, uint32, error) {
	if uidNum, err := strconv.ParseUint(spec, 10, 32); err == nil {
		uid := uint32(uidNum)

		return uid, uid, nil
	}

	u, err := user.Lookup(spec)
	if err != nil {
		return 0, 0, fmt.Errorf("lookup user %q failed: %w", spec, err)
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid uid %q: %w", u.Uid, err)
	}

	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid gid %q: %w", u.Gid, err)
	}

	return uint32(uid), uint32(gid), nil
}

// suCommandLine returns a shell command line running cmdArgs as
// the given user through su(1), with every argument quoted.
func suCommandLine(username string, cmdArgs []string) string {
	quoted := make([]string, len(cmdArgs))
	for i, arg := range cmdArgs {
		quoted[i] = shellescape.Quote(arg)
	}

	return fmt.Sprintf("su - %s -c %s",
		shellescape.Quote(username),
		shellescape.Quote(strings.Join(quoted, " ")))
}
