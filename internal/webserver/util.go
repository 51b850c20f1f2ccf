package webserver

import (
	"github.com/dustin/go-humanize"
)

// avgReadSize returns a string of the average size served per read.
func (d *FSDashboard) avgReadSize() string {
	reads := d.fsys.Metrics.TotalReads.Load()
	bytes := d.fsys.Metrics.TotalReadBytes.Load()

	if reads <= 0 || bytes <= 0 {
		return "0 B"
	}

	return humanize.IBytes(uint64(bytes / reads)) //nolint:gosec
}

// recentTTL returns a string of the recent reads retention.
func (d *FSDashboard) recentTTL() string {
	if d.fsys.Options.RecentTTL <= 0 {
		return "Disabled"
	}

	return d.fsys.Options.RecentTTL.String()
}

// nonNegativeBytes returns a humanized string of a byte counter,
// clamping negative values to zero.
func nonNegativeBytes(v int64) string {
	if v < 0 {
		return humanize.IBytes(0)
	}

	return humanize.IBytes(uint64(v)) //nolint:gosec
}

// enabledOrDisabled returns string "Enabled" or "Disabled" based on a boolean.
func enabledOrDisabled(v bool) string {
	if v {
		return "Enabled"
	}

	return "Disabled"
}
