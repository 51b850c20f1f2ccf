// Package assets provides the assets for the ctxfs program.
package assets

import _ "embed"

// Logo is a byte slice containing the program logo.
//
//go:embed ctxfs.svg
var Logo []byte
