package vellora

import _ "embed"

// Version is the release of this build.
//
//go:embed VERSION
var Version string
