package tui

import (
	"os"

	"github.com/mattn/go-isatty"
)

var (
	// HasTTY reports whether stdout is a terminal. Styled output and
	// spinners are only used when it is.
	HasTTY = isatty.IsTerminal(os.Stdout.Fd())
)
