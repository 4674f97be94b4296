package tui

import tm "github.com/buger/goterm"

// ClearScreen clears the terminal and homes the cursor. It does nothing
// without a terminal.
func ClearScreen() {
	if !HasTTY {
		return
	}
	tm.Clear()
	tm.MoveCursor(1, 1)
	tm.Flush()
}
