package tui

import (
	"context"
	"sync/atomic"

	"github.com/charmbracelet/huh/spinner"
)

// ShowSpinner displays a spinner titled title while action runs. Without a
// terminal it just runs action. The spinner stops when ctx is done, but
// action still runs to completion.
func ShowSpinner(ctx context.Context, title string, action func()) {
	if !HasTTY {
		action()
		return
	}
	var started atomic.Bool
	done := make(chan struct{})
	run := func() {
		started.Store(true)
		defer close(done)
		action()
	}
	err := spinner.New().Context(ctx).Title(title).Action(run).Run()
	if err != nil && !started.Load() {
		run()
	}
	<-done
}
