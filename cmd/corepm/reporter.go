package main

import (
	"fmt"
	"os"

	events "github.com/docker/go-events"
	"github.com/fatih/color"

	"github.com/corepm/corepm/scheduler"
)

var (
	infoLabel  = color.New(color.FgCyan, color.Bold).SprintFunc()
	warnLabel  = color.New(color.FgYellow, color.Bold).SprintFunc()
	errorLabel = color.New(color.FgRed, color.Bold).SprintFunc()
)

func reportInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", infoLabel("info"), fmt.Sprintf(format, args...))
}

func reportWarn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", warnLabel("warn"), fmt.Sprintf(format, args...))
}

func reportError(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", errorLabel("error"), err)
}

// progressSink implements events.Sink over the scheduler's lifecycle events
// (§4.G/§7), printing one colored line per resolve/fetch/load completion;
// used as workspace.Options.Sink so the CLI surfaces progress the same way
// the teacher's own registry notifications drive operator-facing logging.
type progressSink struct {
	verbose bool
}

func newProgressSink(verbose bool) *progressSink {
	return &progressSink{verbose: verbose}
}

func (s *progressSink) Write(event events.Event) error {
	if !s.verbose {
		return nil
	}
	switch e := event.(type) {
	case scheduler.ResolveDone:
		fmt.Fprintf(os.Stderr, "  %s %s\n", color.New(color.Faint).Sprint("resolved"), e.Locator)
	case scheduler.FetchDone:
		fmt.Fprintf(os.Stderr, "  %s %s\n", color.New(color.Faint).Sprint("fetched "), e.Locator)
	case scheduler.LoadDone:
		fmt.Fprintf(os.Stderr, "  %s %s\n", color.New(color.Faint).Sprint("loaded  "), e.Locator)
	}
	return nil
}

func (s *progressSink) Close() error { return nil }
