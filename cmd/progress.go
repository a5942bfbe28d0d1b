package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/mame82/cfload/cfloader"
	"github.com/schollz/progressbar/v3"
)

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(true),
		progressbar.OptionOnCompletion(func() { os.Stderr.WriteString("\n") }),
	)
}

func progressFunc(bar *progressbar.ProgressBar) cfloader.ProgressFunc {
	return func(done, total int) {
		bar.Set(done)
	}
}

// interruptContext is cancelled on Ctrl-C, the running exchange is finished
// before the command stops.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
