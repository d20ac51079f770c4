// Package sys provides the small amount of OS plumbing the shell needs:
// terminal detection and interrupt signal delivery.
package sys

import (
	"os"
	"os/signal"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
)

// IsATTY reports whether the file is a terminal.
func IsATTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NotifyInterrupts starts relaying SIGINT to the returned channel, and
// returns a function to stop and clean up. The channel has a one-slot
// buffer; a signal arriving while one is already pending is dropped.
func NotifyInterrupts() (<-chan struct{}, func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT)
	intr := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				select {
				case intr <- struct{}{}:
				default:
				}
			case <-done:
				return
			}
		}
	}()
	return intr, func() {
		signal.Stop(sigs)
		close(done)
	}
}
