// Package logutil provides a shared debug logger. Logging is discarded by
// default and can be redirected to a file at startup.
package logutil

import (
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	out     io.Writer = io.Discard
	loggers []*log.Logger
)

// GetLogger gets a logger with the given prefix, writing to the current
// destination.
func GetLogger(prefix string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	logger := log.New(out, prefix, log.LstdFlags)
	loggers = append(loggers, logger)
	return logger
}

// SetOutput redirects the output of all loggers, current and future, to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	for _, logger := range loggers {
		logger.SetOutput(out)
	}
}

// SetOutputFile redirects the output of all loggers to the named file,
// creating it if needed. An empty name restores the default of discarding
// all output.
func SetOutputFile(name string) error {
	if name == "" {
		SetOutput(io.Discard)
		return nil
	}
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	SetOutput(file)
	return nil
}
