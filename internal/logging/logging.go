package logging

import (
	"io"

	"github.com/phuslu/log"
)

// Console returns the pretty, colored logger used by the binaries.
func Console(level string) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Level = log.ParseLevel(level)
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

// Discard is a logger that drops everything.
func Discard() *log.Logger {
	logger := log.DefaultLogger
	logger.Writer = &log.IOWriter{Writer: io.Discard}
	return &logger
}

// OrDiscard returns logger, or a silenced one if logger is nil (which is
// mostly the case in tests).
func OrDiscard(logger *log.Logger) *log.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}
