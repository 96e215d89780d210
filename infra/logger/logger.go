// Package logger provides the zerolog backed implementation of the core
// logger interface.
package logger

import corelogger "github.com/kilianp07/stockpulse/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger discards everything.
type NopLogger = corelogger.Nop

// New returns a Logger for the given component. APP_ENV=dev selects the
// console format and LOG_LEVEL sets the minimum level.
func New(component string) Logger {
	return NewZerologLogger(component)
}
