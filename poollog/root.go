package poollog

import "os"

var defaultLogger = New("", NOTICE, TextFormatter(os.Stderr))

// Default returns the package-level root Logger.
func Default() *Logger { return defaultLogger }

// With creates a child of the default Logger.
func With(kv ...interface{}) *Logger { return defaultLogger.With(kv...) }

// SetLevel sets the default Logger's minimum severity.
func SetLevel(lvl Level) { defaultLogger.SetLevel(lvl) }

// SetHandler swaps the default Logger's Handler.
func SetHandler(h Handler) { defaultLogger.SetHandler(h) }
