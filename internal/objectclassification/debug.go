package objectclassification

import (
	"io"
	"log"
)

var diagLogger *log.Logger

// SetLogWriter configures the diagnostics stream. Pass nil to disable it.
func SetLogWriter(w io.Writer) {
	if w == nil {
		diagLogger = nil
		return
	}
	diagLogger = log.New(w, "[objectclassification] ", log.LstdFlags|log.Lmicroseconds)
}

func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}
