package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	stdLogFlags      = log.LstdFlags | log.LUTC
	stdDebugLogFlags = log.LstdFlags | log.Lshortfile | log.LUTC
	outputCallDepth  = 2

	DebugLogger = log.New(os.Stderr, "DEBUG: ", stdDebugLogFlags)
	InfoLogger  = log.New(os.Stderr, "INFO: ", stdLogFlags)
	ErrorLogger = log.New(os.Stderr, "ERROR: ", stdLogFlags)
	FatalLogger = log.New(os.Stderr, "FATAL: ", log.LstdFlags|log.Llongfile|log.LUTC)
)

// SuppressOutput drops all output except fatal messages if `suppress` is true.
// Used while testing.
func SuppressOutput(suppress bool) {
	if suppress {
		setOutput(io.Discard)
	} else {
		setOutput(os.Stderr)
	}
}

func setOutput(w io.Writer) {
	DebugLogger.SetOutput(w)
	InfoLogger.SetOutput(w)
	ErrorLogger.SetOutput(w)
}

var debug uint32

// SetDebug toggles debug output. Safe to call while logging from other goroutines.
func SetDebug(val bool) {
	if val {
		atomic.StoreUint32(&debug, 1)
		InfoLogger.SetFlags(stdDebugLogFlags)
		ErrorLogger.SetFlags(stdDebugLogFlags)
	} else {
		atomic.StoreUint32(&debug, 0)
		InfoLogger.SetFlags(stdLogFlags)
		ErrorLogger.SetFlags(stdLogFlags)
	}
}

func IsDebug() bool {
	return atomic.LoadUint32(&debug) == 1
}

func Debugf(format string, args ...interface{}) {
	if !IsDebug() {
		return
	}
	output(DebugLogger, "", format, args...)
}

func Infof(format string, args ...interface{}) {
	output(InfoLogger, "", format, args...)
}

func Errorf(format string, args ...interface{}) {
	output(ErrorLogger, "", format, args...)
}

func Fatalf(format string, args ...interface{}) {
	output(FatalLogger, "", format, args...)
	os.Exit(1)
}

// Request prefixes every line with the request id.
type Request string

func (r Request) Debugf(format string, args ...interface{}) {
	if !IsDebug() {
		return
	}
	output(DebugLogger, string(r), format, args...)
}

func (r Request) Infof(format string, args ...interface{}) {
	output(InfoLogger, string(r), format, args...)
}

func (r Request) Errorf(format string, args ...interface{}) {
	output(ErrorLogger, string(r), format, args...)
}

func output(l *log.Logger, requestID, format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	if requestID != "" {
		s = fmt.Sprintf("[%s] %s", requestID, s)
	}
	// +1 for output itself
	_ = l.Output(outputCallDepth+1, s)
}
