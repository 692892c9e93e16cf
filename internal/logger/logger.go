package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu sync.Mutex

	isDevelopment = false // human readable console output when true

	logFile *os.File = nil

	baseLogger  zerolog.Logger
	initialized bool
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// GetLogger returns a logger stamped with the given service name. All
// loggers share one base writer, configured on first use; call
// SetDevelopment/SetLogFile before the first GetLogger.
func GetLogger(serviceName string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if !initialized {
		baseLogger = newBase()
		initialized = true
	}

	return baseLogger.With().Str("service", serviceName).Logger()
}

func newBase() zerolog.Logger {
	if !isDevelopment {
		if logFile != nil {
			multi := zerolog.MultiLevelWriter(os.Stderr, logFile)
			return zerolog.New(multi).With().Timestamp().Logger()
		}
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Development mode gets human readable console logs
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339,
		FormatLevel: func(i any) string {
			return strings.ToUpper(fmt.Sprintf("[%5s]", i))
		},
		FormatMessage: func(i any) string {
			return fmt.Sprintf("| %s |", i)
		},
		FormatCaller: func(i any) string {
			return filepath.Base(fmt.Sprintf("%s", i))
		},
		PartsExclude: []string{
			zerolog.TimestampFieldName,
		}}
	if logFile != nil {
		multi := zerolog.MultiLevelWriter(consoleWriter, logFile)
		return zerolog.New(multi).Level(zerolog.TraceLevel).With().Timestamp().Caller().Logger()
	}
	return zerolog.New(consoleWriter).Level(zerolog.TraceLevel).With().Timestamp().Caller().Logger()
}

// SetDevelopment switches console formatting. Takes effect only before the
// first GetLogger call.
func SetDevelopment(value bool) {
	mu.Lock()
	defer mu.Unlock()
	isDevelopment = value
}

// SetLogFile adds a file writer beside stderr. Takes effect only before the
// first GetLogger call.
func SetLogFile(file *os.File) {
	mu.Lock()
	defer mu.Unlock()
	logFile = file
}
