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
	isDevelopment = false // if running in debug mode

	logFile *os.File = nil

	mu sync.Mutex

	loggers = make(map[string]zerolog.Logger)
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// GetLogger returns a logger scoped to the given service name. Processors ask
// for one logger per concern ("negotiator", "spout", "shuffle", ...); repeated
// calls with the same name return the same logger.
func GetLogger(serviceName string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if l, ok := loggers[serviceName]; ok {
		return l
	}

	var l zerolog.Logger
	if !isDevelopment {
		l = zerolog.New(os.Stderr).With().Timestamp().Str("service", serviceName).Logger()
	} else {
		// Human-readable console output for development runs
		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339,
			FormatLevel: func(i any) string {
				return strings.ToUpper(fmt.Sprintf("[%5s]", i))
			},
			FormatCaller: func(i any) string {
				return filepath.Base(fmt.Sprintf("%s", i))
			},
			PartsExclude: []string{
				zerolog.TimestampFieldName,
			}}
		w := zerolog.MultiLevelWriter(consoleWriter)
		if logFile != nil {
			w = zerolog.MultiLevelWriter(consoleWriter, logFile)
		}
		l = zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp().Str("service", serviceName).Caller().Logger()
	}
	loggers[serviceName] = l
	return l
}

func SetDevelopment(value bool) {
	mu.Lock()
	defer mu.Unlock()
	isDevelopment = value
	loggers = make(map[string]zerolog.Logger)
}

func SetLogFile(file *os.File) {
	mu.Lock()
	defer mu.Unlock()
	logFile = file
}
