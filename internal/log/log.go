// Package log holds the process-wide zerolog logger. Components call L()
// instead of carrying a logger through every constructor.
package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
)

// Init configures the global logger. writers accepts "console" and "file";
// file output rotates via lumberjack.
func Init(level string, writers []string, file string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var outs []io.Writer
	for _, w := range writers {
		switch w {
		case "console":
			outs = append(outs, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
		case "file":
			outs = append(outs, &lumberjack.Logger{
				Filename:   file,
				MaxSize:    20, // MB
				MaxBackups: 5,
				MaxAge:     14, // days
			})
		}
	}
	if len(outs) == 0 {
		outs = append(outs, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}

	l := zerolog.New(zerolog.MultiLevelWriter(outs...)).Level(lvl).With().Timestamp().Logger()

	mu.Lock()
	logger = l
	mu.Unlock()
}

// L returns the global logger. Init runs before any component logs, so
// handing out the pointer is safe.
func L() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return &logger
}
