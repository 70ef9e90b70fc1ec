// Package log defines the logging interface consumed by the tether client
// and a small leveled implementation of it. The client treats its logger as
// a fire-and-forget observer; a nil logger disables logging entirely.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Logger is the minimal logging surface the client requires.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// Level controls which messages a LevelLogger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	debugTag = color.New(color.FgCyan, color.Bold).SprintFunc()("DEBUG")
	infoTag  = color.New(color.FgGreen, color.Bold).SprintFunc()("INFO ")
	warnTag  = color.New(color.FgYellow, color.Bold).SprintFunc()("WARN ")
	errorTag = color.New(color.FgRed, color.Bold).SprintFunc()("ERROR")
)

// LevelLogger writes colored, timestamped lines to an io.Writer.
type LevelLogger struct {
	Level Level
	Out   io.Writer
	mu    sync.Mutex
}

// NewLevelLogger returns a logger writing to stderr at the given level.
func NewLevelLogger(level Level) *LevelLogger {
	return &LevelLogger{
		Level: level,
		Out:   os.Stderr,
	}
}

func (l *LevelLogger) write(level Level, tag string, msg string) {
	if level < l.Level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.Out, "%s %s %s\n", time.Now().Format("2006-01-02 15:04:05.000"), tag, msg)
}

func (l *LevelLogger) Debug(msg string) {
	l.write(LevelDebug, debugTag, msg)
}

func (l *LevelLogger) Info(msg string) {
	l.write(LevelInfo, infoTag, msg)
}

func (l *LevelLogger) Warn(msg string) {
	l.write(LevelWarn, warnTag, msg)
}

func (l *LevelLogger) Error(msg string) {
	l.write(LevelError, errorTag, msg)
}
