package logging

import (
	"fmt"
	"io"
	"strings"
)

// Level selects how deep into the protocol stack log output goes.
// Each layer logs at its own level; a message is printed when the
// logger's configured level is at or above the message's level.
type Level int

const (
	Silence Level = iota // errors only
	Updi                 // top-level programming steps
	Nvm                  // NVM controller operations
	App                  // key/reset/page sequences
	Link                 // UPDI instruction frames
	Phy                  // raw serial traffic
)

// MaxLevel is the highest meaningful verbosity value.
const MaxLevel = Phy

// Logger is a leveled logger handed to components at construction time.
// There is no package-level default; whoever builds the component stack
// decides where output goes and how much of it there is.
type Logger struct {
	w     io.Writer
	level Level
}

// New creates a logger writing to w, printing messages at or below level.
func New(w io.Writer, level Level) *Logger {
	if level < Silence {
		level = Silence
	}
	if level > MaxLevel {
		level = MaxLevel
	}
	return &Logger{w: w, level: level}
}

// Enabled reports whether messages at the given level would be printed.
func (l *Logger) Enabled(at Level) bool {
	return l != nil && l.w != nil && at <= l.level
}

// Infof prints a formatted message at the given level.
func (l *Logger) Infof(at Level, format string, args ...interface{}) {
	if !l.Enabled(at) {
		return
	}
	fmt.Fprintf(l.w, format+"\n", args...)
}

// Dump prints a labeled hex dump of data at the given level.
func (l *Logger) Dump(at Level, label string, data []byte) {
	if !l.Enabled(at) {
		return
	}
	var sb strings.Builder
	sb.WriteString(label)
	for i, b := range data {
		if i%16 == 0 {
			sb.WriteString("\n  ")
		}
		fmt.Fprintf(&sb, "%02x ", b)
	}
	fmt.Fprintln(l.w, sb.String())
}
