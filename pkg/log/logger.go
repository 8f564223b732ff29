// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides the small, source-tagged logger used across this
// repository. It intentionally covers only what a synchronous library
// call needs: leveled, prefixed messages to stderr. There is no gRPC
// log sink, rate limiting, or signal-triggered level toggle here — this
// package has no daemon lifecycle to hook into.
package log

import (
	"fmt"
	"os"
	"sync"
)

// Level describes the severity of a log message.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "D"
	case LevelInfo:
		return "I"
	case LevelWarn:
		return "W"
	case LevelError:
		return "E"
	default:
		return "?"
	}
}

// Logger is the interface for producing log messages tagged with a source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Fatal formats and emits an error message, then os.Exit(1)'s.
	Fatal(format string, args ...interface{})

	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool
	// Source returns the source name of this Logger.
	Source() string
}

// logger implements Logger for a single named source.
type logger struct {
	source string
}

var (
	mu      sync.RWMutex
	level   = LevelInfo
	out     = os.Stderr
	tracing = map[string]bool{}
)

// NewLogger creates a Logger tagged with the given source name.
func NewLogger(source string) Logger {
	return &logger{source: source}
}

// SetLevel sets the process-wide minimum level for non-debug messages.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// EnableDebug turns on debug messages for the given source, or every
// source if name is empty.
func EnableDebug(name string) {
	mu.Lock()
	defer mu.Unlock()
	tracing[name] = true
}

func (l *logger) Source() string {
	return l.source
}

func (l *logger) DebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return tracing[""] || tracing[l.source]
}

func (l *logger) emit(lvl Level, format string, args ...interface{}) {
	mu.RLock()
	threshold := level
	mu.RUnlock()

	if lvl == LevelDebug {
		if !l.DebugEnabled() {
			return
		}
	} else if lvl < threshold {
		return
	}

	fmt.Fprintf(out, "%s: %s: %s\n", lvl, l.source, fmt.Sprintf(format, args...))
}

func (l *logger) Debug(format string, args ...interface{}) { l.emit(LevelDebug, format, args...) }
func (l *logger) Info(format string, args ...interface{})  { l.emit(LevelInfo, format, args...) }
func (l *logger) Warn(format string, args ...interface{})  { l.emit(LevelWarn, format, args...) }
func (l *logger) Error(format string, args ...interface{}) { l.emit(LevelError, format, args...) }

func (l *logger) Fatal(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
	os.Exit(1)
}
