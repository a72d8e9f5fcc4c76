/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logging is the leveled logger shared by the lock, shared memory and daemon packages.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"
)

// Level orders log severities; messages below the current level are dropped.
type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

// EnvLogLevel overrides the default level at process start.
const EnvLogLevel = "SHMIPC_LOG_LEVEL"

var (
	level atomic.Int32

	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors = []string{
		magenta,
		green,
		blue,
		yellow,
		red,
	}

	levelName = []string{
		"Trace",
		"Debug",
		"Info",
		"Warn",
		"Error",
	}
)

func init() {
	level.Store(int32(LevelWarn))
	if v := os.Getenv(EnvLogLevel); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			SetLevel(Level(n))
		}
	}
}

// SetLevel changes the level of every logger. The default level is Warn.
// Out of range values are ignored.
func SetLevel(l Level) {
	if l >= LevelTrace && l <= LevelNoPrint {
		level.Store(int32(l))
	}
}

// CurrentLevel returns the active level.
func CurrentLevel() Level {
	return Level(level.Load())
}

// Logger writes colored, leveled lines prefixed with time and caller location.
type Logger struct {
	name      string
	callDepth int

	mu  sync.Mutex
	out io.Writer
}

// New returns a logger tagged with name that writes to stdout.
func New(name string) *Logger {
	return &Logger{
		name:      name,
		out:       os.Stdout,
		callDepth: 4,
	}
}

// SetOutput redirects the logger. A nil writer restores stdout.
func (l *Logger) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	l.mu.Lock()
	l.out = w
	l.mu.Unlock()
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	l.output(LevelError, format, a...)
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	l.output(LevelWarn, format, a...)
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.output(LevelInfo, format, a...)
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	l.output(LevelDebug, format, a...)
}

func (l *Logger) Tracef(format string, a ...interface{}) {
	l.output(LevelTrace, format, a...)
}

func (l *Logger) output(lv Level, format string, a ...interface{}) {
	if CurrentLevel() > lv {
		return
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	l.writePrefix(buf, lv)
	_, _ = fmt.Fprintf(buf, format, a...)
	_, _ = buf.WriteString(reset)
	_ = buf.WriteByte('\n')

	l.mu.Lock()
	_, err := l.out.Write(buf.B)
	l.mu.Unlock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger write failed: %v\n", err)
	}
}

func (l *Logger) writePrefix(buf *bytebufferpool.ByteBuffer, lv Level) {
	_, _ = buf.WriteString(colors[lv])
	_, _ = buf.WriteString(levelName[lv])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	if l.name != "" {
		_, _ = buf.WriteString(l.name)
		_ = buf.WriteByte(' ')
	}
}

func (l *Logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth)
	if !ok {
		file = "???"
		line = 0
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}
