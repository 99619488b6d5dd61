// Copyright 2025 walteh LLC
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

package log

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
)

// 🎨 Display configuration
const (
	fileIndent  = 4  // spaces to indent file entries
	nameWidth   = 35 // Base width for the destination
	opWidth     = 10 // Width for the operation
	statusWidth = 15 // Width for status text
)

// 🎯 Transfer is the outcome of one item for logging
type Transfer struct {
	Destination string // Destination label, e.g. "[prod] /css/a.css"
	Operation   string // upload, download, delete or rmdir
	Bytes       int    // Payload size, when known
	Err         error  // Nil on success
}

// 📦 Batch describes a batch of items against one target
type Batch struct {
	Target    string // Target name
	Type      string // Target type
	Operation string // Operation of every item
	Items     int    // Number of items
}

// 🎯 Logger handles structured logging with console output
type Logger struct {
	zlog      zerolog.Logger
	console   io.Writer
	mu        sync.Mutex
	current   *Batch
	transfers []Transfer
}

// 🏭 New creates a new logger
func New(console io.Writer, level zerolog.Level) *Logger {
	zlog := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(level)
	return &Logger{
		zlog:    zlog,
		console: console,
	}
}

// 🔑 contextKey is the type for context values
type contextKey struct{}

// 🎯 FromContext gets the logger from context, or a silent one
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(contextKey{}).(*Logger)
	if !ok {
		return New(io.Discard, zerolog.Disabled)
	}
	return logger
}

// 🎯 NewContext adds the logger to context
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// 📝 formatTransfer formats a transfer for display
func (l *Logger) formatTransfer(t Transfer) string {
	symbol := '✓'
	symbolColor := color.FgGreen
	status := "OK"
	if t.Err != nil {
		symbol = '✗'
		symbolColor = color.FgRed
		status = t.Err.Error()
	} else if t.Bytes > 0 {
		status = humanBytes(t.Bytes)
	}

	var opColor color.Attribute
	switch t.Operation {
	case "upload":
		opColor = color.FgBlue
	case "download":
		opColor = color.FgCyan
	default:
		opColor = color.FgYellow
	}

	return fmt.Sprintf("%s%s %s %s %s",
		fmt.Sprintf("%*s", fileIndent, ""),
		color.New(symbolColor).Sprint(string(symbol)),
		fmt.Sprintf("%-*s", nameWidth, t.Destination),
		color.New(opColor).Sprint(fmt.Sprintf("%-*s", opWidth, t.Operation)),
		fmt.Sprintf("%-*s", statusWidth, status))
}

func humanBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// 📝 LogTransfer logs the outcome of one item
func (l *Logger) LogTransfer(ctx context.Context, t Transfer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.transfers = append(l.transfers, t)

	fmt.Fprintln(l.console, l.formatTransfer(t))

	ev := l.zlog.Info()
	if t.Err != nil {
		ev = l.zlog.Error().Err(t.Err)
	}
	ev.Str("destination", t.Destination).
		Str("operation", t.Operation).
		Int("bytes", t.Bytes).
		Msg("transfer")
}

// 📝 StartBatch prints the header of a batch
func (l *Logger) StartBatch(ctx context.Context, b Batch) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.current = &b
	l.transfers = nil

	fmt.Fprintf(l.console, "[%s %s]\n",
		b.Operation,
		color.New(color.FgCyan).Sprint(b.Target))

	fmt.Fprintf(l.console, "%s %s %s %s\n",
		color.New(color.FgMagenta).Sprint("◆"),
		color.New(color.Bold).Sprint(b.Target),
		color.New(color.Faint).Sprint("•"),
		color.New(color.FgYellow).Sprint(b.Type))

	l.zlog.Info().
		Str("target", b.Target).
		Str("type", b.Type).
		Str("operation", b.Operation).
		Int("items", b.Items).
		Msg("starting batch")
}

// 📝 EndBatch ends the current batch and returns its success and failure
// counts
func (l *Logger) EndBatch(ctx context.Context) (succeeded, failed int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil {
		return 0, 0
	}

	for _, t := range l.transfers {
		if t.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}

	l.zlog.Info().
		Str("target", l.current.Target).
		Int("succeeded", succeeded).
		Int("failed", failed).
		Msg("batch complete")

	l.current = nil
	l.transfers = nil
	return succeeded, failed
}

// 📝 LogNewline logs a newline
func (l *Logger) LogNewline() {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.console)
}

// 📝 Header logs a header
func (l *Logger) Header(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := color.New(color.Bold, color.FgCyan).Sprint("deployrc")
	fmt.Fprintf(l.console, "\n%s %s\n\n", name, color.New(color.Faint).Sprint("• "+msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Success logs a success message
func (l *Logger) Success(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "✅ %s\n", color.New(color.FgGreen).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Warning logs a warning message
func (l *Logger) Warning(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "⚠️  %s\n", color.New(color.FgYellow).Sprint(msg))
	l.zlog.Warn().Msg(msg)
}

// 📝 Error logs an error message
func (l *Logger) Error(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "❌ %s\n", color.New(color.FgRed).Sprint(msg))
	l.zlog.Error().Msg(msg)
}

// 📝 Info logs an info message
func (l *Logger) Info(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.console, "ℹ️  %s\n", color.New(color.FgCyan).Sprint(msg))
	l.zlog.Info().Msg(msg)
}

// 📝 Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// 📝 Warningf logs a formatted warning message
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.Warning(fmt.Sprintf(format, args...))
}

// 📝 Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// 📝 Successf logs a formatted success message
func (l *Logger) Successf(format string, args ...interface{}) {
	l.Success(fmt.Sprintf(format, args...))
}
