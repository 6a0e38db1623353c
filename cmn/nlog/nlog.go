// Package nlog is the flowweave logger: a thin, leveled, mutex-guarded
// wrapper that every other package in this module logs through, the same
// way the teacher's own packages all log through its cmn/nlog rather than
// the stdlib log package directly.
/*
 * Copyright (c) 2024-2026, Flowweave Authors.
 */
package nlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var (
	mu  sync.Mutex
	out io.Writer = os.Stderr
	std           = log.New(out, "", log.Ldate|log.Ltime|log.Lmicroseconds)
)

// SetOutput redirects all subsequent log lines; ToFile is the common case.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	std = log.New(out, "", log.Ldate|log.Ltime|log.Lmicroseconds)
}

// ToFile points the logger at a size/age-rotated file, grounded on the
// teacher-adjacent reverse-proxy's lumberjack-backed logging setup.
func ToFile(path string, maxSizeMB, maxBackups, maxAgeDays int) {
	SetOutput(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	})
}

func sevTag(s severity) string {
	switch s {
	case sevWarn:
		return "W"
	case sevErr:
		return "E"
	default:
		return "I"
	}
}

func logf(s severity, format string, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	std.Output(3, sevTag(s)+" "+fmt.Sprintf(format, a...)) //nolint:errcheck
}

func logln(s severity, a ...any) {
	mu.Lock()
	defer mu.Unlock()
	std.Output(3, sevTag(s)+" "+fmt.Sprintln(a...)) //nolint:errcheck
}

func Infof(format string, a ...any)    { logf(sevInfo, format, a...) }
func Infoln(a ...any)                  { logln(sevInfo, a...) }
func Warningf(format string, a ...any) { logf(sevWarn, format, a...) }
func Warningln(a ...any)               { logln(sevWarn, a...) }
func Errorf(format string, a ...any)   { logf(sevErr, format, a...) }
func Errorln(a ...any)                 { logln(sevErr, a...) }

// Flush calls Sync on the current output when it has one (os.Stderr does;
// the rotating file writer does not, so Flush is a no-op for it), keeping
// call sites written as if against the teacher's buffered nlog.
func Flush() {
	if f, ok := out.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}
