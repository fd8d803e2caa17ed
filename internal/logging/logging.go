// Package logging configures the shared logrus instance used by every
// server and client entry point, rotating to disk via lumberjack when a
// log directory is configured (adapted from the teacher's
// internal/logging/global_logger.go, generalized from an LLM-proxy
// request formatter to the generic call_id/service/command fields this
// engine's dispatcher and client attach to log entries).
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	setupOnce sync.Once
	writerMu  sync.Mutex
	fileOut   *lumberjack.Logger
)

// Formatter renders one log line as
// "[2026-08-01 12:00:00] [info ] [dispatcher.go:117] call_id=3 service=echo message".
type Formatter struct{}

var fieldOrder = []string{"remote", "call_id", "service", "command", "codec", "transport"}

// Format implements logrus.Formatter.
func (*Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	var fields strings.Builder
	for _, k := range fieldOrder {
		if v, ok := entry.Data[k]; ok {
			fmt.Fprintf(&fields, " %s=%v", k, v)
		}
	}

	var line string
	if entry.Caller != nil {
		line = fmt.Sprintf("[%s] [%-5s] [%s:%d]%s %s\n",
			timestamp, level, filepath.Base(entry.Caller.File), entry.Caller.Line, fields.String(), entry.Message)
	} else {
		line = fmt.Sprintf("[%s] [%-5s]%s %s\n", timestamp, level, fields.String(), entry.Message)
	}
	return []byte(line), nil
}

// Setup installs the formatter and caller reporting on logrus's standard
// logger. Safe to call more than once; only the first call takes effect.
func Setup() {
	setupOnce.Do(func() {
		logrus.SetOutput(os.Stdout)
		logrus.SetReportCaller(true)
		logrus.SetFormatter(&Formatter{})
	})
}

// ToFile switches the global log destination to a size-rotated file
// under dir, or back to stdout when dir is empty.
func ToFile(dir string, maxSizeMB int) error {
	Setup()
	writerMu.Lock()
	defer writerMu.Unlock()

	if fileOut != nil {
		_ = fileOut.Close()
		fileOut = nil
	}
	if dir == "" {
		logrus.SetOutput(os.Stdout)
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("logging: create log directory: %w", err)
	}
	fileOut = &lumberjack.Logger{
		Filename: filepath.Join(dir, "snekrpc.log"),
		MaxSize:  maxSizeMB,
		Compress: false,
	}
	logrus.SetOutput(fileOut)
	return nil
}

// SetLevel parses and applies a level name, defaulting to info on a
// parse failure.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
