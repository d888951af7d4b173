// Package logging keeps the teacher's call-site logging API (level-gated
// Info/Warn/Error/Success functions plus a Section/Banner presentation
// layer) but backs it with logrus for structured fields and leveled
// output instead of hand-rolled fmt.Sprintf assembly.
package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var std = logrus.New()

func init() {
	std.SetOutput(os.Stdout)
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	std.SetLevel(logrus.InfoLevel)
}

// SetLevel adjusts the minimum emitted level ("debug", "info", "warn",
// "error").
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		std.Warnf("logging: unknown level %q, keeping %s", level, std.GetLevel())
		return
	}
	std.SetLevel(lvl)
}

// Fields is a structured set of key/value pairs attached to a log record,
// e.g. logging.Fields{"conn": addr, "stream": s}.
type Fields = logrus.Fields

// Debug logs at debug level.
func Debug(format string, args ...interface{}) { std.Debugf(format, args...) }

// Info logs at info level.
func Info(format string, args ...interface{}) { std.Infof(format, args...) }

// Warn logs at warn level.
func Warn(format string, args ...interface{}) { std.Warnf(format, args...) }

// Error logs at error level.
func Error(format string, args ...interface{}) { std.Errorf(format, args...) }

// Success logs at info level, annotated for operator-visible milestones.
func Success(format string, args ...interface{}) {
	std.WithField("milestone", true).Infof(format, args...)
}

// Fatal logs at error level then exits the process, matching the teacher's
// logger.Fatal (a startup-only escape hatch, never called on a live
// connection path).
func Fatal(format string, args ...interface{}) {
	std.Errorf(format, args...)
	os.Exit(1)
}

// With returns a logger bound to structured fields, for call sites that
// want to tag every record with e.g. a Connexion id.
func With(fields Fields) *logrus.Entry {
	return std.WithFields(fields)
}

// Section prints a bordered header, bypassing the log-level system
// entirely — pure operator-facing presentation, matching pkg/logger's
// original behavior.
func Section(title string) {
	fmt.Println()
	fmt.Printf("┌─ %s\n", title)
}

// Banner prints the startup banner, bypassing the log-level system.
func Banner(title, version string) {
	fmt.Println(`
  ____        _
 / ___| _ __ | |__  _   _ _ __ __  __
 \___ \| '_ \| '_ \| | | | '_ \\ \/ /
  ___) | |_) | | | | |_| | | | |>  <
 |____/| .__/|_| |_|\__, |_| |_/_/\_\
       |_|          |___/`)
	fmt.Printf("  %s — version %s\n\n", title, version)
}
