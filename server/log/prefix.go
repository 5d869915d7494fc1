// Package log scopes a logs.Log to one component, by prefixing every message.
package log

import (
	"github.com/cyclopcam/logs"
)

// PrefixLogger writes to the underlying log, with every message prefixed
type PrefixLogger struct {
	Log    logs.Log
	Prefix string
}

// NewPrefixLogger adds a space after prefix
func NewPrefixLogger(log logs.Log, prefix string) *PrefixLogger {
	return &PrefixLogger{
		Log:    log,
		Prefix: prefix + " ",
	}
}

// Scan returns a logger for work on one scan, nested under this logger's prefix
func (l *PrefixLogger) Scan(scanID string) *PrefixLogger {
	return &PrefixLogger{
		Log:    l.Log,
		Prefix: l.Prefix + "[" + scanID + "] ",
	}
}

func (l *PrefixLogger) Close() {
	l.Log.Close()
}

func (l *PrefixLogger) Debugf(format string, a ...any) {
	l.Log.Debugf(l.Prefix+format, a...)
}

func (l *PrefixLogger) Infof(format string, a ...any) {
	l.Log.Infof(l.Prefix+format, a...)
}

func (l *PrefixLogger) Warnf(format string, a ...any) {
	l.Log.Warnf(l.Prefix+format, a...)
}

func (l *PrefixLogger) Errorf(format string, a ...any) {
	l.Log.Errorf(l.Prefix+format, a...)
}

func (l *PrefixLogger) Criticalf(format string, a ...any) {
	l.Log.Criticalf(l.Prefix+format, a...)
}
