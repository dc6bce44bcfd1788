// Package log implements structured logging for the engine, following the
// teacher's own logrus-backed Logger interface: a package-level singleton
// reached through GetLogger(), initialized once from config.
package log

import (
	"sync"

	"github.com/graphscope/pegasus/internal/config"
)

// Logger is the narrow structured-logging surface every package in this
// engine logs through, instead of calling a concrete logging library
// directly.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})

	WithField(field string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger

	IsDebugEnabled() bool
}

var (
	once   sync.Once
	logger Logger = noop{}
)

// GetLogger returns the global logger. Before Init runs it is a no-op
// logger, so packages that log before the host calls Init (or in tests
// that never do) don't panic on a nil interface.
func GetLogger() Logger {
	return logger
}

// Init builds the global logger from cfg. Only the first call takes
// effect, matching the teacher's once.Do singleton.
func Init(cfg config.LogConfig) error {
	var err error
	once.Do(func() {
		logger, err = newLogrusLogger(cfg)
	})
	return err
}

type noop struct{}

func (noop) Debug(args ...interface{})                 {}
func (noop) Debugf(format string, args ...interface{}) {}
func (noop) Info(args ...interface{})                  {}
func (noop) Infof(format string, args ...interface{})  {}
func (noop) Warn(args ...interface{})                  {}
func (noop) Warnf(format string, args ...interface{})  {}
func (noop) Error(args ...interface{})                 {}
func (noop) Errorf(format string, args ...interface{}) {}
func (noop) Fatal(args ...interface{})                 {}
func (noop) Fatalf(format string, args ...interface{}) {}
func (noop) WithField(string, interface{}) Logger      { return noop{} }
func (noop) WithFields(map[string]interface{}) Logger  { return noop{} }
func (noop) WithError(error) Logger                    { return noop{} }
func (noop) IsDebugEnabled() bool                      { return false }
