package logger

import (
	"fmt"

	"github.com/pion/logging"
)

// PionFactory routes the WebRTC engine's internal logs into a Logger.
// Engine debug and trace output is only emitted when the webrtc category is
// enabled; warnings and errors always pass through.
type PionFactory struct {
	log *Logger
}

// NewPionFactory returns a logging.LoggerFactory backed by l
func NewPionFactory(l *Logger) *PionFactory {
	if l == nil {
		l = Default()
	}
	return &PionFactory{log: l}
}

// NewLogger implements logging.LoggerFactory
func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{log: f.log.With("component", "pion", "scope", scope)}
}

type pionLogger struct {
	log *Logger
}

var _ logging.LeveledLogger = (*pionLogger)(nil)

func (p *pionLogger) Trace(msg string) {
	p.log.DebugWebRTC(msg, "level", "trace")
}

func (p *pionLogger) Tracef(format string, args ...interface{}) {
	p.Trace(fmt.Sprintf(format, args...))
}

func (p *pionLogger) Debug(msg string) {
	p.log.DebugWebRTC(msg)
}

func (p *pionLogger) Debugf(format string, args ...interface{}) {
	p.Debug(fmt.Sprintf(format, args...))
}

func (p *pionLogger) Info(msg string) {
	p.log.DebugWebRTC(msg, "level", "info")
}

func (p *pionLogger) Infof(format string, args ...interface{}) {
	p.Info(fmt.Sprintf(format, args...))
}

func (p *pionLogger) Warn(msg string) {
	p.log.Logger.Warn(msg)
}

func (p *pionLogger) Warnf(format string, args ...interface{}) {
	p.Warn(fmt.Sprintf(format, args...))
}

func (p *pionLogger) Error(msg string) {
	p.log.Logger.Error(msg)
}

func (p *pionLogger) Errorf(format string, args ...interface{}) {
	p.Error(fmt.Sprintf(format, args...))
}
