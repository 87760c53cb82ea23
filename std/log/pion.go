package log

import (
	"fmt"

	"github.com/pion/logging"
)

// PionFactory routes logs emitted by pion libraries into a Logger.
// Messages from pion are noisy, so they are shifted down by Shift levels
// (for example Shift = 1 turns pion INFO into DEBUG).
type PionFactory struct {
	Logger *Logger
	Shift  int
}

type pionTag string

func (t pionTag) String() string {
	return "pion-" + string(t)
}

type pionLogger struct {
	l     *Logger
	tag   pionTag
	shift Level
}

// NewLogger implements logging.LoggerFactory.
func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	l := f.Logger
	if l == nil {
		l = Default()
	}
	return &pionLogger{l: l, tag: pionTag(scope), shift: Level(f.Shift) * (LevelDebug - LevelTrace)}
}

func (p *pionLogger) emit(level Level, msg string) {
	level -= p.shift
	if level < LevelTrace {
		level = LevelTrace
	}
	p.l.log(p.tag, msg, level)
}

func (p *pionLogger) Trace(msg string) { p.emit(LevelTrace, msg) }
func (p *pionLogger) Debug(msg string) { p.emit(LevelDebug, msg) }
func (p *pionLogger) Info(msg string)  { p.emit(LevelInfo, msg) }
func (p *pionLogger) Warn(msg string)  { p.emit(LevelWarn, msg) }
func (p *pionLogger) Error(msg string) { p.emit(LevelError, msg) }

func (p *pionLogger) Tracef(format string, args ...any) {
	p.emit(LevelTrace, fmt.Sprintf(format, args...))
}

func (p *pionLogger) Debugf(format string, args ...any) {
	p.emit(LevelDebug, fmt.Sprintf(format, args...))
}

func (p *pionLogger) Infof(format string, args ...any) {
	p.emit(LevelInfo, fmt.Sprintf(format, args...))
}

func (p *pionLogger) Warnf(format string, args ...any) {
	p.emit(LevelWarn, fmt.Sprintf(format, args...))
}

func (p *pionLogger) Errorf(format string, args ...any) {
	p.emit(LevelError, fmt.Sprintf(format, args...))
}
