package rtc

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerFactory routes pion's internal logs into zerolog.
type LoggerFactory struct {
	// Level is the lowest level forwarded. pion is chatty, so Info is
	// treated as Debug.
	Level zerolog.Level
}

var _ logging.LoggerFactory = LoggerFactory{}

func (f LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	l := log.With().Str("module", "pion").Str("scope", scope).Logger().Level(f.Level)
	return &logAdapter{logger: l}
}

type logAdapter struct {
	logger zerolog.Logger
}

func (l *logAdapter) Trace(msg string) { l.logger.Trace().Msg(msg) }

func (l *logAdapter) Tracef(format string, args ...any) {
	l.logger.Trace().Msg(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Debug(msg string) { l.logger.Trace().Msg(msg) }

func (l *logAdapter) Debugf(format string, args ...any) {
	l.logger.Trace().Msg(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Info(msg string) { l.logger.Debug().Msg(msg) }

func (l *logAdapter) Infof(format string, args ...any) {
	l.logger.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Warn(msg string) { l.logger.Warn().Msg(msg) }

func (l *logAdapter) Warnf(format string, args ...any) {
	l.logger.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *logAdapter) Error(msg string) { l.logger.Error().Msg(msg) }

func (l *logAdapter) Errorf(format string, args ...any) {
	l.logger.Error().Msg(fmt.Sprintf(format, args...))
}
