package logging

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Sink receives every run log line for durable append-only storage.
type Sink interface {
	AppendRunLog(runID string, line Line) error
}

// RunLog fans each line out to the in-memory ring, the process logger, and
// the durable sink. The ring survives until the task is reset so the control
// surface can always serve recent lines.
type RunLog struct {
	runID  string
	ring   *Ring
	logger zerolog.Logger
	sink   Sink
}

// NewRunLog creates a run log writing into ring. sink may be nil.
func NewRunLog(runID string, ring *Ring, logger zerolog.Logger, sink Sink) *RunLog {
	return &RunLog{
		runID:  runID,
		ring:   ring,
		logger: logger.With().Str("run_id", runID).Logger(),
		sink:   sink,
	}
}

// RunID returns the run this log is bound to.
func (l *RunLog) RunID() string {
	return l.runID
}

// Infof records an info-level line.
func (l *RunLog) Infof(format string, v ...interface{}) {
	l.append(LevelInfo, fmt.Sprintf(format, v...))
}

// Warnf records a warning-level line.
func (l *RunLog) Warnf(format string, v ...interface{}) {
	l.append(LevelWarn, fmt.Sprintf(format, v...))
}

// Errorf records an error-level line.
func (l *RunLog) Errorf(format string, v ...interface{}) {
	l.append(LevelError, fmt.Sprintf(format, v...))
}

func (l *RunLog) append(level, message string) {
	line := Line{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	}
	l.ring.Append(line)

	switch level {
	case LevelWarn:
		l.logger.Warn().Msg(message)
	case LevelError:
		l.logger.Error().Msg(message)
	default:
		l.logger.Info().Msg(message)
	}

	if l.sink != nil {
		// Sink failures must never interrupt a run.
		if err := l.sink.AppendRunLog(l.runID, line); err != nil {
			l.logger.Warn().Err(err).Msg("run log sink append failed")
		}
	}
}
