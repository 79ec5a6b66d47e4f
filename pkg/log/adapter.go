package log

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogrusAdapter implements badger.Logger interface using logrus
// Badger's informational chatter (compactions, value log replay) is demoted to debug
type BadgerLogrusAdapter struct {
	*logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry}
}

// Errorf logs an error message
func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{}) {
	l.Entry.Errorf(trimNewline(f), v...)
}

// Warningf logs a warning message
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) {
	l.Entry.Warningf(trimNewline(f), v...)
}

// Infof logs at debug level
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{}) { l.Entry.Debugf(trimNewline(f), v...) }

// Debugf logs at trace level
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{}) {
	l.Entry.Tracef(trimNewline(f), v...)
}

// Badger terminates its format strings with "\n", logrus adds its own
func trimNewline(f string) string {
	return strings.TrimRight(f, "\n")
}

// NewLogger builds the process logger: text output with millisecond timestamps
// An unparseable level falls back to info and is reported through the returned error
func NewLogger(level string, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	logger.SetLevel(logrus.InfoLevel)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return logger, err
	}
	logger.SetLevel(parsed)
	return logger, nil
}
