package partconsumer

import (
	"fmt"
	"log"
	"os"
)

// Logger is the injected observability seam used in place of a
// module-level logger: an interface supplied at construction, with a
// default implementation that writes to the host log. Tests verify
// calls through an injected fake.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// stdLogger is the default Logger, writing through the standard
// library's log package.
type stdLogger struct {
	*log.Logger
}

func newStdLogger() Logger {
	return &stdLogger{log.New(os.Stderr, "", log.LstdFlags)}
}

func (l *stdLogger) Debugf(format string, args ...interface{}) {
	l.Printf("[debug] "+format, args...)
}

func (l *stdLogger) Warnf(format string, args ...interface{}) {
	l.Printf("[warn] "+format, args...)
}

func (l *stdLogger) Errorf(format string, args ...interface{}) {
	l.Printf("[error] "+format, args...)
}

// scopedLogger prefixes every line with "consumer/topic/partition" so
// log output from several consumers in one process stays attributable.
type scopedLogger struct {
	underlying Logger
	prefix     string
}

func newScopedLogger(underlying Logger, topic string, partition int32) *scopedLogger {
	return &scopedLogger{underlying: underlying, prefix: fmt.Sprintf("consumer/%s/%d", topic, partition)}
}

func (l *scopedLogger) Debugf(format string, args ...interface{}) {
	l.underlying.Debugf(l.prefix+" "+format, args...)
}

func (l *scopedLogger) Warnf(format string, args ...interface{}) {
	l.underlying.Warnf(l.prefix+" "+format, args...)
}

func (l *scopedLogger) Errorf(format string, args ...interface{}) {
	l.underlying.Errorf(l.prefix+" "+format, args...)
}
