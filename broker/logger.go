package broker

import "github.com/sirupsen/logrus"

// natsLogger routes the embedded server's log through logrus.
type natsLogger struct{}

func (natsLogger) entry() *logrus.Entry {
	return logrus.WithField("function", "nats-server")
}

func (l natsLogger) Noticef(format string, v ...any) { l.entry().Infof(format, v...) }
func (l natsLogger) Warnf(format string, v ...any)   { l.entry().Warnf(format, v...) }
func (l natsLogger) Errorf(format string, v ...any)  { l.entry().Errorf(format, v...) }
func (l natsLogger) Debugf(format string, v ...any)  { l.entry().Debugf(format, v...) }
func (l natsLogger) Tracef(format string, v ...any)  { l.entry().Tracef(format, v...) }

// Fatalf is logged as an error; the server shuts itself down afterwards.
func (l natsLogger) Fatalf(format string, v ...any) { l.entry().Errorf(format, v...) }
