package main

import "github.com/sirupsen/logrus"

// newLogger builds the process-wide logger every command shares, a
// freshly constructed *logrus.Logger per entry point rather than a
// shared package-level singleton.
func newLogger() *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(l)
}
