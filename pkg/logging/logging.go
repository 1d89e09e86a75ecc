// Copyright 2025 Certen Protocol
//
// Package logging is a thin logrus setup helper shared by every daemon,
// grounded on the teacher's use of logrus in
// orbas1-Synnergy/synnergy-network/walletserver/middleware/logger.go
// (package-level logrus calls, no bespoke logger abstraction).
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logrus.Logger writing timestamped text to stderr at level
// (info when level does not parse). It does not attach component or
// nodeID to entries; WithFields returns an entry carrying them, so
// multi-process log aggregation (several shards, one coordinator) can be
// filtered per component.
func New(component, nodeID, level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(parseLevel(level))
	return log
}

// WithFields returns the component/node-id fields every entry in a
// daemon's lifetime carries.
func WithFields(log *logrus.Logger, component, nodeID string) *logrus.Entry {
	return log.WithFields(logrus.Fields{"component": component, "node_id": nodeID})
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
