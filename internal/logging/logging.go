// Package logging constructs the structured logger shared by every
// component, keeping the logrus setup in one place.
package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger at level, formatted as either "json" or
// "text" (the default for any other value).
func New(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: parse level %q: %w", level, err)
	}
	logger.SetLevel(parsed)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger, nil
}
