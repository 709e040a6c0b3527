package server

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from cfg. An unknown level or format
// is reported and replaced by info/text so a typo never stops the server.
func NewLogger(cfg LogConfig, out io.Writer) (*logrus.Logger, error) {
	if out == nil {
		out = os.Stderr
	}

	logger := logrus.New()
	logger.SetOutput(out)

	var problems []string

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		problems = append(problems, err.Error())
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		problems = append(problems, fmt.Sprintf("unknown log format %q", cfg.Format))
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if len(problems) > 0 {
		return logger, fmt.Errorf("logging config: %v", problems)
	}
	return logger, nil
}
