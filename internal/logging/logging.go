package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
)

// Setup configures the standard logrus logger. "json" selects the JSON
// formatter for production; anything else logs human-readable text.
func Setup(cfg config.LogConfig) {
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(cfg.Level)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
