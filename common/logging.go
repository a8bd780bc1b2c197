// Package common provides shared logging infrastructure for the gateway.
//
// The logging system is built on logrus with a custom output splitter that
// routes error-level lines to stderr and everything else to stdout, so
// containerized deployments can treat the two streams differently.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// their level marker. It operates on the final formatted output, so it works
// with both the text and JSON formatters.
type OutputSplitter struct{}

// Write sends lines containing "level=error" to stderr and everything else
// to stdout.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the global logger instance shared by all gateway packages.
// Formatting and level are configured at startup from LoggingConfig.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}

// ConfigureLogging applies level and format settings to the global logger.
// Unknown levels fall back to info; unknown formats fall back to text.
func ConfigureLogging(level, format string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		Logger.SetLevel(lvl)
	} else {
		Logger.SetLevel(logrus.InfoLevel)
	}

	switch format {
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
