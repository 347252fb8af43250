package multirepo

import (
	"os"

	"github.com/sirupsen/logrus"
)

// ConfigureLogging wires logrus the way operators expect from the CLI: text
// output to stderr (so it never interleaves with Output's stdout reporting),
// level taken from MULTIREPO_LOG_LEVEL (defaulting to warn so a normal
// invocation is quiet), and full timestamps for anything that ends up in a
// log aggregator.
func ConfigureLogging() {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := logrus.WarnLevel
	if s := os.Getenv("MULTIREPO_LOG_LEVEL"); s != "" {
		if parsed, err := logrus.ParseLevel(s); err == nil {
			level = parsed
		}
	}
	logrus.SetLevel(level)
}
