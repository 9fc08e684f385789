// Package logging contains the module loggers used across pulse and the
// backend setup for the CLI. Library code only ever logs through these.
package logging

import (
	"io"
	"os"

	"gopkg.in/op/go-logging.v1"
)

// Log is the logger for the pool itself.
var Log = logging.MustGetLogger("pulse")

// Verbosity maps onto go-logging levels; 0 is quietest.
type Verbosity int

const (
	// MinVerbosity only shows errors.
	MinVerbosity Verbosity = 0
	// MaxVerbosity shows debug output.
	MaxVerbosity Verbosity = 4
)

// quietModules are kept at WARNING until Init installs a backend, so that
// library users who never configure logging don't see per-spawn debug lines.
var quietModules = []string{"pulse", "stats", "metrics"}

func init() {
	quietDefaults()
}

func quietDefaults() {
	for _, module := range quietModules {
		logging.SetLevel(logging.WARNING, module)
	}
}

const format = "%{time:15:04:05.000} %{level:7s} %{module}: %{message}"

// Level converts a verbosity into a go-logging level, clamping out of range values.
func (v Verbosity) Level() logging.Level {
	if v < MinVerbosity {
		v = MinVerbosity
	} else if v > MaxVerbosity {
		v = MaxVerbosity
	}
	// go-logging counts CRITICAL=0 .. DEBUG=5; verbosity 0 keeps ERROR and above.
	return logging.Level(int(v) + 1)
}

// Init sets up a levelled stderr backend for every module logger.
func Init(v Verbosity) {
	InitWriter(os.Stderr, v)
}

// InitWriter is Init with an arbitrary destination, used by tests.
func InitWriter(w io.Writer, v Verbosity) {
	backend := logging.NewBackendFormatter(logging.NewLogBackend(w, "", 0), logging.MustStringFormatter(format))
	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(v.Level(), "")
	logging.SetBackend(leveled)
}

