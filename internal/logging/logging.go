// Package logging wires apex/log for the cachectl binary.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/apex/log"
)

// Init sets up apex with the line handler and a log level taken from the
// PEAKCACHE_LOG env variable, defaulting to warnings only.
func Init() {
	level := strings.ToUpper(os.Getenv("PEAKCACHE_LOG"))
	if level == "" {
		level = "WARN"
	}
	log.SetHandler(&LineHandler{})
	log.SetLevelFromString(level)
}

// LineHandler formats log entries as single lines on stderr.
type LineHandler struct{}

// HandleLog implements the log.Handler interface.
func (h *LineHandler) HandleLog(e *log.Entry) error {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	level := strings.ToUpper(e.Level.String())

	var fields strings.Builder
	for _, name := range e.Fields.Names() {
		fmt.Fprintf(&fields, " %s=%v", name, e.Fields.Get(name))
	}

	fmt.Fprintf(os.Stderr, "%s %.1s %s%s\n", timestamp, level, e.Message, fields.String())
	return nil
}
