// Package pumpkinlog centralizes structured, key-value logging for the
// process, a thin convenience layer over erigon-lib's log/v3 so the rest of
// the module calls a stable local API rather than importing log/v3 directly
// everywhere.
package pumpkinlog

import (
	"github.com/erigontech/erigon-lib/log/v3"
)

// New returns a named logger, e.g. pumpkinlog.New("scheduler").
func New(component string) log.Logger {
	return log.New("component", component)
}

// SetupConsole installs a console handler at the given level on the root
// logger, driven by the CLI's --verbosity flag.
func SetupConsole(lvl log.Lvl) {
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StderrHandler))
}
