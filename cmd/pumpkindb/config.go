package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config carries the externally-supplied values named by the wire contract:
// storage path, maximum key size, scheduler worker count, and log verbosity.
// None of these affect core semantics except the maximum key size, which is
// reported back to programs via $SYSTEM/MAXKEYSIZE.
type Config struct {
	DataDir    string
	MaxKeySize uint32
	Workers    int
	Verbosity  int
}

// Bind registers flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(
		&c.DataDir,
		"datadir",
		"",
		"data directory to lock for exclusive use; empty disables the lock")
	flags.Uint32Var(
		&c.MaxKeySize,
		"maxKeySize",
		8192,
		"maximum key size in bytes, reported via $SYSTEM/MAXKEYSIZE")
	flags.IntVar(
		&c.Workers,
		"workers",
		0,
		"concurrently running programs; 0 means the number of CPUs")
	flags.IntVar(
		&c.Verbosity,
		"verbosity",
		3,
		"log verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace")
}

// Preflight validates the configuration before anything is wired up.
func (c *Config) Preflight() error {
	if c.MaxKeySize == 0 {
		return errors.New("maxKeySize must be positive")
	}
	if c.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	if c.Verbosity < 0 || c.Verbosity > 5 {
		return errors.New("verbosity must be in 0..5")
	}
	return nil
}
