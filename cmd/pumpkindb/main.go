// Command pumpkindb is the smallest ambient entry point over the core: it
// wires config -> logging -> storage backend -> scheduler, and its run
// subcommand executes one binary program from a file or stdin, writing the
// resulting stack back out in the wire encoding. Network framing and session
// handling belong to the external server and are intentionally absent here.
package main

import (
	"fmt"
	"io"
	"os"

	log "github.com/erigontech/erigon-lib/log/v3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pumpkindb/pumpkindb/bus"
	"github.com/pumpkindb/pumpkindb/hlc"
	"github.com/pumpkindb/pumpkindb/internal/pumpkinlog"
	"github.com/pumpkindb/pumpkindb/kv/memkv"
	"github.com/pumpkindb/pumpkindb/scheduler"
	"github.com/pumpkindb/pumpkindb/vm"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := &Config{}
	root := &cobra.Command{
		Use:           "pumpkindb",
		Short:         "immutable ordered key-value database scriptable with a concatenative byte-code language",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Preflight(); err != nil {
				return err
			}
			pumpkinlog.SetupConsole(log.Lvl(cfg.Verbosity))
			return nil
		},
	}
	cfg.Bind(root.PersistentFlags())
	root.AddCommand(runCmd(cfg))
	return root
}

func runCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run [program-file]",
		Short: "execute one binary program (from a file, or stdin when omitted) and write the final stack to stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			program, err := readProgram(args)
			if err != nil {
				return err
			}
			if !vm.Valid(program) {
				return errors.New("program does not decode")
			}

			opts := []memkv.Option{memkv.WithMaxKeySize(cfg.MaxKeySize)}
			if cfg.DataDir != "" {
				opts = append(opts, memkv.WithDataDir(cfg.DataDir))
			}
			db, err := memkv.New(opts...)
			if err != nil {
				return errors.Wrap(err, "opening storage backend")
			}
			defer db.Close()

			sched := scheduler.New(cfg.Workers, db, bus.New(), hlc.NewClock(), os.Stderr)
			sess := sched.NewSession(cmd.Context(), "cli")
			defer sess.Close()

			res := <-sess.Submit(program)
			if res.Err != nil {
				return errors.Errorf("program error 0x%02x (%s): %s",
					byte(res.Err.Kind), res.Err.Kind, res.Err.Description)
			}
			for _, v := range res.Stack {
				if _, err := os.Stdout.Write(vm.EncodePush(v)); err != nil {
					return errors.Wrap(err, "writing result stack")
				}
			}
			return nil
		},
	}
}

func readProgram(args []string) ([]byte, error) {
	if len(args) == 1 {
		b, err := os.ReadFile(args[0])
		return b, errors.Wrapf(err, "reading %s", args[0])
	}
	b, err := io.ReadAll(os.Stdin)
	return b, errors.Wrap(err, "reading program from stdin")
}
