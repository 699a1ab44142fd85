// Command squawkvm is a small demonstration harness over the VM core: it
// loads a Config, builds a vm.VM, and drives the external-interface
// surface of the runtime configuration knobs (spec §6) — allocating a
// handful of objects and threads, running an explicit collection, and
// printing the registered object memories. It is not part of the core's
// public contract (see SPEC_FULL.md §10.4); a real embedder links
// internal/vm directly.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dougxc/squawk/internal/addr"
	"github.com/dougxc/squawk/internal/classmeta"
	"github.com/dougxc/squawk/internal/config"
	"github.com/dougxc/squawk/internal/metrics"
	"github.com/dougxc/squawk/internal/vm"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "squawkvm",
		Short: "Demonstration harness for the embedded VM core",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a TOML config file (defaults built in if omitted)")
	root.AddCommand(newRunCommand(), newSuiteInfoCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}
	return config.Load(cfgPath)
}

func newLogger() *zap.Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newRunCommand() *cobra.Command {
	var objectCount int
	var threadCount int
	var full bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Allocate a few objects and threads, then run a collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger()
			defer logger.Sync() //nolint:errcheck

			reg, _ := metrics.New()
			core := vm.New(cfg, logger, reg)

			demoKlass := &classmeta.Klass{
				ID:            "demo.Node",
				InstanceWords: 2,
			}
			klassPtr := core.Mem.RegisterClass(demoKlass)

			var allocated []addr.Address
			for i := 0; i < objectCount; i++ {
				obj, err := core.Mem.NewInstance(klassPtr, demoKlass)
				if err != nil {
					return fmt.Errorf("allocating demo object %d: %w", i, err)
				}
				allocated = append(allocated, obj)
			}
			logger.Info("allocated demo objects", zap.Int("count", len(allocated)))

			methodKlass := &classmeta.Klass{
				ID:        "demo.Node.run",
				Modifiers: classmeta.ModArray | classmeta.ModSquawkArray,
			}
			methodKlassPtr := core.Mem.RegisterClass(methodKlass)
			demoBytecode := []byte{0x00, 0x01, 0x02, 0x03} // placeholder opcodes
			method, err := core.Mem.NewMethod(methodKlassPtr, methodKlass, demoBytecode)
			if err != nil {
				return fmt.Errorf("allocating demo method body: %w", err)
			}
			logger.Info("allocated demo method body",
				zap.Int("bytecode_len", len(demoBytecode)),
				zap.Uint64("address", uint64(method)),
			)

			for i := 0; i < threadCount; i++ {
				t := core.Sched.NewThread(i%10, 0)
				if err := core.Sched.Start(t); err != nil {
					return fmt.Errorf("starting demo thread %d: %w", i, err)
				}
			}
			logger.Info("started demo threads", zap.Int("count", threadCount))

			reclaimed, err := core.CollectGarbage(full)
			if err != nil {
				return err
			}
			logger.Info("ran explicit collection",
				zap.Bool("full", full),
				zap.Uint64("bytes_reclaimed", uint64(reclaimed)),
				zap.Uint64("collections_run", core.Mem.CollectionsRun()),
			)
			return nil
		},
	}
	cmd.Flags().IntVar(&objectCount, "objects", 8, "number of demo objects to allocate")
	cmd.Flags().IntVar(&threadCount, "threads", 4, "number of demo threads to start")
	cmd.Flags().BoolVar(&full, "full", false, "request a full rather than young-only collection")
	return cmd
}

func newSuiteInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "suite-info",
		Short: "Print the object memories registered in a fresh VM",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			core := vm.New(cfg, zap.NewNop(), nil)
			memories := core.Mem.ObjectMemories()
			if len(memories) == 0 {
				fmt.Println("no object memories registered")
				return nil
			}
			for _, om := range memories {
				fmt.Printf("%s root=%d\n", om.URL, om.Root)
			}
			return nil
		},
	}
}
