package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/duynguyendang/sq8/internal/logging"
	"github.com/duynguyendang/sq8/internal/manager"
	"github.com/duynguyendang/sq8/pkg/config"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app carries the global flags and the resolved configuration.
type app struct {
	cfgPath  string
	dataDir  string
	logLevel string
	logJSON  bool
	lowMem   bool

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "sq8",
		Short:             "Fixed-ratio 8-bit quantization for float32 samples",
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "path to a YAML config file")
	pf.StringVar(&a.dataDir, "data-dir", "", "dataset root directory (overrides config)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error")
	pf.BoolVar(&a.logJSON, "log-json", false, "emit JSON logs")
	pf.BoolVar(&a.lowMem, "low-mem", false, "optimize for low-memory environments (e.g., Cloud Run with 1GB RAM)")

	root.AddCommand(
		a.encodeCmd(),
		a.decodeCmd(),
		a.inspectCmd(),
		a.statsCmd(),
		a.ingestCmd(),
		a.stressCmd(),
		a.serveCmd(),
		a.mcpCmd(),
	)
	return root
}

// setup resolves the configuration (file, environment, then flags) and
// installs the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}

	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logJSON {
		cfg.LogJSON = true
	}
	if a.lowMem {
		cfg.MemoryProfile = string(manager.MemoryProfileLow)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Setup(cfg.LogLevel, cfg.LogJSON)
	a.cfg = cfg
	return nil
}

func (a *app) newManager(readOnly bool) *manager.DatasetManager {
	return manager.NewDatasetManager(
		a.cfg.DataDir,
		manager.MemoryProfile(a.cfg.MemoryProfile),
		readOnly,
		manager.Options{FrameCacheSize: a.cfg.CacheSize},
	)
}

// readInput reads a whole file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// writeOutput writes data to a file, or stdout when path is "-".
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
