package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/duynguyendang/sq8/pkg/codec"
	apperrors "github.com/duynguyendang/sq8/pkg/common/errors"
	mcpserver "github.com/duynguyendang/sq8/pkg/mcp"
	"github.com/duynguyendang/sq8/pkg/server"
	"github.com/spf13/cobra"
)

func (a *app) serveCmd() *cobra.Command {
	var addr string
	var readOnly bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Addr
			}
			mgr := a.newManager(a.cfg.ReadOnly || readOnly)
			defer mgr.CloseAll()

			srv := server.NewServer(mgr, server.Limits{
				MaxSamples: a.cfg.MaxSamples,
				MaxBatch:   a.cfg.MaxBatch,
			})
			slog.Info("starting REST API server", "addr", addr, "dataDir", a.cfg.DataDir, "readOnly", mgr.ReadOnly())
			if err := srv.Run(addr); err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config addr or $PORT)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "open every dataset read-only")
	return cmd
}

func (a *app) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the codec and datasets as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := a.newManager(a.cfg.ReadOnly)
			defer mgr.CloseAll()
			return mcpserver.Run(cmd.Context(), mgr, a.cfg.MaxSamples)
		},
	}
}

func (a *app) ingestCmd() *cobra.Command {
	var dataset string
	var create, jsonIn bool

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Encode sample files and store them in a dataset",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataset == "" {
				return errors.New("--dataset is required")
			}
			mgr := a.newManager(false)
			defer mgr.CloseAll()

			st, err := mgr.GetStore(dataset)
			if errors.Is(err, apperrors.ErrNotFound) && create {
				if _, err = mgr.CreateDataset(dataset, ""); err != nil {
					return err
				}
				st, err = mgr.GetStore(dataset)
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for start := 0; start < len(args); start += a.cfg.MaxBatch {
				files := args[start:min(start+a.cfg.MaxBatch, len(args))]

				seqs := make([][]float32, len(files))
				for i, f := range files {
					if seqs[i], err = readSamples(cmd, f, jsonIn); err != nil {
						return fmt.Errorf("%s: %w", f, err)
					}
				}

				bufs, err := codec.EncodeBatch(cmd.Context(), seqs)
				if err != nil {
					return err
				}
				for i, buf := range bufs {
					meta, err := st.Put(filepath.Base(files[i]), buf)
					if err != nil {
						return fmt.Errorf("%s: %w", files[i], err)
					}
					fmt.Fprintf(w, "%s\t%s\t%d\n", meta.ID, meta.Name, meta.Count)
				}
			}

			slog.Info("ingestion complete", "dataset", dataset, "files", len(args))
			return nil
		},
	}

	cmd.Flags().StringVar(&dataset, "dataset", "", "target dataset")
	cmd.Flags().BoolVar(&create, "create", false, "create the dataset if it does not exist")
	cmd.Flags().BoolVar(&jsonIn, "json", false, "read each file as a JSON number array")
	return cmd
}
