package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/efebarandurmaz/kindred/internal/config"
	"github.com/efebarandurmaz/kindred/internal/ingest"
	"github.com/efebarandurmaz/kindred/internal/matching"
	"github.com/efebarandurmaz/kindred/internal/server"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var (
		configPath string
		backend    string
	)

	rootCmd := &cobra.Command{
		Use:           "kindred",
		Short:         "Profile ingestion and similarity matching",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/kindred.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&backend, "store", "", "Store backend override (neo4j, postgres, qdrant, memory)")

	var inputPath string
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a user export into the profile store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), configPath, backend, inputPath)
		},
	}
	ingestCmd.Flags().StringVar(&inputPath, "file", "", "Path to the JSON user export")
	_ = ingestCmd.MarkFlagRequired("file")

	var (
		k         int
		threshold float64
		ageBand   int
	)
	matchCmd := &cobra.Command{
		Use:   "match <user-id>",
		Short: "Print the best matches for a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("user id %q is not an integer", args[0])
			}
			var opts []matching.Option
			if cmd.Flags().Changed("k") {
				opts = append(opts, matching.WithK(k))
			}
			if cmd.Flags().Changed("threshold") {
				opts = append(opts, matching.WithThreshold(threshold))
			}
			if cmd.Flags().Changed("age-band") {
				opts = append(opts, matching.WithAgeBand(ageBand))
			}
			return runMatch(cmd.Context(), configPath, backend, userID, opts)
		},
	}
	matchCmd.Flags().IntVar(&k, "k", matching.DefaultK, "Maximum number of matches")
	matchCmd.Flags().Float64Var(&threshold, "threshold", matching.DefaultThreshold, "Minimum cosine similarity (exclusive)")
	matchCmd.Flags().IntVar(&ageBand, "age-band", matching.DefaultAgeBand, "Allowed age difference in years")

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the unique constraint and similarity index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd.Context(), configPath, backend)
		},
	}

	var (
		addr     string
		seedPath string
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the match API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, backend, addr, seedPath)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&seedPath, "ingest", "", "Ingest this export before serving")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("kindred", version)
		},
	}

	rootCmd.AddCommand(ingestCmd, matchCmd, schemaCmd, serveCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// ingestOutput is what `kindred ingest` prints.
type ingestOutput struct {
	*ingest.Report
	FailedIDs    []int64  `json:"failed_ids"`
	RejectedRows []string `json:"rejected_rows,omitempty"`
}

func runIngest(ctx context.Context, configPath, backend, inputPath string) error {
	app, err := newApp(ctx, configPath, backend)
	if err != nil {
		return err
	}
	defer app.Close()

	report, rejected, err := app.ingestFile(ctx, inputPath)
	if report == nil {
		return err
	}

	out := ingestOutput{Report: report, FailedIDs: report.FailedIDs()}
	for i := range rejected {
		out.RejectedRows = append(out.RejectedRows, rejected[i].Error())
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(out); encErr != nil {
		return encErr
	}
	return err
}

func runMatch(ctx context.Context, configPath, backend string, userID int64, opts []matching.Option) error {
	app, err := newApp(ctx, configPath, backend)
	if err != nil {
		return err
	}
	defer app.Close()

	matches, err := app.engine.FindMatches(ctx, userID, opts...)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(server.MatchResponse{UserID: userID, Matches: matches})
}

func runSchema(ctx context.Context, configPath, backend string) error {
	app, err := newApp(ctx, configPath, backend)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.pipeline.EnsureSchema(ctx); err != nil {
		return err
	}
	fmt.Printf("Schema ready on %s (dims=%d)\n", app.cfg.Store.Backend, app.embedder.Dimensions())
	return nil
}

func runServe(ctx context.Context, configPath, backend, addr, seedPath string) error {
	app, err := newApp(ctx, configPath, backend)
	if err != nil {
		return err
	}
	if addr == "" {
		addr = app.cfg.Server.Addr
	}

	if seedPath != "" {
		report, _, err := app.ingestFile(ctx, seedPath)
		if err != nil {
			app.Close()
			return err
		}
		app.logger.Info("seed ingested", "created", report.Created, "skipped", report.Skipped, "failed", len(report.Failed))
	}

	srv := server.New(app.engine, server.Config{
		Addr:            addr,
		Version:         version,
		ShutdownTimeout: app.cfg.Server.ShutdownTimeout,
		Logger:          app.logger,
		Metrics:         app.metrics.Handler(),
	})
	srv.Health.RegisterCheck("store", server.StoreHealthChecker(app.cfg.Store.Backend, app.store.Ping))
	srv.Health.RegisterCheck("embedder", server.EmbedderHealthChecker(app.embedder.Name(), nil))
	srv.Shutdown.Add(server.WorkerPoolShutdownHook(app.pipeline.Release))
	srv.Shutdown.Add(server.TracingShutdownHook(app.tracer.Shutdown))
	srv.Shutdown.Add(server.StoreShutdownHook(app.store.Close))

	return srv.Serve(ctx)
}

func loadConfig(path, backend string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if backend != "" {
		cfg.Store.Backend = backend
	}
	return cfg, nil
}
