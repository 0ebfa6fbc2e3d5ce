package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"appforge/internal/config"
	"appforge/internal/pipeline"
	"appforge/internal/project"
	"appforge/internal/provider"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Generate flags
	streamOut bool
	outDir    string

	// Iterate flags
	projectPath string

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "appforge",
	Short: "appforge - LLM-driven full-stack application generator",
	Long: `appforge turns a natural-language request into a runnable full-stack
project through a multi-phase pipeline:

  1. ANALYZE:  classify the request (stack, complexity, auth, database)
  2. SPEC:     derive a structured specification
  3. PLAN:     produce an implementation plan
  4. GENERATE: emit the project files, with cross-provider fallback
  5. VALIDATE: structural checks on the generated project

Existing projects are refined with a single ITERATE pass.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// generateCmd builds a new project from a request
var generateCmd = &cobra.Command{
	Use:   "generate [request]",
	Short: "Generate a new application from a natural-language request",
	Long: `Runs the full pipeline against the request and writes the generated
project to disk.

Example:
  appforge generate "Build a todo app with due dates" --out ./todo-app`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

// iterateCmd refines an existing project snapshot
var iterateCmd = &cobra.Command{
	Use:   "iterate [request]",
	Short: "Refine an existing project with a follow-up request",
	Long: `Loads a project snapshot, applies a single refinement pass and saves
the merged result back.

Example:
  appforge iterate "Add dark mode" --project ./todo-app/project.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIterate,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: appforge.yaml)")

	generateCmd.Flags().BoolVar(&streamOut, "stream", false, "Stream tokens and files as they are generated")
	generateCmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory for generated files")

	iterateCmd.Flags().BoolVar(&streamOut, "stream", false, "Stream tokens and files as they are generated")
	iterateCmd.Flags().StringVarP(&projectPath, "project", "p", "project.json", "Project snapshot to refine")
	iterateCmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory for refreshed files")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(iterateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadOrchestrator() (*pipeline.Orchestrator, error) {
	path := configPath
	if path == "" {
		path = "appforge.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	creds := cfg.Credentials()
	if creds.Empty() {
		return nil, fmt.Errorf("no provider credentials: set GEMINI_API_KEY or ANTHROPIC_API_KEY, or fill %s", path)
	}
	factory := provider.NewFactory(cfg, logger)
	return pipeline.New(factory, creds, logger), nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	orch, err := loadOrchestrator()
	if err != nil {
		return err
	}

	req := pipeline.RunRequest{UserRequest: strings.Join(args, " ")}
	logger.Info("Generating application", zap.String("request", req.UserRequest))

	var result *project.GenerationResult
	if streamOut {
		result, err = runStreaming(ctx, orch, req)
	} else {
		result, err = orch.Run(ctx, req)
	}
	if err != nil {
		return err
	}
	return writeResult(result)
}

func runIterate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	orch, err := loadOrchestrator()
	if err != nil {
		return err
	}

	existing, err := project.Load(projectPath)
	if err != nil {
		return fmt.Errorf("failed to load project snapshot: %w", err)
	}

	req := pipeline.RunRequest{
		UserRequest: strings.Join(args, " "),
		Existing:    existing,
	}
	logger.Info("Refining project",
		zap.String("project", existing.Name),
		zap.Int("version", existing.Version),
		zap.String("request", req.UserRequest))

	var result *project.GenerationResult
	if streamOut {
		result, err = runStreaming(ctx, orch, req)
	} else {
		result, err = orch.Run(ctx, req)
	}
	if err != nil {
		return err
	}
	if err := result.Project.Save(projectPath); err != nil {
		return fmt.Errorf("failed to save project snapshot: %w", err)
	}
	return writeResult(result)
}

// runStreaming consumes the event sequence, rendering progress as it goes,
// and returns the final result carried by the run_completed event.
func runStreaming(ctx context.Context, orch *pipeline.Orchestrator, req pipeline.RunRequest) (*project.GenerationResult, error) {
	events, err := orch.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var result *project.GenerationResult
	for ev := range events {
		switch ev.Kind {
		case pipeline.EventPhaseStarted:
			fmt.Fprintf(os.Stderr, "==> %s\n", ev.Phase)
		case pipeline.EventPhaseCompleted:
			fmt.Fprintf(os.Stderr, "    %s done (%dms", ev.Phase, ev.DurationMs)
			if ev.Model != "" {
				fmt.Fprintf(os.Stderr, ", %s", ev.Model)
			}
			fmt.Fprintln(os.Stderr, ")")
		case pipeline.EventToken:
			fmt.Print(ev.Text)
		case pipeline.EventFile:
			fmt.Fprintf(os.Stderr, "    file: %s (%d lines)\n", ev.File.Path, ev.File.LineCount())
		case pipeline.EventDeps:
			fmt.Fprintf(os.Stderr, "    deps: %d frontend, %d backend\n",
				len(ev.FrontendDeps), len(ev.BackendDeps))
		case pipeline.EventRunCompleted:
			result = ev.Result
		}
	}
	if result == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("run ended without completing")
	}
	fmt.Println()
	return result, nil
}

func writeResult(result *project.GenerationResult) error {
	if outDir != "" {
		if err := result.Project.WriteFiles(outDir); err != nil {
			return fmt.Errorf("failed to write project files: %w", err)
		}
		logger.Info("Project written",
			zap.String("dir", outDir),
			zap.Int("files", len(result.Project.Files)))
	}

	fmt.Println(result.Summary())
	if verbose {
		ledger, err := json.MarshalIndent(result.Phases, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(ledger))
	}

	if !result.Success {
		return fmt.Errorf("validation failed: %s", strings.Join(result.Errors, "; "))
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
