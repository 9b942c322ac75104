package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/storyloom/storyloom/internal/api"
	"github.com/storyloom/storyloom/internal/checkpoint"
	"github.com/storyloom/storyloom/internal/compress"
	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/export"
	"github.com/storyloom/storyloom/internal/metrics"
	"github.com/storyloom/storyloom/internal/observer"
	"github.com/storyloom/storyloom/internal/orchestrator"
	"github.com/storyloom/storyloom/internal/state"
	"github.com/storyloom/storyloom/internal/tokens"
	"github.com/storyloom/storyloom/internal/workspace"
	"github.com/storyloom/storyloom/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath  string
	envFile     string
	verbose     bool
	projectFlag string
	metricsAddr string
	feedback    string
	partial     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "storyloom",
		Short: "StoryLoom - Multi-agent long-form fiction engine",
		Long: `StoryLoom drives a team of LLM agents through a phased novel-writing
workflow: planning, plan critique, chunked drafting, and per-chunk
review, with durable checkpoints so a run can always be resumed.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	newCmd := &cobra.Command{
		Use:   "new <title>",
		Short: "Create a new writing project",
		Long:  "Create a project workspace and initial workflow state for a novel with the given title",
		Args:  cobra.ExactArgs(1),
		RunE:  newProject,
	}
	newCmd.Flags().StringVar(&projectFlag, "project", "", "Project ID (default: derived from the title)")

	runCmd := &cobra.Command{
		Use:   "run <project-id>",
		Short: "Run the writing workflow",
		Long: `Run the workflow for a project until it completes or is interrupted:
1. PLANNING - the Story Architect drafts summary, characters, structure, outline
2. PLAN_CRITIQUE - the Story Editor critiques and revises the plan
3. WRITING - the Creative Writer drafts the manuscript chunk by chunk
4. WRITE_CRITIQUE - the Chunk Editor approves each chunk or requests revision

Interrupted runs resume from the last checkpoint automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: runWorkflow,
	}
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	statusCmd := &cobra.Command{
		Use:   "status <project-id>",
		Short: "Show workflow status for a project",
		Args:  cobra.ExactArgs(1),
		RunE:  showStatus,
	}

	pauseCmd := &cobra.Command{
		Use:   "pause <project-id>",
		Short: "Pause a running workflow at its next iteration boundary",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return setPaused(args[0], true) },
	}

	resumeCmd := &cobra.Command{
		Use:   "resume <project-id>",
		Short: "Resume a paused workflow",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return setPaused(args[0], false) },
	}

	approveCmd := &cobra.Command{
		Use:   "approve <project-id>",
		Short: "Approve the pending phase transition",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return decideApproval(args[0], true) },
	}

	rejectCmd := &cobra.Command{
		Use:   "reject <project-id>",
		Short: "Reject the pending phase transition",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return decideApproval(args[0], false) },
	}
	rejectCmd.Flags().StringVar(&feedback, "feedback", "", "Feedback passed back to the working agent")

	exportCmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Stitch approved chunks into a single manuscript file",
		Args:  cobra.ExactArgs(1),
		RunE:  exportManuscript,
	}
	exportCmd.Flags().BoolVar(&partial, "partial", false, "Export approved chunks even if the workflow is not complete")

	rootCmd.AddCommand(newCmd, runCmd, statusCmd, pauseCmd, resumeCmd, approveCmd, rejectCmd, exportCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newProject(cmd *cobra.Command, args []string) error {
	title := strings.TrimSpace(args[0])
	if title == "" {
		return fmt.Errorf("title must not be empty")
	}

	loadEnv()
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	projectID := projectFlag
	if projectID == "" {
		projectID = slugify(title) + "-" + uuid.New().String()[:8]
	}

	logger := consoleLogger()
	ws, err := workspace.New(cfg.Workflow.OutputDir, projectID, logger)
	if err != nil {
		return err
	}

	states := state.NewStore(ws.StatePath(), logger)
	if states.Exists() {
		return fmt.Errorf("project %s already exists", projectID)
	}

	st := state.NewState(projectID, uuid.New().String(), title)
	if err := states.Save(st); err != nil {
		return fmt.Errorf("failed to initialize workflow state: %w", err)
	}

	if err := ws.BackupConfig(configPath); err != nil {
		logger.Warn("Failed to back up config into workspace", "error", err)
	}

	fmt.Printf("Created project %s for %q\n", projectID, title)
	fmt.Printf("Start it with: storyloom run %s\n", projectID)
	return nil
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	projectID := args[0]

	loadEnv()
	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ws, err := workspace.Open(cfg.Workflow.OutputDir, projectID, consoleLogger())
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger, logFile, err := workspace.SetupLogger(ws, logLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Sync()
			_ = logFile.Close()
		}
	}()

	logger.Info("StoryLoom starting",
		"version", Version,
		"project", projectID,
		"config", configPath)

	if metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}

	collector := metrics.NewCollector(logger)
	console := observer.NewConsole()
	client := api.NewClient(logger, collector)
	client.SetStreamObserver(console)
	states := state.NewStore(ws.StatePath(), logger)
	checkpoints := checkpoint.NewStore(ws, logger)

	var compressor *compress.Engine
	if !cfg.Compression.Disabled {
		summaryModel := cfg.SummaryModel()
		summaryKey := secrets.GetAPIKey(summaryModel.BaseURL)

		var estimator tokens.Estimator = tokens.HeuristicEstimator{}
		if cfg.Compression.Estimator == config.EstimatorRemote {
			estimator = tokens.NewRemoteEstimator(summaryModel.BaseURL, summaryModel.ModelName, summaryKey, logger)
		}
		compressor = compress.NewEngine(client, summaryModel, summaryKey, estimator, cfg.Compression, logger)
	}

	orch := orchestrator.New(cfg, secrets, client, ws, states, checkpoints, compressor,
		collector, console, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Workflow interrupted - state and checkpoint were saved",
				"resume_command", fmt.Sprintf("storyloom run %s", projectID))
			return fmt.Errorf("workflow interrupted (resume with: storyloom run %s)", projectID)
		}
		if errors.Is(err, orchestrator.ErrIterationBudgetExhausted) {
			// A spent budget is a planned stop, not a failure: everything is
			// checkpointed and the run continues where it left off.
			logger.Warn("Iteration budget exhausted", "max_iterations", cfg.Workflow.MaxIterations)
			fmt.Printf("Stopped: %v.\nRaise [workflow].max_iterations and resume with: storyloom run %s\n",
				err, projectID)
			return nil
		}
		return fmt.Errorf("workflow failed: %w", err)
	}

	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	st, _, err := loadProjectState(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Project:     %s\n", st.ProjectID)
	fmt.Printf("Title:       %s\n", st.Title)
	fmt.Printf("Phase:       %s\n", st.Phase)
	fmt.Printf("Progress:    %.1f%%\n", st.Progress())
	fmt.Printf("Iteration:   %d\n", st.Iteration)
	fmt.Printf("Chunks:      %d / %d approved (writing chunk %d)\n", st.ApprovedChunks, st.TotalChunks, st.CurrentChunk)
	fmt.Printf("Paused:      %v\n", st.Paused)
	fmt.Printf("Updated:     %s\n", st.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Println()

	fmt.Println("Session stats:")
	fmt.Printf("  Model calls:     %d\n", st.Stats.ModelCalls)
	fmt.Printf("  Retries:         %d\n", st.Stats.Retries)
	fmt.Printf("  Tool executions: %d\n", st.Stats.ToolExecutions)
	fmt.Printf("  Compressions:    %d\n", st.Stats.Compressions)
	fmt.Printf("  Model time:      %s\n", st.Stats.TotalDuration.Round(time.Second))

	if req := st.PendingApproval; req != nil {
		fmt.Println()
		fmt.Printf("Pending approval: %s -> %s (request %s)\n", req.FromPhase, req.ToPhase, req.ID)
		if req.Reason != "" {
			fmt.Printf("  Reason: %s\n", req.Reason)
		}
		fmt.Printf("  Resolve with: storyloom approve %s  or  storyloom reject %s --feedback \"...\"\n",
			st.ProjectID, st.ProjectID)
	}

	if len(st.TransitionLog) > 0 {
		fmt.Println()
		fmt.Println("Transitions:")
		for _, tr := range st.TransitionLog {
			fmt.Printf("  %s  %s -> %s", tr.At.Format("2006-01-02 15:04:05"), tr.From, tr.To)
			if tr.Reason != "" {
				fmt.Printf("  (%s)", tr.Reason)
			}
			fmt.Println()
		}
	}

	return nil
}

func setPaused(projectID string, paused bool) error {
	st, states, err := loadProjectState(projectID)
	if err != nil {
		return err
	}

	if st.Phase.IsTerminal() {
		return fmt.Errorf("project %s is already complete", projectID)
	}
	if st.Paused == paused {
		if paused {
			fmt.Printf("Project %s is already paused.\n", projectID)
		} else {
			fmt.Printf("Project %s is not paused.\n", projectID)
		}
		return nil
	}

	st.Paused = paused
	if err := states.Save(st); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	if paused {
		fmt.Printf("Paused project %s; the workflow will stop at its next iteration boundary.\n", projectID)
	} else {
		fmt.Printf("Resumed project %s.\n", projectID)
	}
	return nil
}

func decideApproval(projectID string, approved bool) error {
	st, states, err := loadProjectState(projectID)
	if err != nil {
		return err
	}

	req := st.PendingApproval
	if req == nil {
		return fmt.Errorf("project %s has no pending approval request", projectID)
	}
	if !approved && strings.TrimSpace(feedback) == "" {
		return fmt.Errorf("rejecting requires --feedback so the agent knows what to fix")
	}

	st.ApprovalHistory = append(st.ApprovalHistory, models.ApprovalDecision{
		RequestID: req.ID,
		Approved:  approved,
		Feedback:  strings.TrimSpace(feedback),
		DecidedAt: time.Now(),
	})
	st.PendingApproval = nil

	if err := states.Save(st); err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}

	if approved {
		fmt.Printf("Approved transition %s -> %s for project %s.\n", req.FromPhase, req.ToPhase, projectID)
	} else {
		fmt.Printf("Rejected transition %s -> %s for project %s.\n", req.FromPhase, req.ToPhase, projectID)
	}
	return nil
}

func exportManuscript(cmd *cobra.Command, args []string) error {
	projectID := args[0]

	loadEnv()
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := consoleLogger()
	ws, err := workspace.Open(cfg.Workflow.OutputDir, projectID, logger)
	if err != nil {
		return err
	}

	st, err := state.NewStore(ws.StatePath(), logger).Load()
	if err != nil {
		return fmt.Errorf("failed to load workflow state: %w", err)
	}

	path, err := export.Manuscript(ws, st, export.Options{AllowPartial: partial}, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Exported %d chunks to %s\n", st.ApprovedChunks, path)
	return nil
}

// loadProjectState opens a project's state for the control commands
func loadProjectState(projectID string) (*models.WorkflowState, *state.Store, error) {
	loadEnv()
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := consoleLogger()
	ws, err := workspace.Open(cfg.Workflow.OutputDir, projectID, logger)
	if err != nil {
		return nil, nil, err
	}

	states := state.NewStore(ws.StatePath(), logger)
	st, err := states.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load workflow state: %w", err)
	}
	return st, states, nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("Serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server stopped", "error", err)
	}
}

func consoleLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadEnv() {
	if envFile == "" {
		return
	}
	if err := loadEnvFile(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	} else if verbose {
		fmt.Fprintf(os.Stderr, "Loaded env file: %s\n", envFile)
	}
}

// loadEnvFile loads KEY=VALUE pairs from a file into the environment
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = trimQuotes(strings.TrimSpace(value))
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}

	return nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// slugify turns a title into a filesystem-friendly project ID fragment
func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteRune('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 40 {
		slug = strings.Trim(slug[:40], "-")
	}
	if slug == "" {
		slug = "untitled"
	}
	return slug
}
