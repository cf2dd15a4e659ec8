package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hochfrequenz/council-orchestrator/internal/config"
	"github.com/hochfrequenz/council-orchestrator/internal/council"
	"github.com/hochfrequenz/council-orchestrator/internal/domain"
	"github.com/hochfrequenz/council-orchestrator/internal/notify"
	"github.com/hochfrequenz/council-orchestrator/internal/pipeline"
	"github.com/hochfrequenz/council-orchestrator/internal/pullrequest"
	"github.com/hochfrequenz/council-orchestrator/internal/queue"
	"github.com/hochfrequenz/council-orchestrator/internal/sandbox"
	"github.com/hochfrequenz/council-orchestrator/internal/schedbridge"
	"github.com/hochfrequenz/council-orchestrator/internal/taskstore"
	"github.com/spf13/cobra"
)

// tokenEnv is where the source-control credential is read from; it is never
// a flag so it cannot leak into shell history or process listings.
const tokenEnv = "COUNCIL_GIT_TOKEN"

var (
	runRepo        string
	runBase        string
	runBranch      string
	runInstruction string

	enqueueRepo        string
	enqueueIssueNumber int
	enqueueTitle       string
	enqueueBody        string
	enqueuePriority    string

	drainLimit int
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run TASK_ID",
		Short: "Run the pipeline for one task",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runRepo, "repo", "", "repository (owner/name), defaults to the issue's")
	runCmd.Flags().StringVar(&runBase, "base", "", "base branch for the pull request")
	runCmd.Flags().StringVar(&runBranch, "branch", "", "branch name override")
	runCmd.Flags().StringVar(&runInstruction, "instruction", "", "instruction override")
	rootCmd.AddCommand(runCmd)

	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Track an issue and enqueue a code-change task for it",
		RunE:  runEnqueue,
	}
	enqueueCmd.Flags().StringVar(&enqueueRepo, "repo", "", "repository (owner/name)")
	enqueueCmd.Flags().IntVar(&enqueueIssueNumber, "issue", 0, "issue number")
	enqueueCmd.Flags().StringVar(&enqueueTitle, "title", "", "issue title")
	enqueueCmd.Flags().StringVar(&enqueueBody, "body", "", "issue body / task instruction")
	enqueueCmd.Flags().StringVar(&enqueuePriority, "priority", "normal", "low, normal or elevated")
	enqueueCmd.MarkFlagRequired("repo")
	enqueueCmd.MarkFlagRequired("issue")
	enqueueCmd.MarkFlagRequired("title")
	rootCmd.AddCommand(enqueueCmd)

	drainCmd := &cobra.Command{
		Use:   "drain",
		Short: "Run pending tasks, highest priority first",
		RunE:  runDrain,
	}
	drainCmd.Flags().IntVar(&drainLimit, "limit", 5, "maximum number of tasks to run")
	rootCmd.AddCommand(drainCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show task counts",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Re-pend requeueable failed tasks",
		RunE:  runSweep,
	}
	rootCmd.AddCommand(sweepCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// app is the wired orchestrator stack shared by the pipeline commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *taskstore.Store
	bridge  *schedbridge.Bridge
	watcher *council.ManifestWatcher
	runner  *pipeline.Runner
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}
	store, err := taskstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}

	if err := os.MkdirAll(cfg.Sandbox.WorkDir, 0o755); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure sandbox dir: %w", err)
	}
	provider := sandbox.NewLocalProvider(cfg.Sandbox.WorkDir)
	manager := sandbox.NewManager(provider, cfg.Sandbox.Template, cfg.Sandbox.Lifetime(), logger)

	roles, err := council.LoadManifest(cfg.Council.ManifestPath)
	if err != nil {
		store.Close()
		return nil, err
	}
	inference := council.NewExecInference(cfg.Council.AgentBinary, logger)
	c := council.New(roles, inference, logger)

	var watcher *council.ManifestWatcher
	if cfg.Council.WatchManifest {
		watcher, err = council.NewManifestWatcher(cfg.Council.ManifestPath, c, logger)
		if err != nil {
			logger.Warn("manifest watcher unavailable", "error", err)
		} else {
			watcher.Start(ctx)
		}
	}

	var bridge *schedbridge.Bridge
	var signaler queue.DrainSignaler
	if cfg.Scheduler.URL != "" {
		bridge = schedbridge.New(cfg.Scheduler.URL, logger)
		signaler = bridge
	}

	q := queue.New(store, signaler, logger)
	failures := queue.NewFailureHandler(store, logger)

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Notifications.SlackWebhook != "" {
		notifier = notify.NewSlackNotifier(cfg.Notifications.SlackWebhook)
	}

	host := pullrequest.NewGitHubHost(cfg.Git.HostAPIURL)
	publisher := pullrequest.NewPublisher(host, store, logger)

	runner := pipeline.NewRunner(pipeline.Config{
		Store:     store,
		Sandboxes: manager,
		Council:   c,
		Queue:     q,
		Failures:  failures,
		Publisher: publisher,
		Notifier:  notifier,
		Logger:    logger,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		bridge:  bridge,
		watcher: watcher,
		runner:  runner,
	}, nil
}

func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.bridge != nil {
		a.bridge.Close()
	}
	a.store.Close()
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	task, err := a.store.GetTask(args[0])
	if err != nil {
		return fmt.Errorf("task %s: %w", args[0], err)
	}
	event, err := a.eventForTask(task)
	if err != nil {
		return err
	}
	if runRepo != "" {
		event.RepoFullName = runRepo
	}
	if runBase != "" {
		event.BaseBranch = runBase
	}
	event.BranchName = runBranch
	if runInstruction != "" {
		event.Instruction = runInstruction
	}

	return a.runner.HandleEvent(cmd.Context(), event)
}

// eventForTask assembles the trigger event a stored task needs: repository
// from its issue, credential from the environment, base branch from config.
func (a *app) eventForTask(task *domain.Task) (domain.TriggerEvent, error) {
	event := domain.TriggerEvent{
		TaskID:      task.ID,
		IssueID:     task.IssueID,
		AccessToken: os.Getenv(tokenEnv),
		BaseBranch:  a.cfg.Git.BaseBranch,
	}
	if instruction, ok := task.Payload["instruction"].(string); ok {
		event.Instruction = instruction
	}
	if repo, ok := task.Payload["repo"].(string); ok {
		event.RepoFullName = repo
	}
	if event.RepoFullName == "" && task.IssueID != "" {
		issue, err := a.store.GetIssue(task.IssueID)
		if err != nil {
			return event, fmt.Errorf("issue %s: %w", task.IssueID, err)
		}
		event.RepoFullName = issue.RepoFullName
	}
	return event, nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	priority, err := parsePriority(enqueuePriority)
	if err != nil {
		return err
	}

	issue := domain.NewIssue(enqueueRepo, enqueueIssueNumber, enqueueTitle, enqueueBody)
	if err := a.store.UpsertIssue(issue); err != nil {
		return fmt.Errorf("track issue: %w", err)
	}

	task, err := a.store.EnqueueTask(domain.TaskTypeCodeChange, issue.ID,
		map[string]any{"instruction": enqueueBody}, priority)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	if a.bridge != nil {
		if err := a.bridge.NotifyEnqueued(cmd.Context(), task.ID); err != nil {
			a.logger.Warn("scheduler enqueue hint failed", "error", err)
		}
	}

	fmt.Printf("Enqueued %s for %s#%d\n", task.ID, enqueueRepo, enqueueIssueNumber)
	return nil
}

func parsePriority(s string) (domain.Priority, error) {
	switch s {
	case "low":
		return domain.PriorityLow, nil
	case "normal":
		return domain.PriorityNormal, nil
	case "elevated":
		return domain.PriorityElevated, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

func runDrain(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	tasks, err := a.store.ListPendingTasks(drainLimit)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No pending tasks")
		return nil
	}

	var failed int
	for _, task := range tasks {
		event, err := a.eventForTask(task)
		if err != nil {
			a.logger.Error("skipping task", "task_id", task.ID, "error", err)
			failed++
			continue
		}
		// The runner finalizes failed tasks itself; keep draining
		if err := a.runner.HandleEvent(cmd.Context(), event); err != nil {
			failed++
		}
	}

	fmt.Printf("Ran %d tasks, %d failed\n", len(tasks), failed)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := taskstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.TaskCounts()
	if err != nil {
		return err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Printf("Tasks: %d total | %d pending | %d running | %d completed | %d failed\n",
		total, counts[domain.TaskPending], counts[domain.TaskRunning],
		counts[domain.TaskCompleted], counts[domain.TaskFailed])
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	var signaler schedbridge.DrainSignaler
	if a.bridge != nil {
		signaler = a.bridge
	}
	sweeper, err := schedbridge.NewSweeper(a.store, signaler, a.cfg.Scheduler.RequeueCron,
		a.cfg.General.MaxRetries, a.logger)
	if err != nil {
		return err
	}

	n, err := sweeper.Sweep(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Requeued %d tasks\n", n)
	return nil
}
