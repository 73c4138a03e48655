package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/behemoth/pkg/agent"
	"github.com/cuemby/behemoth/pkg/api"
	"github.com/cuemby/behemoth/pkg/client"
	"github.com/cuemby/behemoth/pkg/cmdstore"
	"github.com/cuemby/behemoth/pkg/config"
	"github.com/cuemby/behemoth/pkg/dispatch"
	"github.com/cuemby/behemoth/pkg/log"
	"github.com/cuemby/behemoth/pkg/metrics"
	"github.com/cuemby/behemoth/pkg/playback"
	"github.com/cuemby/behemoth/pkg/reconciler"
	"github.com/cuemby/behemoth/pkg/registry"
	"github.com/cuemby/behemoth/pkg/security"
	"github.com/cuemby/behemoth/pkg/statusstream"
	"github.com/cuemby/behemoth/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "behemoth",
	Short: "Behemoth - Database command deployment orchestrator",
	Long: `Behemoth deploys command and file batches to database hosts
through a disposable remote agent, with per-command callbacks, pause
steps for operator confirmation, and playback promotion across
environments.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Behemoth version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(executionCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(dashboardCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the Behemoth control plane",
	Long: `Run the control plane: the HTTP API, the batch dispatcher, the
orphan reconciler, and the metrics collector. Configuration is read from
config.yaml and BEHEMOTH_* environment variables.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSONOutput,
	})
	logger := log.WithComponent("main")

	store, err := storage.NewBoltStore(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open storage: %v", err)
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, "")

	cmds, err := openCommandStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open command store: %v", err)
	}
	defer cmds.Close()
	metrics.RegisterComponent("cmdstore", true, "")
	metrics.RegisterComponent("api", false, "not started")

	broker := statusstream.NewBroker()
	broker.Start()

	stream, err := statusstream.New(cfg.Storage.DataDir, broker)
	if err != nil {
		return fmt.Errorf("failed to open task log stream: %v", err)
	}

	dialer := &agent.SSHDialer{Timeout: cfg.Agent.SSHTimeout}

	reg := registry.New(store, dialer)
	if err := reg.Fill(); err != nil {
		return fmt.Errorf("failed to fill worker registry: %v", err)
	}

	tokens := security.NewTokenManager(cfg.Agent.TokenTTL)
	driver := agent.NewDriver(agent.Config{
		SiteURL:       cfg.Server.SiteURL,
		BinaryDir:     cfg.Agent.BinaryDir,
		DataDir:       cfg.Storage.DataDir,
		EncryptBundle: cfg.Agent.EncryptBundle,
	}, dialer, cmds)

	cache := dispatch.NewStatusCache()
	dispatcher := dispatch.NewDispatcher(store, cmds, reg, driver, tokens, stream, cache)
	recorder := playback.NewRecorder(store, cmds)

	recon := reconciler.NewReconciler(store, dispatcher.Machine(), cfg.Agent.OrphanHorizon)
	recon.Start()

	collector := metrics.NewCollector(store)
	collector.Start()

	server := api.NewServer(api.Config{
		DataDir:                  cfg.Storage.DataDir,
		SyncRequiredParticipants: cfg.Sync.RequiredParticipants,
		SyncWaitIdle:             cfg.Sync.WaitParticipantIdle,
	}, store, cmds, dispatcher, dispatcher.Machine(), cache, recorder, stream, broker, tokens, reg)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.ListenAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()
	logger.Info().Str("addr", cfg.Server.ListenAddr).Msg("Control plane is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("API server failed")
	}

	collector.Stop()
	recon.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API shutdown failed")
	}

	stream.Close()
	broker.Stop()
	logger.Info().Msg("Shutdown complete")
	return nil
}

// openCommandStore selects the command store backend from configuration.
func openCommandStore(cfg *config.Config) (cmdstore.Store, error) {
	switch cfg.Storage.CommandBackend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return cmdstore.NewRedisStore(ctx, cfg.Storage.Redis.Addr(),
			cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
	case "", "bolt":
		return cmdstore.NewBoltStore(cfg.Storage.DataDir)
	default:
		return nil, fmt.Errorf("unknown command backend %q", cfg.Storage.CommandBackend)
	}
}

// Plan commands
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage deployment plans",
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List plans",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(cmd)
		plans, err := c.ListPlans(cmd.Context())
		if err != nil {
			return err
		}
		for _, p := range plans {
			fmt.Printf("%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Category, p.Strategy)
		}
		return nil
	},
}

var planStartCmd = &cobra.Command{
	Use:   "start PLAN_ID",
	Short: "Start a plan's pending executions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		c := newAPIClient(cmd)
		out, err := c.StartPlan(cmd.Context(), args[0], user)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Task started: %s (%s)\n", out.TaskID, out.TaskStatus)
		return nil
	},
}

var planApproveCmd = &cobra.Command{
	Use:   "approve PLAN_ID",
	Short: "Approve a sync plan as one of its required participants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		c := newAPIClient(cmd)
		out, err := c.StartSyncTask(cmd.Context(), args[0], user)
		if err != nil {
			return err
		}
		if out.TaskID != "" {
			fmt.Printf("✓ Quorum reached, task started: %s\n", out.TaskID)
			return nil
		}
		fmt.Printf("Waiting for approvers: %d of %d (%v)\n",
			len(out.Users), out.Participants, out.Users)
		return nil
	},
}

var planUploadCmd = &cobra.Command{
	Use:   "upload PLAN_ID FILE",
	Short: "Upload a command file under a plan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(cmd)
		out, err := c.UploadCommandFile(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Uploaded: execution %s, stored at %s\n", out.ExecutionID, out.Path)
		return nil
	},
}

var planDeleteCmd = &cobra.Command{
	Use:   "delete PLAN_ID",
	Short: "Delete a plan and its executions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(cmd)
		if err := c.DeletePlan(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Plan deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	planCmd.AddCommand(planListCmd)
	planCmd.AddCommand(planStartCmd)
	planCmd.AddCommand(planApproveCmd)
	planCmd.AddCommand(planUploadCmd)
	planCmd.AddCommand(planDeleteCmd)

	planStartCmd.Flags().String("user", "", "Acting user")
	planApproveCmd.Flags().String("user", "", "Approving user")
	_ = planApproveCmd.MarkFlagRequired("user")
}

// Execution commands
var executionCmd = &cobra.Command{
	Use:   "execution",
	Short: "Inspect and operate executions",
}

var executionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		planID, _ := cmd.Flags().GetString("plan")
		c := newAPIClient(cmd)
		executions, err := c.ListExecutions(cmd.Context(), planID)
		if err != nil {
			return err
		}
		for _, e := range executions {
			fmt.Printf("%s\t%s\t%s\t%s\n", e.ID, e.Name, e.Category, e.Status)
		}
		return nil
	},
}

var executionOperateCmd = &cobra.Command{
	Use:   "operate EXECUTION_ID [start|pause|success]",
	Short: "Apply an operator action to an execution",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		c := newAPIClient(cmd)
		if err := c.OperateTask(cmd.Context(), args[0], args[1], user); err != nil {
			return err
		}
		fmt.Printf("✓ Applied %s to %s\n", args[1], args[0])
		return nil
	},
}

func init() {
	executionCmd.AddCommand(executionListCmd)
	executionCmd.AddCommand(executionOperateCmd)

	executionListCmd.Flags().String("plan", "", "Filter by plan ID")
	executionOperateCmd.Flags().String("user", "", "Acting user")
}

// Worker commands
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage worker hosts",
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(cmd)
		workers, err := c.ListWorkers(cmd.Context())
		if err != nil {
			return err
		}
		for _, w := range workers {
			fmt.Printf("%s\t%s\t%s:%d\n", w.ID, w.Name, w.Address, w.Port)
		}
		return nil
	},
}

func init() {
	workerCmd.AddCommand(workerListCmd)
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show execution totals and recent activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newAPIClient(cmd)
		dash, err := c.GetDashboard(cmd.Context())
		if err != nil {
			return err
		}
		for _, status := range []string{"not-start", "executing", "pause", "success", "failed"} {
			fmt.Printf("%-12s %d\n", status, dash.Totals[status])
		}
		if len(dash.Recent) > 0 {
			fmt.Println()
			for _, e := range dash.Recent {
				fmt.Printf("%s\t%s\t%s\n", e.ID, e.Name, e.Status)
			}
		}
		return nil
	},
}

func newAPIClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("server")
	return client.NewClient(addr)
}

func init() {
	rootCmd.PersistentFlags().String("server", "localhost:8080", "Control plane address")
}
