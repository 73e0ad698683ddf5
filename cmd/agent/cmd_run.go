package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"logibid/internal/api"
	"logibid/internal/auction"
	"logibid/internal/auth"
	"logibid/internal/config"
	"logibid/internal/events"
	"logibid/internal/logging"
	"logibid/internal/metrics"
	"logibid/internal/model"
	"logibid/internal/opt"
	"logibid/internal/sim"
	"logibid/internal/store"
	"logibid/internal/webhooks"
)

var (
	runConfig      string
	runScenario    string
	runMetricsAddr string
	runAgentID     int
	runSearchLimit int
	runLinger      bool
)

// webhookDrain bounds how long exit waits for pending webhook deliveries.
const webhookDrain = 5 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulated auction between the agent and a cheapest-insertion competitor",
	Long: `Loads the agent configuration and a scenario, auctions the scenario's tasks
and prints the outcome with the agent's final plan.

Rounds go to Postgres when DATABASE_URL is set, events to Redis when REDIS_URL
is set and to WEBHOOK_URL when set. With --metrics-addr (or METRICS_ADDR) the
ledger API, /metrics and /events/ws are served while the auction runs.`,
	RunE: runAgent,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runConfig, "config", "", "agent configuration YAML (defaults when empty)")
	f.StringVar(&runScenario, "scenario", "", "scenario YAML (required)")
	f.StringVar(&runMetricsAddr, "metrics-addr", "", "HTTP listen address, overrides METRICS_ADDR")
	f.IntVar(&runAgentID, "agent-id", 0, "agent ID in the bid vector (0 or 1)")
	f.IntVar(&runSearchLimit, "search-limit", 0, "cap optimizer iterations per search (0: time bound only)")
	f.BoolVar(&runLinger, "linger", false, "keep serving HTTP after the auction until interrupted")
	_ = runCmd.MarkFlagRequired("scenario")
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, cfgErr := config.Load(runConfig)
	logging.Init(logging.Options{Level: logging.ParseLevel(cfg.Log.Level), Format: cfg.Log.Format})
	log := logging.New("cmd")
	if cfgErr != nil {
		log.Warn("configuration rejected, using defaults", "path", runConfig, "error", cfgErr)
	}
	if runMetricsAddr != "" {
		cfg.MetricsAddr = runMetricsAddr
	}

	sc, err := sim.LoadScenario(runScenario)
	if err != nil {
		return err
	}
	world, err := sc.Build()
	if err != nil {
		return err
	}
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close() }()

	broker := openBroker(ctx, cfg, log)
	if c, ok := broker.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	pubs := []events.Publisher{broker}
	if n := webhooks.NewNotifierFromEnv(); n != nil {
		n.Start(ctx)
		defer func() {
			cctx, done := context.WithTimeout(context.Background(), webhookDrain)
			defer done()
			if err := n.Close(cctx); err != nil {
				log.Warn("webhook queue not drained", "timeout", webhookDrain, "error", err)
			}
		}()
		pubs = append(pubs, n)
	}

	session := uuid.NewString()
	opts := []auction.Option{auction.WithPublisher(events.Tee(pubs...), session)}
	if runSearchLimit > 0 {
		opts = append(opts, auction.WithSearchLimit(runSearchLimit))
	}
	if len(cfg.Adversary.Vehicles) > 0 {
		adv, err := config.Resolve(cfg.Adversary.Vehicles, len(world.Agent), world.Graph.Lookup)
		if err != nil {
			return fmt.Errorf("adversary fleet: %w", err)
		}
		opts = append(opts, auction.WithAdversary(adv))
	}
	agent, err := auction.New(world.Graph, world.Dist, runAgentID, world.Agent, cfg, opts...)
	if err != nil {
		return err
	}
	runner, err := sim.NewRunner(world, agent, ledger, session)
	if err != nil {
		return err
	}
	log.Info("auction starting", "session", session, "tasks", sc.Tasks, "strategy", cfg.Strategy)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		rep, err := runner.Run(gctx)
		if err != nil {
			return err
		}
		printReport(cmd.OutOrStdout(), world, rep)
		if !runLinger {
			cancel()
		}
		return nil
	})
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           api.NewServer(ledger, broker, auth.NewVerifierFromEnv(), agent.Name(), session).Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("http listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(sctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openLedger(ctx context.Context, cfg config.Config) (store.Ledger, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return store.NewMemory(), nil
	}
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("ledger migrate: %w", err)
	}
	return pg, nil
}

// openBroker prefers Redis and falls back to the in-memory broker.
func openBroker(ctx context.Context, cfg config.Config, log *slog.Logger) events.EventBroker {
	if cfg.RedisURL == "" {
		return events.NewBroker()
	}
	rb, err := events.NewRedisBroker(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, using in-memory events", "error", err)
		return events.NewBroker()
	}
	return rb
}

func printReport(out io.Writer, w *sim.World, rep sim.Report) {
	fmt.Fprintf(out, "session %s: %d rounds in %v, %d unassigned\n", rep.Session, rep.Rounds, rep.Elapsed.Round(time.Millisecond), rep.Unassigned)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "side\twon\treward\tcost\tprofit")
	fmt.Fprintf(tw, "agent\t%d\t%d\t%.1f\t%.1f\n", rep.Agent.Won, rep.Agent.Reward, rep.Agent.Cost, rep.Agent.Profit())
	fmt.Fprintf(tw, "competitor\t%d\t%d\t%.1f\t%.1f\n", rep.Competitor.Won, rep.Competitor.Reward, rep.Competitor.Cost, rep.Competitor.Profit())
	_ = tw.Flush()
	for _, p := range rep.Plans {
		name := p.Vehicle.Name
		if name == "" {
			name = fmt.Sprintf("vehicle-%d", p.Vehicle.ID)
		}
		fmt.Fprintf(out, "%s: %s\n", name, describe(w, p.Vehicle.Home, p.Actions))
	}
}

func describe(w *sim.World, home model.CityID, actions []opt.Action) string {
	if len(actions) == 0 {
		return "idle at " + w.Graph.CityName(home)
	}
	parts := []string{w.Graph.CityName(home)}
	for _, a := range actions {
		switch a.Kind {
		case opt.ActMove:
			parts = append(parts, w.Graph.CityName(a.City))
		default:
			parts = append(parts, fmt.Sprintf("%s(%d)", a.Kind, a.Task.ID))
		}
	}
	return strings.Join(parts, " ")
}
