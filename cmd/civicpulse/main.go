// Command civicpulse is a terminal client for the Civic Pulse API. Reports
// that cannot be delivered are kept in a local queue and sent once the API
// is reachable again.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/civicpulse/civicpulse-server/internal/client"
	"github.com/civicpulse/civicpulse-server/internal/config"
	"github.com/civicpulse/civicpulse-server/internal/models"
	"github.com/civicpulse/civicpulse-server/internal/offline"
	"github.com/civicpulse/civicpulse-server/internal/state"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds what every subcommand needs once the root command has run.
type app struct {
	cfg     *config.ClientConfig
	store   state.Store
	api     *client.Client
	queue   *offline.Queue
	session *models.StoredSession
	logger  *zap.SugaredLogger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "civicpulse",
		Short:        "Report and track civic issues from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			return a.open(cmd.Context(), cfg)
		},
	}

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newReportCmd(a),
		newPendingCmd(a),
		newSyncCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newStatusCmd(a),
		newStatsCmd(a),
		newWatchCmd(a),
	)
	return root
}

func (a *app) open(ctx context.Context, cfg *config.ClientConfig) error {
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	logger, err := logCfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.logger = logger.Sugar()
	a.cfg = cfg

	if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	st, err := state.NewSQLiteStore(ctx, cfg.StatePath)
	if err != nil {
		return err
	}
	a.store = st

	a.api = client.New(cfg.APIURL)

	var sess models.StoredSession
	switch err := st.Load(ctx, state.KeySession, &sess); {
	case err == nil:
		a.session = &sess
		a.api.SetToken(sess.Token)
	case !errors.Is(err, state.ErrNotFound):
		return fmt.Errorf("load session: %w", err)
	}

	a.queue, err = offline.NewQueue(ctx, st, a.submit, a.logger)
	return err
}

func (a *app) close() error {
	if a.logger != nil {
		a.logger.Sync()
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// submit is the queue's delivery function.
func (a *app) submit(ctx context.Context, p models.PendingReport) error {
	_, _, err := a.api.SubmitReport(ctx, p)
	return err
}

// submitOrQueue tries the API first and queues the report when the API
// cannot be reached. Exactly one of the returned report and queued entry is set.
// The direct attempt and any later replay share one idempotency key, so a
// report the server stored before the connection failed is not created twice.
func (a *app) submitOrQueue(ctx context.Context, p models.PendingReport) (*models.ReportView, *models.PendingReport, error) {
	if p.IdempotencyKey == "" {
		p.IdempotencyKey = uuid.NewString()
	}
	report, _, err := a.api.SubmitReport(ctx, p)
	if err == nil {
		return report, nil, nil
	}
	if !errors.Is(err, client.ErrUnavailable) {
		return nil, nil, err
	}

	a.logger.Warnw("API unreachable, queueing report", "error", err)
	queued, qerr := a.queue.Enqueue(ctx, p)
	if qerr != nil {
		return nil, nil, qerr
	}
	return nil, &queued, nil
}
