package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/helpdesk/internal/chat"
	"github.com/ent0n29/helpdesk/internal/config"
	"github.com/ent0n29/helpdesk/internal/httpapi"
	"github.com/ent0n29/helpdesk/internal/i18n"
	"github.com/ent0n29/helpdesk/internal/observability"
	"github.com/ent0n29/helpdesk/internal/preference"
	"github.com/ent0n29/helpdesk/internal/presence"
	"github.com/ent0n29/helpdesk/internal/queue"
	"github.com/ent0n29/helpdesk/internal/responder"
	"github.com/ent0n29/helpdesk/internal/scheduler"
	"github.com/ent0n29/helpdesk/internal/session"
	"github.com/ent0n29/helpdesk/internal/ticket"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *chat.Orchestrator
	Scheduler    *scheduler.Scheduler
	Metrics      *observability.Metrics
	Responder    string

	// Cleanup should be called on shutdown to drain the orchestrator and
	// release the stores.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	catalog, err := i18n.NewEmbedded(cfg.DefaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("i18n catalog init failed: %w", err)
	}

	bot, err := responder.New(responder.Config{
		Mode:       cfg.AIResponderMode,
		URL:        cfg.AIResponderURL,
		Timeout:    cfg.AIResponderTimeout,
		MaxRetries: cfg.AIResponderMaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("ai responder init failed: %w", err)
	}

	var closers []func() error
	fail := func(err error) (*BuildResult, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	sessions, err := session.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("session store init failed: %w", err))
	}
	closers = append(closers, sessions.Close)

	tickets, err := ticket.NewRegistry(ctx, cfg.TicketStore, cfg.DatabaseURL, cfg.TicketSQLitePath)
	if err != nil {
		return fail(fmt.Errorf("ticket registry init failed: %w", err))
	}
	closers = append(closers, tickets.Close)

	prefs, err := preference.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fail(fmt.Errorf("preference store init failed: %w", err))
	}
	closers = append(closers, prefs.Close)

	orchestrator := chat.New(chat.Deps{
		Sessions:    sessions,
		Tickets:     tickets,
		Queue:       queue.New(),
		Presence:    presence.NewRegistry(metrics),
		Responder:   bot,
		Catalog:     catalog,
		Preferences: prefs,
		Metrics:     metrics,
		Logger:      logger,
	}, chat.Options{
		ResponderTimeout:  cfg.AIResponderTimeout,
		InactivityTimeout: cfg.SessionInactivityTimeout,
		FeedbackWindow:    cfg.FeedbackWindow,
	})

	if err := orchestrator.Restore(ctx); err != nil {
		orchestrator.Close()
		return fail(fmt.Errorf("queue restore failed: %w", err))
	}

	sched := scheduler.New(logger)
	if err := sched.Add("queue_refresh", cfg.QueueRefreshSchedule, orchestrator.RefreshQueuePositions); err != nil {
		orchestrator.Close()
		return fail(err)
	}

	api := httpapi.New(cfg, orchestrator, tickets, prefs, metrics, logger)

	cleanup := func() error {
		orchestrator.Close()
		var errs []string
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Scheduler:    sched,
		Metrics:      metrics,
		Responder:    responder.Name(bot),
		Cleanup:      cleanup,
	}, nil
}
