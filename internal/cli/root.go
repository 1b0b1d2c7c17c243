// Package cli assembles the payroll-bridge command tree. Each command
// wires only the components it needs: file-based commands never touch
// the database, queue commands never load the AI agent.
package cli

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"payroll-bridge/internal/config"
	"payroll-bridge/internal/errorqueue"
	"payroll-bridge/internal/mapping"
	"payroll-bridge/internal/registry"
	"payroll-bridge/internal/retry"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "payroll-bridge",
		Short:         "Payroll-to-recordkeeper record transformation and retry service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		RunMappingCommand(),
		ValidateRuleSetCommand(),
		ValidateRecordsCommand(),
		ListTransformationsCommand(),
		SweepCommand(),
		StatsCommand(),
		SuggestCommand(),
		ServeCommand(),
	)
	return root
}

// deps is the shared wiring for database-backed commands.
type deps struct {
	cfg      *config.Config
	db       *sqlx.DB
	registry *registry.Registry
	engine   *mapping.Engine
	queue    *errorqueue.Queue
	ruleSets retry.RuleSetSource
}

func (d *deps) Close() {
	if d.db != nil {
		d.db.Close()
	}
}

// openDeps connects the configured backend. Memory mode serves tests and
// local experiments; the rule-set repository is only available against
// Postgres.
func openDeps(cfg *config.Config) (*deps, error) {
	reg := registry.NewWithBuiltins()
	d := &deps{
		cfg:      cfg,
		registry: reg,
		engine:   mapping.NewEngine(reg),
	}

	backoff := errorqueue.BackoffConfig{
		BaseDelay:    cfg.Retry.BaseDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		JitterFactor: cfg.Retry.JitterFactor,
	}

	if cfg.Store.IsMemory() {
		d.queue = errorqueue.NewQueue(errorqueue.NewMemoryStore(), errorqueue.WithBackoff(backoff))
		return d, nil
	}

	db, err := sqlx.Connect("postgres", cfg.Store.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d.db = db
	d.queue = errorqueue.NewQueue(errorqueue.NewPostgresStore(db), errorqueue.WithBackoff(backoff))
	d.ruleSets = mapping.NewRepository(db)
	return d, nil
}

// newProcessor wires the retry processor with the handlers the backend
// supports.
func (d *deps) newProcessor() *retry.Processor {
	p := retry.NewProcessor(d.queue)
	if d.ruleSets != nil {
		p.Register(errorqueue.ErrorTypeMapping, retry.NewMappingHandler(d.engine, d.ruleSets))
	}
	return p
}
