package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/devup/internal/app/history"
	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/storage/sqlite"
)

type HistoryCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	stateFilter string
	limit       int
	format      string
}

// NewHistoryCommand returns the history command.
func NewHistoryCommand(rootCmd *RootCommand, app *kingpin.Application) *HistoryCommand {
	c := &HistoryCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("history", "List the past sessions.")
	c.Cmd.Flag("state", "Filter by state (init, service, ready, aborted, closed).").StringVar(&c.stateFilter)
	c.Cmd.Flag("limit", "Max number of sessions (0 is unlimited).").Short('n').Default("20").IntVar(&c.limit)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c HistoryCommand) Name() string { return c.Cmd.FullCommand() }

func (c HistoryCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	var stateFilter *model.SessionState
	if c.stateFilter != "" {
		state := model.SessionState(strings.ToLower(c.stateFilter))
		switch state {
		case model.SessionStateIdle, model.SessionStateInit, model.SessionStateService,
			model.SessionStateReady, model.SessionStateAborted, model.SessionStateClosed:
			stateFilter = &state
		default:
			return fmt.Errorf("invalid state filter: %s (must be: idle, init, service, ready, aborted, closed)", c.stateFilter)
		}
	}

	// Initialize storage (SQLite).
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}

	svc, err := history.NewService(history.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	sessions, err := svc.Run(ctx, history.Request{
		StateFilter: stateFilter,
		Limit:       c.limit,
	})
	if err != nil {
		return fmt.Errorf("could not list sessions: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintSessions(sessions); err != nil {
		return fmt.Errorf("could not print sessions: %w", err)
	}

	return nil
}
