package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/devup/internal/app/validate"
	storageio "github.com/slok/devup/internal/storage/io"
)

type ValidateCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	manifestFile string
	format       string
}

// NewValidateCommand returns the validate command.
func NewValidateCommand(rootCmd *RootCommand, app *kingpin.Application) *ValidateCommand {
	c := &ValidateCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("validate", "Validate a manifest and show its execution plan.")
	manifestFlag(c.Cmd, &c.manifestFile)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c ValidateCommand) Name() string { return c.Cmd.FullCommand() }

func (c ValidateCommand) Run(ctx context.Context) error {
	manifests, manifestPath, err := storageio.NewFileManifestRepository(c.manifestFile)
	if err != nil {
		return err
	}

	svc, err := validate.NewService(validate.ServiceConfig{
		ManifestRepository: manifests,
		Logger:             c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, validate.Request{ManifestPath: manifestPath})
	if err != nil {
		return fmt.Errorf("invalid manifest %s: %w", c.manifestFile, err)
	}

	if err := newPrinter(c.format, c.rootCmd.Stdout).PrintPlan(resp.Plan, resp.Manifest.Services); err != nil {
		return fmt.Errorf("could not print plan: %w", err)
	}

	return nil
}
