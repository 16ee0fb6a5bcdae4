package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/devup/internal/app/ports"
	"github.com/slok/devup/internal/model"
	"github.com/slok/devup/internal/printer"
	storageio "github.com/slok/devup/internal/storage/io"
)

type PortsCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	manifestFile string
	policy       string
	format       string
}

// NewPortsCommand returns the ports command.
func NewPortsCommand(rootCmd *RootCommand, app *kingpin.Application) *PortsCommand {
	c := &PortsCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("ports", "Show the ports declared by the manifest.")
	manifestFlag(c.Cmd, &c.manifestFile)
	c.Cmd.Flag("policy", "Filter by policy (ignore, notify, open-browser).").StringVar(&c.policy)
	c.Cmd.Flag("format", "Output format (table, json, devcontainer).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON, formatDevcontainer)

	return c
}

func (c PortsCommand) Name() string { return c.Cmd.FullCommand() }

func (c PortsCommand) Run(ctx context.Context) error {
	var policyFilter *model.PortPolicy
	if c.policy != "" {
		p, err := model.ParsePortPolicy(c.policy)
		if err != nil {
			return fmt.Errorf("invalid policy filter: %w", err)
		}
		policyFilter = &p
	}

	manifests, manifestPath, err := storageio.NewFileManifestRepository(c.manifestFile)
	if err != nil {
		return err
	}

	svc, err := ports.NewService(ports.ServiceConfig{
		ManifestRepository: manifests,
		Logger:             c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	table, err := svc.Run(ctx, ports.Request{
		ManifestPath: manifestPath,
		PolicyFilter: policyFilter,
	})
	if err != nil {
		return fmt.Errorf("could not get ports: %w", err)
	}

	var p printer.PortsPrinter
	switch c.format {
	case formatDevcontainer:
		p = printer.NewDevcontainerPrinter(c.rootCmd.Stdout)
	default:
		p = newPrinter(c.format, c.rootCmd.Stdout)
	}

	if err := p.PrintPorts(table); err != nil {
		return fmt.Errorf("could not print ports: %w", err)
	}

	return nil
}
