package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/devup/internal/app/up"
	"github.com/slok/devup/internal/engine"
	"github.com/slok/devup/internal/launcher"
	"github.com/slok/devup/internal/launcher/docker"
	"github.com/slok/devup/internal/launcher/fake"
	"github.com/slok/devup/internal/launcher/shell"
	"github.com/slok/devup/internal/printer"
	"github.com/slok/devup/internal/storage"
	storageio "github.com/slok/devup/internal/storage/io"
	"github.com/slok/devup/internal/storage/memory"
	"github.com/slok/devup/internal/storage/sqlite"
	utilsenv "github.com/slok/devup/internal/utils/env"
)

type UpCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	manifestFile string
	envSpecs     []string
	follow       []string
	initTimeout  time.Duration
	stopTimeout  time.Duration
	readyTimeout time.Duration
	maxRestarts  int
	shell        string
	isolateEnv   bool
	skipPull     bool
	dryRun       bool
	ephemeral    bool
	format       string
}

// NewUpCommand returns the up command.
func NewUpCommand(rootCmd *RootCommand, app *kingpin.Application) *UpCommand {
	c := &UpCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("up", "Bring up the environment: run the init tasks and keep the services running until interrupted.")
	manifestFlag(c.Cmd, &c.manifestFile)
	c.Cmd.Flag("env", "Environment variables (KEY=VALUE or KEY from current environment), override the manifest ones. Can be repeated.").Short('e').StringsVar(&c.envSpecs)
	c.Cmd.Flag("follow", "Only show the output of these tasks. Can be repeated.").StringsVar(&c.follow)
	c.Cmd.Flag("init-timeout", "Default init task timeout (0 is unlimited).").Default("0s").DurationVar(&c.initTimeout)
	c.Cmd.Flag("stop-timeout", "Grace period the tasks have to stop before being killed.").Default("10s").DurationVar(&c.stopTimeout)
	c.Cmd.Flag("ready-timeout", "Time a service with a ready port has to accept connections.").Default("1m").DurationVar(&c.readyTimeout)
	c.Cmd.Flag("max-restarts", "Times a crashed service is restarted (0 never restarts).").Default("0").IntVar(&c.maxRestarts)
	c.Cmd.Flag("shell", "Shell used to run the task commands.").Default("/bin/sh").StringVar(&c.shell)
	c.Cmd.Flag("isolate-env", "Don't pass the current environment to the tasks.").BoolVar(&c.isolateEnv)
	c.Cmd.Flag("skip-pull", "Don't pull the container images.").BoolVar(&c.skipPull)
	c.Cmd.Flag("dry-run", "Simulate the tasks without running anything.").BoolVar(&c.dryRun)
	c.Cmd.Flag("ephemeral", "Don't store the session in the history.").BoolVar(&c.ephemeral)
	c.Cmd.Flag("format", "Port table output format (table, json, devcontainer).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON, formatDevcontainer)

	return c
}

func (c UpCommand) Name() string { return c.Cmd.FullCommand() }

func (c UpCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	if c.maxRestarts < 0 {
		return fmt.Errorf("--max-restarts can't be negative")
	}

	env, err := utilsenv.ParseSpecs(c.envSpecs)
	if err != nil {
		return fmt.Errorf("invalid env: %w", err)
	}

	manifests, manifestPath, err := storageio.NewFileManifestRepository(c.manifestFile)
	if err != nil {
		return err
	}

	// Initialize storage.
	var repo storage.Repository
	if c.ephemeral {
		repo, err = memory.NewRepository(memory.RepositoryConfig{Logger: logger})
	} else {
		repo, err = sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath: c.rootCmd.DBPath,
			Logger: logger,
		})
	}
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}

	// Initialize launchers.
	shellLauncher, containerLauncher, err := c.newLaunchers()
	if err != nil {
		return err
	}

	var restartPolicy engine.RestartPolicy = engine.NeverRestart{}
	if c.maxRestarts > 0 {
		restartPolicy = engine.MaxRestarts(c.maxRestarts)
	}

	// Simulated services never listen.
	var probe engine.ReadinessProbe = engine.TCPProbe{Timeout: c.readyTimeout}
	if c.dryRun {
		probe = engine.NoopReadinessProbe
	}

	var portsPrinter printer.PortsPrinter
	switch c.format {
	case formatDevcontainer:
		portsPrinter = printer.NewDevcontainerPrinter(c.rootCmd.Stdout)
	default:
		portsPrinter = newPrinter(c.format, c.rootCmd.Stdout)
	}

	svc, err := up.NewService(up.ServiceConfig{
		ManifestRepository: manifests,
		Repository:         repo,
		Launcher:           shellLauncher,
		ContainerLauncher:  containerLauncher,
		Printer:            portsPrinter,
		Out:                c.rootCmd.Stdout,
		ReadinessProbe:     probe,
		RestartPolicy:      restartPolicy,
		InitTimeout:        c.initTimeout,
		StopTimeout:        c.stopTimeout,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	_, err = svc.Run(ctx, up.Request{
		ManifestPath: manifestPath,
		Env:          env,
		Follow:       c.follow,
		Ready: func(sessionID string) {
			logger.Infof("Environment ready (session %s), press Ctrl+C to stop it", sessionID)
		},
	})
	if err != nil {
		return err
	}

	return nil
}

func (c UpCommand) newLaunchers() (shellLauncher, containerLauncher launcher.Launcher, err error) {
	logger := c.rootCmd.Logger

	if c.dryRun {
		l, err := fake.NewLauncher(fake.LauncherConfig{
			Default:        fake.Behavior{EchoCommand: true},
			ServiceDefault: &fake.Behavior{EchoCommand: true, LongRunning: true},
			Logger:         logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("could not create fake launcher: %w", err)
		}
		return l, l, nil
	}

	sl, err := shell.NewLauncher(shell.LauncherConfig{
		Shell:       c.shell,
		GracePeriod: c.stopTimeout,
		IsolateEnv:  c.isolateEnv,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not create shell launcher: %w", err)
	}

	dl, err := docker.NewLauncher(docker.LauncherConfig{
		StopTimeout: c.stopTimeout,
		SkipPull:    c.skipPull,
		Logger:      logger,
	})
	if err != nil {
		// Only needed by container tasks, the session check reports it if required.
		logger.Warningf("Container runtime not available: %s", err)
		return sl, nil, nil
	}

	return sl, dl, nil
}
