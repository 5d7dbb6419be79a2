package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pmirror/pmirror/internal/cmdutil"
	"github.com/urfave/cli/v2"
)

var log = logging.Logger("pmirror/main")

func main() {
	app := &cli.App{
		Name:  "pmirror",
		Usage: "mirror, publish and serve Puppet module repositories",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "",
				Usage:   "Path to the TOML config file. Defaults to pmirror.toml in the data directory.",
				EnvVars: []string{"PMIRROR_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Value:   "",
				Usage:   "Directory holding the registry, content store and published repositories. Defaults to ~/.pmirror.",
				EnvVars: []string{"PMIRROR_DATA_DIR"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "sync",
				Usage:     "Synchronize repositories with their configured feeds.",
				UsageText: "sync [--all] [repo-id...]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Value: false,
						Usage: "Sync every configured repository.",
					},
					&cli.BoolFlag{
						Name:  "publish",
						Value: false,
						Usage: "Publish each repository whose sync succeeds.",
					},
				},
				Action: syncRepos,
			},
			{
				Name:      "publish",
				Usage:     "Publish the dependency store and index of repositories.",
				UsageText: "publish <repo-id...>",
				Action:    publish,
			},
			{
				Name:      "unpublish",
				Usage:     "Remove the published state of repositories.",
				UsageText: "unpublish <repo-id...>",
				Action:    unpublish,
			},
			{
				Name:  "serve",
				Usage: "Serve release queries and published archives over HTTP.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Value: "",
						Usage: "Address to listen on. Overrides the configured address.",
					},
				},
				Action: serve,
			},
			{
				Name:      "apply",
				Usage:     "Install, update or uninstall modules on this machine.",
				UsageText: "apply <install|update|uninstall> <author-name[@version]...>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "forge-url",
						Usage: "Module repository URL passed to the module tool.",
					},
					&cli.StringFlag{
						Name:  "forge-host",
						Usage: "Host of a pmirror server; the consumer and repo ids are sent as credentials.",
					},
					&cli.StringFlag{
						Name:  "consumer",
						Usage: "Consumer id to resolve releases for.",
					},
					&cli.StringFlag{
						Name:  "repo",
						Usage: "Repository id to resolve releases from.",
					},
					&cli.BoolFlag{
						Name:  "ignore-deps",
						Usage: "Do not install or update dependencies.",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Force the operation.",
					},
					&cli.StringFlag{
						Name:  "modulepath",
						Usage: "Directory modules are installed into.",
					},
					&cli.StringFlag{
						Name:  "puppet",
						Value: "puppet",
						Usage: "The puppet executable.",
					},
				},
				Action: applyUnits,
			},
			{
				Name:  "repos",
				Usage: "Manage repositories and consumer bindings.",
				Subcommands: []*cli.Command{
					{
						Name:    "ls",
						Aliases: []string{"list"},
						Usage:   "List repositories and their latest sync.",
						Action:  listRepos,
					},
					{
						Name:      "bind",
						Usage:     "Bind a consumer to a repository.",
						UsageText: "bind <consumer-id> <repo-id>",
						Action:    bindConsumer,
					},
					{
						Name:      "unbind",
						Usage:     "Remove a consumer binding.",
						UsageText: "unbind <consumer-id> <repo-id>",
						Action:    unbindConsumer,
					},
				},
			},
			{
				Name:      "modules",
				Usage:     "List the modules of a repository.",
				UsageText: "modules <repo-id>",
				Action:    listModules,
			},
		},
	}

	// set up a context that is canceled when a command is interrupted
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// set up a signal handler to cancel the context
	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			log.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		// Allow any further SIGTERM or SIGINT to kill process
		signal.Stop(interrupt)
	}()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// openEnv opens the registry and services from the global flags.
func openEnv(cCtx *cli.Context) (*cmdutil.Env, error) {
	dataDir := cCtx.String("data-dir")
	if dataDir == "" {
		var err error
		if dataDir, err = cmdutil.DataDir(); err != nil {
			return nil, err
		}
	}
	configPath := cCtx.String("config")
	if configPath == "" {
		configPath = filepath.Join(dataDir, "pmirror.toml")
	}
	return cmdutil.Open(cCtx.Context, configPath, dataDir)
}
