// Command redis-node runs a Redis-compatible node, either as a master or,
// with --replicaof, as a replica of another master.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	redisnode "github.com/raniellyferreira/redis-node"
	"github.com/raniellyferreira/redis-node/config"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	return &cli.App{
		Name:    "redis-node",
		Usage:   "Redis-compatible in-memory node with master/replica replication",
		Version: redisnode.VersionString(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file, reloaded on change",
				EnvVars: []string{"REDISNODE_CONFIG"},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to listen on",
				Value:   6379,
			},
			&cli.StringFlag{
				Name:  "replicaof",
				Usage: `Replicate the master at "<host> <port>"`,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text, json",
				Value: "text",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics at this address (e.g., :9121)",
			},
		},
		Action: run,
	}
}

// flagKeys maps flag names to configuration keys
var flagKeys = map[string]string{
	"port":         "port",
	"replicaof":    "replicaof",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"metrics-addr": "metrics.addr",
}

// setFlags returns the flags given on the command line, so that defaults
// do not override the file or the environment
func setFlags(c *cli.Context) map[string]any {
	flags := make(map[string]any)
	for name, key := range flagKeys {
		if c.IsSet(name) {
			flags[key] = c.Value(name)
		}
	}
	return flags
}

func run(c *cli.Context) error {
	loader := config.NewLoader(
		config.WithConfigFile(c.String("config")),
		config.WithFlags(setFlags(c)),
	)

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := redisnode.NewLogrusLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logger.Info("Starting redis-node",
		redisnode.Field{Key: "version", Value: redisnode.Version},
		redisnode.Field{Key: "addr", Value: cfg.Addr()},
		redisnode.Field{Key: "replicaof", Value: cfg.ReplicaOf},
		redisnode.Field{Key: "config", Value: loader.FilePath()})

	node, err := redisnode.New(append(cfg.Options(), redisnode.WithLogger(logger))...)
	if err != nil {
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	if loader.FilePath() != "" {
		watcher, err := config.NewWatcher(loader, logger)
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer watcher.Stop()

		watcher.OnChange(func(next *config.Config) {
			if next.Log.Level == logger.Level() {
				return
			}
			if err := logger.SetLevel(next.Log.Level); err != nil {
				logger.Error("Failed to change log level", redisnode.Field{Key: "error", Value: err})
				return
			}
			logger.Info("Log level changed", redisnode.Field{Key: "level", Value: next.Log.Level})
		})
		watcher.Start()
	}

	if cfg.ReplicaOf != "" {
		node.OnSyncComplete(func() {
			status := node.SyncStatus()
			logger.Info("Initial sync completed",
				redisnode.Field{Key: "master", Value: status.MasterAddr},
				redisnode.Field{Key: "replid", Value: status.MasterReplID},
				redisnode.Field{Key: "offset", Value: status.ReplicationOffset})
		})
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return node.Close()
}
