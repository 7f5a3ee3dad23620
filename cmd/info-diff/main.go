// Command info-diff compares INFO replication and keyspace between a master
// and one of its replicas.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	redisnode "github.com/raniellyferreira/redis-node"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	return &cli.App{
		Name:      "info-diff",
		Usage:     "Compare INFO replication and keyspace between a master and a replica",
		UsageText: "info-diff --master=localhost:6379 --replica=localhost:6380 [--dbs=0]",
		Version:   redisnode.VersionString(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "master",
				Aliases:  []string{"ref"},
				Usage:    "Master endpoint (host:port)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "replica",
				Aliases:  []string{"sut"},
				Usage:    "Replica endpoint (host:port)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "dbs",
				Usage: "Comma-separated list of database numbers to compare (e.g., 0,1)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout for each INFO request",
				Value: 5 * time.Second,
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	masterAddr := c.String("master")
	replicaAddr := c.String("replica")

	// Parse database filter if provided
	var dbFilter map[int]bool
	if dbs := c.String("dbs"); dbs != "" {
		dbFilter = make(map[int]bool)
		for _, dbStr := range strings.Split(dbs, ",") {
			db, err := strconv.Atoi(strings.TrimSpace(dbStr))
			if err != nil {
				return fmt.Errorf("invalid database number %q", dbStr)
			}
			dbFilter[db] = true
		}
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Comparing replication and keyspace information:\n")
	fmt.Fprintf(out, "  Master:  %s\n", masterAddr)
	fmt.Fprintf(out, "  Replica: %s\n", replicaAddr)
	if dbFilter != nil {
		fmt.Fprintf(out, "  Databases: %s\n", c.String("dbs"))
	}
	fmt.Fprintln(out)

	master, err := fetchInfo(c.Context, masterAddr, c.Duration("timeout"))
	if err != nil {
		return fmt.Errorf("failed to get info from master %s: %w", masterAddr, err)
	}
	replica, err := fetchInfo(c.Context, replicaAddr, c.Duration("timeout"))
	if err != nil {
		return fmt.Errorf("failed to get info from replica %s: %w", replicaAddr, err)
	}

	if n := compareNodes(out, master, replica, dbFilter); n > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

// fetchInfo reads INFO replication and INFO keyspace from addr
func fetchInfo(ctx context.Context, addr string, timeout time.Duration) (NodeInfo, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Protocol:        2,
		DisableIdentity: true,
		DialTimeout:     timeout,
		ReadTimeout:     timeout,
		WriteTimeout:    timeout,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	info, err := client.Info(ctx, "replication", "keyspace").Result()
	if err != nil {
		return NodeInfo{}, err
	}
	return parseInfo(info), nil
}
