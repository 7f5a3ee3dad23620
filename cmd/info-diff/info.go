package main

import (
	"regexp"
	"strconv"
	"strings"
)

// DatabaseStats represents the statistics for a single database
type DatabaseStats struct {
	Keys    int64
	Expires int64
	AvgTTL  int64 // in milliseconds, 0 if not present
}

// KeyspaceInfo represents the complete keyspace information
type KeyspaceInfo map[int]DatabaseStats

// ReplicationInfo is the replication section of INFO
type ReplicationInfo struct {
	Role            string
	ReplID          string
	Offset          int64
	ConnectedSlaves int64
}

// NodeInfo holds what is compared for one endpoint
type NodeInfo struct {
	Replication ReplicationInfo
	Keyspace    KeyspaceInfo
}

// Lines like: db0:keys=2,expires=0,avg_ttl=0
var dbRegex = regexp.MustCompile(`^db(\d+):keys=(\d+),expires=(\d+)(?:,avg_ttl=(\d+))?`)

// parseInfo extracts replication and keyspace fields from an INFO reply.
// Unknown fields and section headers are ignored.
func parseInfo(info string) NodeInfo {
	node := NodeInfo{Keyspace: make(KeyspaceInfo)}

	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if matches := dbRegex.FindStringSubmatch(line); matches != nil {
			dbNum, _ := strconv.Atoi(matches[1])
			keys, _ := strconv.ParseInt(matches[2], 10, 64)
			expires, _ := strconv.ParseInt(matches[3], 10, 64)

			var avgTTL int64
			if matches[4] != "" {
				avgTTL, _ = strconv.ParseInt(matches[4], 10, 64)
			}

			node.Keyspace[dbNum] = DatabaseStats{
				Keys:    keys,
				Expires: expires,
				AvgTTL:  avgTTL,
			}
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "role":
			node.Replication.Role = value
		case "master_replid":
			node.Replication.ReplID = value
		case "master_repl_offset":
			node.Replication.Offset, _ = strconv.ParseInt(value, 10, 64)
		case "connected_slaves":
			node.Replication.ConnectedSlaves, _ = strconv.ParseInt(value, 10, 64)
		}
	}

	return node
}
