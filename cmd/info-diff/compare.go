package main

import (
	"fmt"
	"io"
	"sort"
)

// compareNodes prints the comparison of a master and its replica and
// returns the number of critical differences. Replication lag and avg_ttl
// differences are reported but not counted.
func compareNodes(w io.Writer, master, replica NodeInfo, dbFilter map[int]bool) int {
	differences := compareReplication(w, master.Replication, replica.Replication)
	differences += compareKeyspace(w, master.Keyspace, replica.Keyspace, dbFilter)

	fmt.Fprintln(w)
	if differences == 0 {
		fmt.Fprintln(w, "🎉 SUCCESS: No critical differences found!")
	} else {
		fmt.Fprintf(w, "❌ FAILURE: %d critical differences found\n", differences)
	}
	return differences
}

func compareReplication(w io.Writer, master, replica ReplicationInfo) int {
	fmt.Fprintln(w, "Replication Comparison Results:")
	fmt.Fprintln(w, "===============================")

	differences := 0

	if master.Role != "master" {
		fmt.Fprintf(w, "  ❌ MASTER reports role:%s\n", master.Role)
		differences++
	}
	if replica.Role != "slave" {
		fmt.Fprintf(w, "  ❌ REPLICA reports role:%s\n", replica.Role)
		differences++
	}

	if master.ReplID != replica.ReplID {
		fmt.Fprintf(w, "  ❌ master_replid differs: MASTER=%s, REPLICA=%s\n", master.ReplID, replica.ReplID)
		differences++
	} else {
		fmt.Fprintf(w, "  ✅ master_replid: %s\n", master.ReplID)
	}

	switch lag := master.Offset - replica.Offset; {
	case lag == 0:
		fmt.Fprintf(w, "  ✅ master_repl_offset: %d\n", master.Offset)
	case lag > 0:
		fmt.Fprintf(w, "  ⚠️  REPLICA is %d bytes behind: MASTER=%d, REPLICA=%d (may be acceptable)\n",
			lag, master.Offset, replica.Offset)
	default:
		fmt.Fprintf(w, "  ❌ REPLICA is ahead of MASTER: MASTER=%d, REPLICA=%d\n", master.Offset, replica.Offset)
		differences++
	}

	if master.ConnectedSlaves == 0 {
		fmt.Fprintln(w, "  ⚠️  MASTER reports connected_slaves:0")
	}

	fmt.Fprintln(w)
	return differences
}

func compareKeyspace(w io.Writer, ref, sut KeyspaceInfo, dbFilter map[int]bool) int {
	// Get all database numbers from both systems
	allDBs := make(map[int]bool)
	for db := range ref {
		if dbFilter == nil || dbFilter[db] {
			allDBs[db] = true
		}
	}
	for db := range sut {
		if dbFilter == nil || dbFilter[db] {
			allDBs[db] = true
		}
	}

	dbNums := make([]int, 0, len(allDBs))
	for db := range allDBs {
		dbNums = append(dbNums, db)
	}
	sort.Ints(dbNums)

	fmt.Fprintln(w, "Database Comparison Results:")
	fmt.Fprintln(w, "============================")

	differences := 0

	for _, dbNum := range dbNums {
		refStats, refExists := ref[dbNum]
		sutStats, sutExists := sut[dbNum]

		fmt.Fprintf(w, "db%d:\n", dbNum)

		switch {
		case !refExists:
			fmt.Fprintf(w, "  ❌ Missing in MASTER, present in REPLICA: keys=%d,expires=%d,avg_ttl=%d\n",
				sutStats.Keys, sutStats.Expires, sutStats.AvgTTL)
			differences++
		case !sutExists:
			fmt.Fprintf(w, "  ❌ Missing in REPLICA, present in MASTER: keys=%d,expires=%d,avg_ttl=%d\n",
				refStats.Keys, refStats.Expires, refStats.AvgTTL)
			differences++
		default:
			if refStats.Keys != sutStats.Keys {
				fmt.Fprintf(w, "  ❌ Keys differ: MASTER=%d, REPLICA=%d\n", refStats.Keys, sutStats.Keys)
				differences++
			}
			if refStats.Expires != sutStats.Expires {
				fmt.Fprintf(w, "  ❌ Expires differ: MASTER=%d, REPLICA=%d\n", refStats.Expires, sutStats.Expires)
				differences++
			}
			if refStats.AvgTTL != sutStats.AvgTTL {
				fmt.Fprintf(w, "  ⚠️  AvgTTL differs: MASTER=%d, REPLICA=%d (may be acceptable)\n", refStats.AvgTTL, sutStats.AvgTTL)
			}

			if refStats.Keys == sutStats.Keys && refStats.Expires == sutStats.Expires {
				fmt.Fprintf(w, "  ✅ Match: keys=%d,expires=%d,avg_ttl=%d/%d\n",
					refStats.Keys, refStats.Expires, refStats.AvgTTL, sutStats.AvgTTL)
			}
		}
	}

	return differences
}
