// Package redisnode provides a small Redis-compatible server that runs
// either as a master or as a replica of another master.
//
// A master accepts client connections, keeps its keys in memory and
// streams every write to the replicas attached through PSYNC. A replica
// performs the handshake with its master, receives an empty snapshot and
// then applies the master's write stream, advancing its replication
// offset by the bytes it consumed.
//
// Basic usage:
//
//	master, err := redisnode.New(redisnode.WithPort(6379))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer master.Close()
//
//	if err := master.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
//	replica, err := redisnode.New(
//		redisnode.WithPort(6380),
//		redisnode.WithReplicaOf("localhost 6379"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer replica.Close()
//
//	if err := replica.Start(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//	if err := replica.WaitForSync(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// The library supports:
//
//   - RESP2 framing with pipelining on every connection
//   - SET with EX/PX expiry, GET, DEL, EXISTS, KEYS and INFO
//   - Full resynchronization over REPLCONF and PSYNC
//   - Lua scripting through EVAL, EVALSHA and SCRIPT
//   - Structured logging and Prometheus metrics
//
// The cmd/redis-node directory contains the server binary.
package redisnode
