// Package server is the client-facing side of a node.
//
// A Server accepts TCP connections and runs one goroutine per connection.
// Each connection reads RESP frames, turns them into commands and hands
// them to a shared State, which executes them through a Dispatcher while
// holding a single lock. Write commands are propagated, encoded exactly as
// received, to every replica that completed PSYNC.
//
// Supported commands:
//   - PING, ECHO, COMMAND, QUIT
//   - SET (with EX or PX), GET, DEL, EXISTS, KEYS, DBSIZE, FLUSHALL
//   - INFO replication and keyspace sections
//   - REPLCONF and PSYNC for replicas
//   - EVAL, EVALSHA and SCRIPT LOAD|EXISTS|FLUSH
//
// Commands can be added or replaced with Dispatcher.Register before the
// server starts.
//
// State also implements replication.Applier, so a replica node feeds the
// master's command stream through the same handlers without replying.
package server
