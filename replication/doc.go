// Package replication implements both ends of full-resync replication.
//
// On the master, a Registry tracks downstream connections. A connection
// becomes pending on REPLCONF listening-port and streaming on PSYNC ? -1,
// after which every write command is broadcast to it verbatim.
//
// On the replica, a Client performs the handshake:
//   - PING, expecting PONG
//   - REPLCONF listening-port <port> and REPLCONF capa psync2, expecting OK
//   - PSYNC ? -1, expecting FULLRESYNC <replid> <offset>
//   - a snapshot frame whose contents are kept opaque
//
// and then applies the command stream through an Applier without replying.
//
// Basic usage:
//
//	client := replication.NewClient("localhost:6379", 6380, applier)
//	if err := client.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	if err := client.WaitForSync(ctx); err != nil {
//		log.Printf("replication failed: %v", err)
//	}
//
// A failed handshake is reported as a *HandshakeError and is not retried.
package replication
