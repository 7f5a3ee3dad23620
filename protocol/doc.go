// Package protocol implements the Redis Serialization Protocol (RESP)
// for parsing and writing Redis protocol messages.
//
// Parse is an incremental decoder over a caller-owned buffer: it returns
// one value and the number of bytes it used, or ErrIncomplete when more
// input is needed. Reader layers a growable buffer over an io.Reader on top
// of Parse and is what connections use:
//
//	reader := protocol.NewReader(conn)
//	for {
//		value, err := reader.ReadNext()
//		if err != nil {
//			break
//		}
//		// Process value
//	}
//
// Both RESP2 and RESP3 value kinds are supported:
//   - Simple strings, errors and bulk errors
//   - Integers, big numbers, doubles and booleans
//   - Bulk and verbatim strings
//   - Arrays, sets, maps and pushes
//   - The null bulk string, the null array and the RESP3 null
//
// Malformed input is reported as a *ProtocolError, which matches
// ErrProtocol with errors.Is.
package protocol
