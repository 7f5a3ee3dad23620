package server

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/raniellyferreira/redis-node/protocol"
)

// Conn is one accepted client connection. Commands are read, executed and
// answered strictly in arrival order. After PSYNC the connection becomes a
// replica link: it receives propagated commands and no further replies.
type Conn struct {
	id      string
	netConn net.Conn
	reader  *protocol.Reader
	writer  *protocol.Writer
	server  *Server

	createdAt time.Time
	replica   int32
	quit      bool

	closeOnce sync.Once
}

func newConn(s *Server, netConn net.Conn) *Conn {
	return &Conn{
		id:        ulid.Make().String(),
		netConn:   netConn,
		reader:    protocol.NewReader(netConn),
		writer:    protocol.NewWriter(netConn),
		server:    s,
		createdAt: time.Now(),
	}
}

// ID returns the connection identity
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() string {
	return c.netConn.RemoteAddr().String()
}

// IsReplica reports whether the connection completed PSYNC
func (c *Conn) IsReplica() bool {
	return atomic.LoadInt32(&c.replica) == 1
}

// Write sends propagated bytes straight to the peer. It makes Conn a
// replication.Transport.
func (c *Conn) Write(p []byte) (int, error) {
	return c.netConn.Write(p)
}

// SetWriteDeadline bounds propagated writes
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.netConn.SetWriteDeadline(t)
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.netConn.Close()
	})
	return err
}

func (c *Conn) markReplica() {
	atomic.StoreInt32(&c.replica, 1)
}

func (c *Conn) closeAfterReply() {
	c.quit = true
}

// writeFullResync writes the FULLRESYNC line followed by the snapshot
func (c *Conn) writeFullResync(replID string, offset int64, snapshot []byte) error {
	if err := c.writer.WriteSimpleString("FULLRESYNC " + replID + " " + strconv.FormatInt(offset, 10)); err != nil {
		return err
	}
	if err := c.writer.WriteSnapshot(snapshot); err != nil {
		return err
	}
	return c.writer.Flush()
}

// serve runs the read, execute, reply loop until the peer goes away or
// sends something that is not RESP
func (c *Conn) serve() {
	logger := c.server.logger
	state := c.server.state

	defer func() {
		state.removeReplica(c.id)
		c.Close()
		logger.Debug("Connection closed", "conn", c.id, "remote", c.RemoteAddr())
	}()

	logger.Debug("Connection accepted", "conn", c.id, "remote", c.RemoteAddr())

	for {
		value, err := c.reader.ReadNext()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.Is(err, protocol.ErrProtocol):
				c.server.recordError("protocol")
				logger.Info("Closing connection after protocol error", "conn", c.id, "error", err)
			default:
				logger.Debug("Connection read failed", "conn", c.id, "error", err)
			}
			return
		}

		cmd, err := protocol.ParseCommand(value)
		if err != nil {
			c.server.recordError("invalid_command")
			if c.IsReplica() {
				continue
			}
			if err := c.reply(protocol.Error("ERR Protocol error: " + err.Error())); err != nil {
				return
			}
			continue
		}

		atomic.AddInt64(&c.server.commandCount, 1)
		result := state.Execute(c, cmd)

		if c.IsReplica() || result.IsZero() {
			continue
		}
		if result.IsError() {
			atomic.AddInt64(&c.server.errorCount, 1)
		}
		if err := c.reply(result); err != nil {
			logger.Debug("Connection write failed", "conn", c.id, "error", err)
			return
		}
		if c.quit {
			return
		}
	}
}

func (c *Conn) reply(v protocol.Value) error {
	if err := c.writer.WriteValue(v); err != nil {
		return err
	}
	return c.writer.Flush()
}
