// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package messages

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/molecula/objectdb/errors"
	"golang.org/x/sys/unix"
)

const (
	// MaxMessageSize bounds a single encoded message.
	MaxMessageSize = 1 << 16

	// MaxFDs is the largest number of descriptors one message carries.
	MaxFDs = 8

	network = "unixpacket"
)

const ErrMessageTruncated errors.Code = "MessageTruncated"

// Addr returns the socket address for an instance name. Names starting with
// "/" or "./" are filesystem paths; anything else lives in the abstract
// namespace.
func Addr(name string) *net.UnixAddr {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "./") || strings.HasPrefix(name, "@") {
		return &net.UnixAddr{Name: name, Net: network}
	}
	return &net.UnixAddr{Name: "@" + name, Net: network}
}

// Listen listens on the socket for name. A stale socket file left behind by
// a previous server is removed first.
func Listen(name string) (*net.UnixListener, error) {
	addr := Addr(name)
	if !strings.HasPrefix(addr.Name, "@") {
		if err := os.Remove(addr.Name); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "removing stale socket %s", addr.Name)
		}
	}
	ln, err := net.ListenUnix(network, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr.Name)
	}
	return ln, nil
}

// Conn sends and receives whole messages, with optional descriptors, over a
// SOCK_SEQPACKET connection. A Conn is not safe for concurrent use.
type Conn struct {
	c   *net.UnixConn
	buf []byte
	oob []byte
}

func NewConn(c *net.UnixConn) *Conn {
	return &Conn{
		c:   c,
		buf: make([]byte, MaxMessageSize),
		oob: make([]byte, unix.CmsgSpace(MaxFDs*4)),
	}
}

// Dial connects to the server for name.
func Dial(ctx context.Context, name string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, network, Addr(name).Name)
	if err != nil {
		return nil, err
	}
	return NewConn(c.(*net.UnixConn)), nil
}

// Send writes m and passes fds along with it.
func (c *Conn) Send(m *Message, fds ...int) error {
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	if _, _, err := c.c.WriteMsgUnix(b, oob, nil); err != nil {
		return errors.Wrapf(err, "sending %s", m.Event)
	}
	return nil
}

// Recv reads the next message and any descriptors passed with it. The
// caller owns the returned descriptors. A closed peer yields io.EOF.
func (c *Conn) Recv() (*Message, []int, error) {
	n, oobn, flags, _, err := c.c.ReadMsgUnix(c.buf, c.oob)
	if err != nil {
		return nil, nil, err
	}
	fds, err := parseRights(c.oob[:oobn])
	if err != nil {
		return nil, nil, err
	}
	if n == 0 && len(fds) == 0 {
		return nil, nil, io.EOF
	}
	if flags&(unix.MSG_TRUNC|unix.MSG_CTRUNC) != 0 {
		CloseFDs(fds)
		return nil, nil, errors.New(ErrMessageTruncated, "message or descriptors truncated")
	}
	m := &Message{}
	if err := m.UnmarshalBinary(c.buf[:n]); err != nil {
		CloseFDs(fds)
		return nil, nil, err
	}
	return m, fds, nil
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, errors.Wrap(err, "parsing control message")
	}
	var fds []int
	for i := range msgs {
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			CloseFDs(fds)
			return nil, errors.Wrap(err, "parsing descriptors")
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

// CloseFDs closes descriptors received with a message.
func CloseFDs(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

// Close closes the connection.
func (c *Conn) Close() error { return c.c.Close() }

// CloseRead shuts down the reading side, unblocking a pending Recv.
func (c *Conn) CloseRead() error { return c.c.CloseRead() }

// IsPeerDisconnect reports whether err means the other side went away.
func IsPeerDisconnect(err error) bool {
	return stderrors.Is(err, io.EOF) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.EPIPE)
}
