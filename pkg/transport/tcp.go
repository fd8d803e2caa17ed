package transport

import (
	"bufio"
	"context"
	"io"
	"net"

	"github.com/snekrpc/snekrpc/pkg/wire"
)

// framedConn adapts a net.Conn to the Conn interface using the 4-byte
// big-endian length-prefixed framing shared by the tcp and unix variants
// (spec §6).
type framedConn struct {
	nc net.Conn
	fr *wire.FrameReader
	fw *wire.FrameWriter
}

func newFramedConn(nc net.Conn) *framedConn {
	return &framedConn{nc: nc, fr: wire.NewFrameReader(nc), fw: wire.NewFrameWriter(nc)}
}

// newFramedConnBuffered wraps nc for framing but reads through rw's
// buffered reader first, so bytes already buffered during an HTTP
// upgrade handshake (by net/http or bufio.Reader) aren't dropped.
func newFramedConnBuffered(nc net.Conn, rw *bufio.ReadWriter) *framedConn {
	var r io.Reader = nc
	var w io.Writer = nc
	if rw != nil {
		if rw.Reader != nil {
			r = rw.Reader
		}
		if rw.Writer != nil {
			w = writeFlusher{rw.Writer}
		}
	}
	return &framedConn{nc: nc, fr: wire.NewFrameReader(r), fw: wire.NewFrameWriter(w)}
}

// writeFlusher flushes a bufio.Writer after every Write so framed
// messages are not left stuck in userspace buffers.
type writeFlusher struct {
	w *bufio.Writer
}

func (f writeFlusher) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, f.w.Flush()
}

func (c *framedConn) Send(b []byte) error        { return wrapErr("send", c.fw.WriteFrame(b)) }
func (c *framedConn) Recv() ([]byte, error)       { b, err := c.fr.ReadFrame(); return b, wrapErr("recv", err) }
func (c *framedConn) Close() error                { return c.nc.Close() }
func (c *framedConn) RemoteAddr() string          { return c.nc.RemoteAddr().String() }

type netListener struct {
	ln net.Listener
}

func listenTCP(hostport string) (Listener, error) {
	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, wrapErr("listen", err)
	}
	return &netListener{ln: ln}, nil
}

func listenUnix(path string) (Listener, error) {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, wrapErr("listen", err)
	}
	return &netListener{ln: ln}, nil
}

func (l *netListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		nc  net.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		nc, err := l.ln.Accept()
		ch <- result{nc, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, wrapErr("accept", r.err)
		}
		return newFramedConn(r.nc), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *netListener) Close() error  { return l.ln.Close() }
func (l *netListener) Addr() string  { return l.ln.Addr().String() }

type netDialer struct {
	network, addr string
}

func dialerTCP(hostport string) Dialer  { return &netDialer{network: "tcp", addr: hostport} }
func dialerUnix(path string) Dialer     { return &netDialer{network: "unix", addr: path} }

func (d *netDialer) Dial(ctx context.Context) (Conn, error) {
	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, d.network, d.addr)
	if err != nil {
		return nil, wrapErr("dial", err)
	}
	return newFramedConn(nc), nil
}
