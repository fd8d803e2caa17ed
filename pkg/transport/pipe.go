package transport

import "net"

// NewPipePair returns two in-process, framed Conns connected
// back-to-back via net.Pipe, used by tests that need a connection
// without binding a socket.
func NewPipePair() (client, server Conn) {
	a, b := net.Pipe()
	return newFramedConn(a), newFramedConn(b)
}
