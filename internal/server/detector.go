package server

import (
	"bufio"
	"net"
	"time"
)

// detectTimeout bounds how long a freshly accepted connection may sit
// silent before we give up on it.
const detectTimeout = 30 * time.Second

// detect peeks at the first bytes of a connection to decide whether the
// peer is starting a TLS handshake or speaking plaintext HTTP. The
// peeked bytes stay buffered in the returned reader, so whichever
// session takes over sees the stream from its first byte.
//
// A TLS connection opens with a handshake record: content type 0x16
// followed by the 0x03 protocol major version.
func detect(conn net.Conn) (isTLS bool, br *bufio.Reader, err error) {
	if err := conn.SetReadDeadline(time.Now().Add(detectTimeout)); err != nil {
		return false, nil, err
	}

	br = bufio.NewReader(conn)
	hdr, err := br.Peek(3)
	if err != nil {
		return false, nil, err
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return false, nil, err
	}

	return hdr[0] == 0x16 && hdr[1] == 0x03, br, nil
}

// bufferedConn replays bytes already consumed into a bufio.Reader ahead
// of the rest of the underlying connection. It lets the TLS layer see
// the handshake bytes the detector peeked at.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func newBufferedConn(conn net.Conn, r *bufio.Reader) bufferedConn {
	return bufferedConn{Conn: conn, r: r}
}

func (c bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
