package bytesource

import "net"

// TCP is a Source backed by a single accepted TCP connection: the producer
// for one pipeline instance. One Accept, then Recv is called repeatedly by
// the decoder for the lifetime of the connection.
type TCP struct {
	conn net.Conn
}

// ListenAndAccept blocks waiting for exactly one inbound connection on
// addr, then returns a TCP source wrapping it. Production deployments run
// one listener per book; the listener is closed as soon as the first
// connection is accepted, so later connection attempts are refused.
func ListenAndAccept(addr string) (*TCP, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()

	conn, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	return &TCP{conn: conn}, nil
}

// Recv implements Source.
func (t *TCP) Recv(dest []byte) (int, error) {
	total := 0
	for total < len(dest) {
		n, err := t.conn.Read(dest[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close releases the underlying connection.
func (t *TCP) Close() error {
	return t.conn.Close()
}
