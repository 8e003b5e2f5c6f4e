package gps

import (
	"fmt"
	"net"

	"github.com/navmiles/navmiles/internal/monitoring"
	"github.com/navmiles/navmiles/internal/timeutil"
)

// udpStream adapts a UDP socket to io.ReadCloser. Each datagram is
// expected to carry newline-terminated NMEA sentences, which the Mux's
// scanner reassembles.
type udpStream struct {
	conn *net.UDPConn
}

func (u *udpStream) Read(p []byte) (int, error) {
	n, _, err := u.conn.ReadFromUDP(p)
	return n, err
}

func (u *udpStream) Close() error {
	return u.conn.Close()
}

// ListenUDP binds a UDP port for NMEA datagrams (telemetry bridges,
// trace replays) and returns a Mux reading from it.
func ListenUDP(addr string, clock timeutil.Clock) (*Mux, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("gps: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("gps: listen %s: %w", addr, err)
	}
	monitoring.Logf("gps: listening for NMEA datagrams on %s", conn.LocalAddr())
	return NewMux(&udpStream{conn: conn}, clock, addr), nil
}
