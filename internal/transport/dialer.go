package transport

import (
	"net"
	"syscall"
	"time"
)

// dialTimeout bounds TCP connection establishment.
const dialTimeout = 10 * time.Second

// NewDialer returns the default Dialer. When localIP is not nil
// every socket binds to it before use; when localDev is not empty
// every socket binds to that network device. Bind failures surface
// from the dial, i.e. when the first query to a server is issued.
func NewDialer(localIP net.IP, localDev string) Dialer {
	return func(network, address string) (net.Conn, error) {
		d := net.Dialer{Timeout: dialTimeout}
		if localIP != nil {
			switch network {
			case "udp":
				d.LocalAddr = &net.UDPAddr{IP: localIP}
			case "tcp":
				d.LocalAddr = &net.TCPAddr{IP: localIP}
			}
		}
		if localDev != "" {
			dev := localDev
			d.Control = func(network, address string, c syscall.RawConn) error {
				return bindToDevice(c, dev)
			}
		}
		return d.Dial(network, address)
	}
}
