package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/ValentinKolb/kvds/rpc/transport"
	"github.com/ValentinKolb/kvds/rpc/transport/base"
)

// DefaultBufferSize is the request buffer size suggested for tcp servers
const DefaultBufferSize = 512 * 1024 // 512 KB

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	listener, err := net.Listen("tcp", config.Transport.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %v", err)
	}

	return listener, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	t := config.Transport
	return tuneTCP(conn, t.TCPNoDelay, t.WriteBufferSize, t.ReadBufferSize, t.TCPKeepAliveSec, t.TCPLingerSec)
}

// tuneTCP applies the socket settings to a TCP connection, other connections are left unchanged.
// A negative linger keeps the OS default.
func tuneTCP(conn net.Conn, noDelay bool, writeBuf, readBuf, keepAliveSec, lingerSec int) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	if err := tcpConn.SetNoDelay(noDelay); err != nil {
		return err
	}
	if writeBuf > 0 {
		if err := tcpConn.SetWriteBuffer(writeBuf); err != nil {
			return err
		}
	}
	if readBuf > 0 {
		if err := tcpConn.SetReadBuffer(readBuf); err != nil {
			return err
		}
	}
	if keepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(keepAliveSec) * time.Second); err != nil {
			return err
		}
	}
	if lingerSec >= 0 {
		if err := tcpConn.SetLinger(lingerSec); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPServerTransport creates a new TCP server transport
func NewTCPServerTransport() transport.IRPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{})
}
