package ws_tunnel_simple

import (
	"net"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/e1732a364fed/ws_tunnel_simple/config"
	"github.com/e1732a364fed/ws_tunnel_simple/utils"
	"github.com/e1732a364fed/ws_tunnel_simple/ws"
)

// Server 按给定配置监听并服务隧道连接.
type Server struct {
	conf     *config.Resolved
	wsServer *ws.Server

	listener net.Listener
	closed   atomic.Bool
}

func NewServer(rc *config.Resolved) *Server {
	return &Server{
		conf:     rc,
		wsServer: ws.NewServer(rc.Path),
	}
}

// ListenAndServe 阻塞运行, 每条连接一个goroutine. Close 后返回nil.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.conf.Listen)
	if err != nil {
		return utils.ErrInErr{ErrDesc: "listen failed", ErrDetail: err, Data: s.conf.Listen}
	}
	s.listener = listener

	if ce := utils.CanLogInfo("listening"); ce != nil {
		ce.Write(zap.String("addr", listener.Addr().String()), zap.String("path", s.conf.Path))
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			return utils.ErrInErr{ErrDesc: "accept failed", ErrDetail: err}
		}
		go s.handleConn(conn)
	}
}

// Addr 返回实际监听地址, 未监听时为nil.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
