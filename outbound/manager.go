// Package outbound establishes and owns the tunnel session's outbound
// connection: direct, through a socks5 upstream, or through an http CONNECT
// upstream, plus the one-shot retry-with-fallback policy.
package outbound

import (
	"errors"
	"net"
	"sync"

	"github.com/e1732a364fed/ws_tunnel_simple/netLayer"
	"github.com/e1732a364fed/ws_tunnel_simple/proxy"
	"github.com/e1732a364fed/ws_tunnel_simple/proxy/httpproxy"
	"github.com/e1732a364fed/ws_tunnel_simple/proxy/socks5"
	"github.com/e1732a364fed/ws_tunnel_simple/utils"
	"go.uber.org/zap"
)

var (
	ErrUpstreamConnectFailed = errors.New("upstream connect failed")
	ErrNoConn                = errors.New("no current outbound connection")
)

// Dialer 是外部提供的拨号原语
type Dialer func(addr netLayer.Addr) (net.Conn, error)

// Config 是 outbound 所需的已解析配置的只读子集.
type Config struct {
	Chain *proxy.Chain

	//true表示所有出站都走代理链; false时代理链只作为重试时的回退路径
	GlobalRelay bool

	//首次连接无响应数据时的回退目标, 可为空
	Fallback netLayer.Addr
}

// Manager 管理一次隧道会话的出站连接. 同一时刻最多持有一个活跃的socket;
// 重试路径是替换而非新增, 替换前会先关闭旧socket.
type Manager struct {
	conf Config
	dial Dialer

	mu  sync.Mutex
	cur net.Conn
}

func NewManager(conf Config, dial Dialer) *Manager {
	if dial == nil {
		dial = func(addr netLayer.Addr) (net.Conn, error) {
			return addr.Dial()
		}
	}
	return &Manager{conf: conf, dial: dial}
}

// Establish 发起首次连接. 首次总是以请求中的目标为目的地;
// 若配置了全局中转且有代理链, 则经代理链, 否则直连.
// firstPayload 会作为第一笔出站写入 (http代理路径下由其握手自行写入).
func (m *Manager) Establish(target netLayer.Addr, firstPayload []byte) (net.Conn, error) {
	viaProxy := m.conf.GlobalRelay && m.conf.Chain.Configured()
	return m.connectAndWrite(target, viaProxy, firstPayload)
}

// Retry 实现一次性的重试: 配置了代理链则经代理链重连原目标;
// 否则若配置了回退地址则改连回退地址; 否则仍连原目标.
// 此顺序刻意与配置字段的出现顺序一致, 不要自作聪明调整.
func (m *Manager) Retry(target netLayer.Addr, firstPayload []byte) (net.Conn, error) {
	if m.conf.Chain.Configured() {
		return m.connectAndWrite(target, true, firstPayload)
	}
	if !m.conf.Fallback.IsEmpty() {
		fb := m.conf.Fallback
		fb.Network = target.Network
		return m.connectAndWrite(fb, false, firstPayload)
	}
	return m.connectAndWrite(target, false, firstPayload)
}

func (m *Manager) connectAndWrite(target netLayer.Addr, viaProxy bool, firstPayload []byte) (net.Conn, error) {

	var conn net.Conn
	var err error

	if viaProxy {
		chain := m.conf.Chain

		var chainAddr netLayer.Addr
		chainAddr, err = netLayer.NewAddrByHostPort(chain.Addr)
		if err != nil {
			return nil, utils.ErrInErr{ErrDesc: "bad proxy chain addr", ErrDetail: err, Data: chain.Addr}
		}

		conn, err = m.dial(chainAddr)
		if err != nil {
			return nil, utils.ErrInErr{ErrDesc: "dial proxy chain", ErrDetail: ErrUpstreamConnectFailed, Data: err.Error()}
		}

		switch chain.Kind {
		case proxy.KindSocks5:
			conn, err = socks5.Handshake(conn, target, chain.Creds)
			if err == nil && len(firstPayload) > 0 {
				_, err = conn.Write(firstPayload)
			}
		case proxy.KindHTTP:
			//http路径在握手内部写入首段数据
			conn, err = httpproxy.Handshake(conn, target, chain.Creds, firstPayload)
		default:
			conn.Close()
			return nil, utils.ErrInErr{ErrDesc: "unknown proxy chain kind", ErrDetail: utils.ErrWrongParameter, Data: chain.Kind}
		}
		if err != nil {
			conn.Close()
			return nil, err
		}

	} else {
		conn, err = m.dial(target)
		if err != nil {
			return nil, utils.ErrInErr{ErrDesc: "dial target", ErrDetail: ErrUpstreamConnectFailed, Data: err.Error()}
		}
		if len(firstPayload) > 0 {
			if _, err = conn.Write(firstPayload); err != nil {
				conn.Close()
				return nil, err
			}
		}
	}

	if ce := utils.CanLogDebug("outbound established"); ce != nil {
		ce.Write(zap.String("target", target.String()), zap.Bool("viaProxy", viaProxy))
	}

	m.replace(conn)
	return conn, nil
}

// replace 记录新的出站socket, 并关闭之前的那个.
// 旧socket必须在被替换时关闭, 不能出现两个socket同时存活的窗口被无限拉长.
func (m *Manager) replace(conn net.Conn) {
	m.mu.Lock()
	old := m.cur
	m.cur = conn
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

// Write 向当前出站socket写入. 入站链路用它转发数据,
// 这样重试替换socket后, 后续数据自动写往新socket.
func (m *Manager) Write(p []byte) (int, error) {
	m.mu.Lock()
	conn := m.cur
	m.mu.Unlock()

	if conn == nil {
		return 0, ErrNoConn
	}
	return conn.Write(p)
}

// Close 关闭当前出站socket (若有).
func (m *Manager) Close() error {
	m.mu.Lock()
	conn := m.cur
	m.cur = nil
	m.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
