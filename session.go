package ws_tunnel_simple

import (
	"bytes"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/e1732a364fed/ws_tunnel_simple/outbound"
	"github.com/e1732a364fed/ws_tunnel_simple/tunnel"
	"github.com/e1732a364fed/ws_tunnel_simple/udprelay"
	"github.com/e1732a364fed/ws_tunnel_simple/utils"
)

//udp指令只用于dns
const dnsPort = 53

// handleConn 处理一条入站tcp连接的完整生命周期:
// websocket握手, 隧道请求头解析与认证, 然后按指令转发.
// 任何握手或解析失败都只关闭连接, 不回传任何字节.
func (s *Server) handleConn(underlay net.Conn) {

	wsConn, err := s.wsServer.Handshake(underlay)
	if err != nil {
		if ce := utils.CanLogWarn("ws handshake failed"); ce != nil {
			ce.Write(zap.String("from", underlay.RemoteAddr().String()), zap.Error(err))
		}
		underlay.Close()
		return
	}

	req, err := tunnel.ParseRequest(wsConn, s.conf.Users)
	if err != nil {
		if ce := utils.CanLogWarn("tunnel handshake failed"); ce != nil {
			ce.Write(zap.String("from", underlay.RemoteAddr().String()), zap.Error(err))
		}
		wsConn.Close()
		return
	}

	switch req.Cmd {
	case tunnel.CmdTCP:
		s.relayTCP(wsConn, req)
	case tunnel.CmdUDP:
		s.relayUDP(wsConn, req)
	}
}

func (s *Server) relayTCP(inbound net.Conn, req *tunnel.Request) {
	defer inbound.Close()

	mgr := outbound.NewManager(outbound.Config{
		Chain:       s.conf.Chain,
		GlobalRelay: s.conf.GlobalRelay,
		Fallback:    s.conf.PickFallback(),
	}, nil)
	defer mgr.Close()

	target := req.TargetAddr()
	retried := false

	outConn, err := mgr.Establish(target, req.FirstPayload)
	if err != nil {
		//拨号或代理握手失败也计入一次性重试, 重试再失败才是终局
		if ce := utils.CanLogInfo("establish failed, retry once"); ce != nil {
			ce.Write(zap.String("target", target.String()), zap.Error(err))
		}
		retried = true
		outConn, err = mgr.Retry(target, req.FirstPayload)
		if err != nil {
			if ce := utils.CanLogWarn("retry outbound failed"); ce != nil {
				ce.Write(zap.String("target", target.String()), zap.Error(err))
			}
			return
		}
	}

	//上行: 入站的后续数据一律经mgr写往当前出站socket, 重试换socket后自动跟随.
	// 入站一侧关闭或出错时必须随手关掉当前出站socket, 否则下行会一直阻塞在Read上
	go func() {
		io.Copy(mgr, inbound)
		mgr.Close()
	}()

	rw := &respWriter{w: inbound, header: tunnel.ResponseHeader(req.Version)}

	n, err := copyDownlink(outConn, rw)
	if err != nil {
		return
	}
	if n == 0 && !retried {
		//上游一个字节都没给就关闭了, 做一次性的重连
		if ce := utils.CanLogInfo("upstream silent, retry once"); ce != nil {
			ce.Write(zap.String("target", target.String()))
		}
		outConn, err = mgr.Retry(target, req.FirstPayload)
		if err != nil {
			if ce := utils.CanLogWarn("retry outbound failed"); ce != nil {
				ce.Write(zap.String("target", target.String()), zap.Error(err))
			}
			return
		}
		copyDownlink(outConn, rw)
	}
}

func (s *Server) relayUDP(inbound net.Conn, req *tunnel.Request) {
	defer inbound.Close()

	if req.Port != dnsPort {
		if ce := utils.CanLogWarn("udp only serves dns"); ce != nil {
			ce.Write(zap.Int("port", req.Port))
		}
		return
	}

	relay := udprelay.New(s.conf.Resolver)

	var in io.Reader = inbound
	if len(req.FirstPayload) > 0 {
		in = io.MultiReader(bytes.NewReader(req.FirstPayload), inbound)
	}

	err := relay.Run(in, &respWriter{w: inbound, header: tunnel.ResponseHeader(req.Version)})
	if err != nil {
		if ce := utils.CanLogWarn("udp relay ended"); ce != nil {
			ce.Write(zap.Error(err))
		}
	}
}

// respWriter 在第一笔下行数据前 恰好一次地 放上隧道响应头,
// 响应头与该笔数据合并为单次Write. 回复可能来自多个goroutine, 这里串行化.
type respWriter struct {
	w io.Writer

	mu     sync.Mutex
	header []byte
}

func (rw *respWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.header != nil {
		buf := utils.GetBuf()
		buf.Write(rw.header)
		buf.Write(p)
		rw.header = nil

		_, err := rw.w.Write(buf.Bytes())
		utils.PutBuf(buf)
		if err != nil {
			return 0, err
		}
		return len(p), nil
	}
	return rw.w.Write(p)
}

// copyDownlink 把出站数据搬运到入站方向, 返回搬运的字节数.
// 返回的error只反映入站写入失败; 出站的EOF或读错误都算下行正常结束,
// 由调用者根据字节数判断是否触发重试.
func copyDownlink(out net.Conn, w io.Writer) (int64, error) {
	buf := utils.GetPacket()
	defer utils.PutPacket(buf)

	var n int64
	for {
		nr, er := out.Read(buf)
		if nr > 0 {
			n += int64(nr)
			if _, ew := w.Write(buf[:nr]); ew != nil {
				return n, ew
			}
		}
		if er != nil {
			return n, nil
		}
	}
}
