package ws

import (
	"encoding/base64"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/e1732a364fed/ws_tunnel_simple/utils"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type Server struct {
	UseEarlyData bool
	Thepath      string
}

// 这里默认: 传入的path必须以 "/" 为前缀. 本函数不对此进行任何检查.
func NewServer(path string) *Server {
	return &Server{
		Thepath:      path,
		UseEarlyData: true,
	}
}

// Handshake 用于 websocket 的 Server 监听端，建立握手. 用到了 gobwas/ws.Upgrader.
//
// 返回可直接用于读写 websocket 二进制数据的 net.Conn.
// 若客户端在 Sec-WebSocket-Protocol 里携带了 base64url(无padding) 的 earlydata,
// 它会成为返回连接 Read 出的第一段数据; 解码失败则握手直接以
// ErrEarlyDataDecode 终止.
func (s *Server) Handshake(underlay net.Conn) (net.Conn, error) {

	var thePotentialEarlyData []byte
	var earlyDataErr error

	theUpgrader := &ws.Upgrader{
		OnRequest: func(uri []byte) error {
			struri := string(uri)
			if struri != s.Thepath {
				//发现错误字符串除了在程序里返回外，还会直接显示到浏览器上！这会被探测到的。
				// 所以只能显示标准http错误, 不带任何自定义内容.
				if ce := utils.CanLogWarn("ws path not match"); ce != nil {
					min := len(s.Thepath)
					if len(struri) < min {
						min = len(struri)
					}
					ce.Write(zap.String("wrong path", struri[:min]))
				}
				return ws.RejectConnectionError(ws.RejectionStatus(http.StatusBadRequest))
			}
			return nil
		},
	}

	if s.UseEarlyData {

		// gobwas 的upgrader 用 ProtocolCustom 这个函数来检查 protocol的内容,
		// 它会遍历客户端给出的所有 protocol，然后选择一个来返回.
		//我们若提供了此函数，则必须返回true，否则 gobwas会返回 ErrMalformedRequest 错误.
		//因为这个是回调函数，所以需要是闭包才能向我们实际连接储存数据.
		theUpgrader.ProtocolCustom = func(b []byte) (string, bool) {
			if len(b) == 0 || len(b) > MaxEarlyDataLen_Base64 {
				return "", true
			}
			bs, err := base64.RawURLEncoding.DecodeString(string(b))
			if err != nil {
				//带了此header却不是base64url数据, 这属于非法请求
				earlyDataErr = utils.ErrInErr{ErrDesc: "ws early data decode", ErrDetail: ErrEarlyDataDecode, Data: err.Error()}
				return "", false
			}
			thePotentialEarlyData = bs
			return "", true
		}
	}

	_, err := theUpgrader.Upgrade(underlay)
	if err != nil {
		if earlyDataErr != nil {
			return nil, earlyDataErr
		}
		return nil, err
	}

	theConn := &Conn{
		Conn:   underlay,
		state:  ws.StateServerSide,
		r:      wsutil.NewServerSideReader(underlay),
		closed: atomic.NewBool(false),
	}
	//服务端是不怕客户端在握手阶段传来任何多余数据的
	theConn.r.OnIntermediate = wsutil.ControlFrameHandler(underlay, ws.StateServerSide)

	if len(thePotentialEarlyData) > 0 {
		theConn.serverEndGotEarlyData = thePotentialEarlyData
	}

	return theConn, nil
}
