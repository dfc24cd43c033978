package socks5

import (
	"io"
	"net"

	"github.com/e1732a364fed/ws_tunnel_simple/netLayer"
	"github.com/e1732a364fed/ws_tunnel_simple/proxy"
	"github.com/e1732a364fed/ws_tunnel_simple/utils"
)

// Handshake 在已经打开的 underlay 上执行 socks5 握手与 CONNECT.
// 配置了凭据时会宣告并执行 username/password 子协商(RFC 1929).
// 成功时返回 underlay 本身; 首段数据由调用者在返回后自行写入.
func Handshake(underlay net.Conn, target netLayer.Addr, creds proxy.Creds) (net.Conn, error) {

	if underlay == nil {
		panic("socks5 client handshake, nil underlay is not allowed")
	}

	//握手阶段: 版本, 方法数, 方法列表
	var greeting []byte
	if creds.IsSet() {
		greeting = []byte{Version5, 2, AuthNone, AuthPassword}
	} else {
		greeting = []byte{Version5, 1, AuthNone}
	}
	if _, err := underlay.Write(greeting); err != nil {
		return nil, err
	}

	var ba [2]byte
	if _, err := io.ReadFull(underlay, ba[:]); err != nil {
		return nil, err
	}
	if ba[0] != Version5 {
		return nil, utils.ErrInErr{ErrDesc: "socks5 version mismatch in method selection", ErrDetail: proxy.ErrProxyConnectFailed, Data: ba[0]}
	}

	switch ba[1] {
	case AuthNone:
	case AuthPassword:
		if !creds.IsSet() {
			return nil, utils.ErrInErr{ErrDesc: "socks5 server demands auth but no creds configured", ErrDetail: proxy.ErrProxyAuthFailed}
		}
		if err := subNegotiate(underlay, creds); err != nil {
			return nil, err
		}
	default:
		return nil, utils.ErrInErr{ErrDesc: "socks5 unacceptable auth method", ErrDetail: proxy.ErrProxyConnectFailed, Data: ba[1]}
	}

	abs, atyp := target.AddressBytes()
	if abs == nil {
		return nil, netLayer.ErrAddressTooLong
	}

	buf := utils.GetBuf()
	buf.WriteByte(Version5)
	buf.WriteByte(CmdConnect)
	buf.WriteByte(0)
	buf.WriteByte(netLayer.ATypeToSocks5Standard(atyp))
	buf.Write(abs)
	buf.WriteByte(byte(target.Port >> 8))
	buf.WriteByte(byte(target.Port << 8 >> 8))

	_, err := underlay.Write(buf.Bytes())
	utils.PutBuf(buf)
	if err != nil {
		return nil, err
	}

	if err := readReply(underlay); err != nil {
		return nil, err
	}

	return underlay, nil
}

// username/password 子协商, RFC 1929: version 1, 长度前缀的用户名和密码
func subNegotiate(underlay net.Conn, creds proxy.Creds) error {
	if len(creds.User) > 255 || len(creds.Pass) > 255 {
		return utils.ErrInErr{ErrDesc: "socks5 user/pass too long", ErrDetail: proxy.ErrProxyAuthFailed}
	}

	buf := utils.GetBuf()
	buf.WriteByte(1)
	buf.WriteByte(byte(len(creds.User)))
	buf.WriteString(creds.User)
	buf.WriteByte(byte(len(creds.Pass)))
	buf.WriteString(creds.Pass)

	_, err := underlay.Write(buf.Bytes())
	utils.PutBuf(buf)
	if err != nil {
		return err
	}

	var reply [2]byte
	if _, err := io.ReadFull(underlay, reply[:]); err != nil {
		return err
	}
	if reply[1] != 0 {
		return utils.ErrInErr{ErrDesc: "socks5 auth rejected", ErrDetail: proxy.ErrProxyAuthFailed, Data: reply[1]}
	}
	return nil
}

// readReply 读取并完整消耗 CONNECT 的回复.
// bound addr 的长度取决于回显的地址类型, 必须全部读掉, 否则残留字节会混进隧道数据.
func readReply(underlay net.Conn) error {
	var head [4]byte
	if _, err := io.ReadFull(underlay, head[:]); err != nil {
		return err
	}
	if head[0] != Version5 {
		return utils.ErrInErr{ErrDesc: "socks5 version mismatch in reply", ErrDetail: proxy.ErrProxyConnectFailed, Data: head[0]}
	}
	if head[1] != 0 {
		return utils.ErrInErr{ErrDesc: "socks5 connect rejected", ErrDetail: proxy.ErrProxyConnectFailed, Data: head[1]}
	}

	var boundLen int
	switch head[3] {
	case ATypIP4:
		boundLen = net.IPv4len
	case ATypIP6:
		boundLen = net.IPv6len
	case ATypDomain:
		var lb [1]byte
		if _, err := io.ReadFull(underlay, lb[:]); err != nil {
			return err
		}
		boundLen = int(lb[0])
	default:
		return utils.ErrInErr{ErrDesc: "socks5 bad reply atyp", ErrDetail: proxy.ErrProxyConnectFailed, Data: head[3]}
	}

	bs := utils.GetBytes(boundLen + 2) //bound addr + bound port
	_, err := io.ReadFull(underlay, bs)
	utils.PutBytes(bs)
	return err
}
