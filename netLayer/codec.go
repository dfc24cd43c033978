package netLayer

import (
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/e1732a364fed/ws_tunnel_simple/utils"
)

// Atyp, 遵循v2ray标准的定义; 注意与 trojan和socks5 的区别,
// trojan和socks5的相同含义的值是1，3，4
const (
	AtypIP4    byte = 1
	AtypDomain byte = 2
	AtypIP6    byte = 3
)

var (
	ErrMalformedAddress = errors.New("malformed address")
	ErrAddressTooLong   = errors.New("address too long")
)

//默认netLayer的 AType (AtypIP4,AtypIP6,AtypDomain) 遵循v2ray标准的定义;
// 如果需要符合 socks5/trojan标准, 需要用本函数转换一下。即从 123 转换到 134
func ATypeToSocks5Standard(atype byte) byte {
	if atype == AtypIP4 {
		return 1
	}
	return atype + 1
}

// DecodeAddr 按照 atyp 从 bs 的开头解码出一个地址字符串, 并返回消耗的字节数.
// ipv4为4字节点分十进制; 域名为 1字节长度+内容; ipv6为8个大端16位组,
// 以冒号分隔的十六进制表示, 不做零压缩.
func DecodeAddr(bs []byte, atyp byte) (addr string, n int, err error) {
	switch atyp {
	case AtypIP4:
		if len(bs) < net.IPv4len {
			err = ErrMalformedAddress
			return
		}
		addr = net.IP(bs[:net.IPv4len]).String()
		n = net.IPv4len

	case AtypDomain:
		if len(bs) < 1 {
			err = ErrMalformedAddress
			return
		}
		l := int(bs[0])
		if len(bs) < 1+l {
			err = ErrMalformedAddress
			return
		}
		addr = string(bs[1 : 1+l])
		n = 1 + l

	case AtypIP6:
		if len(bs) < net.IPv6len {
			err = ErrMalformedAddress
			return
		}
		var sb strings.Builder
		for i := 0; i < 8; i++ {
			if i > 0 {
				sb.WriteByte(':')
			}
			g := uint64(bs[i*2])<<8 | uint64(bs[i*2+1])
			sb.WriteString(strconv.FormatUint(g, 16))
		}
		addr = sb.String()
		n = net.IPv6len

	default:
		err = utils.ErrInErr{ErrDesc: "unknown address type", ErrDetail: ErrMalformedAddress, Data: atyp}
	}
	return
}

// EncodeAddr 是 DecodeAddr 的逆操作, 用于向上游代理转发目标地址时编码.
// 域名超过255字节时返回 ErrAddressTooLong.
func EncodeAddr(addr string, atyp byte) ([]byte, error) {
	switch atyp {
	case AtypIP4:
		ip := net.ParseIP(addr)
		if ip == nil {
			return nil, ErrMalformedAddress
		}
		ip4 := ip.To4()
		if ip4 == nil {
			return nil, ErrMalformedAddress
		}
		out := make([]byte, net.IPv4len)
		copy(out, ip4)
		return out, nil

	case AtypDomain:
		if len(addr) > 255 {
			return nil, ErrAddressTooLong
		}
		out := make([]byte, 1+len(addr))
		out[0] = byte(len(addr))
		copy(out[1:], addr)
		return out, nil

	case AtypIP6:
		ip := net.ParseIP(addr)
		if ip == nil || ip.To4() != nil {
			return nil, ErrMalformedAddress
		}
		out := make([]byte, net.IPv6len)
		copy(out, ip.To16())
		return out, nil
	}
	return nil, utils.ErrInErr{ErrDesc: "unknown address type", ErrDetail: ErrMalformedAddress, Data: atyp}
}
