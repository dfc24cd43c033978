// Package socks5 implements the client side of the socks5 CONNECT handshake,
// used when the tunnel routes outbound traffic through a socks5 upstream.
package socks5

// https://www.ietf.org/rfc/rfc1928.txt

const Version5 = 0x05

//本客户端只宣告这两种认证方式
const (
	AuthNone     = 0x00
	AuthPassword = 0x02
)

//出站只需要CONNECT, bind和udp associate用不到
const CmdConnect = 0x01

// socks5的地址类型值是134; 注意与隧道头的123定义不同,
// 编码目标地址时要经过 netLayer.ATypeToSocks5Standard 转换.
const (
	ATypIP4    = 0x1
	ATypDomain = 0x3
	ATypIP6    = 0x4
)
