// Package netLayer provides the Addr abstraction, the v2ray-style address
// wire codec and basic dialing for ws_tunnel_simple.
package netLayer

import (
	"net"
	"strconv"
	"time"

	"github.com/e1732a364fed/ws_tunnel_simple/utils"
)

// Addr represents a address that you want to access by proxy.
// Either Name or IP is used exclusively. Addr 完整地表示了一个传输层的目标,
// 同时用 Network 字段来记录网络层协议名. Addr 还可以用 Dial 方法直接进行拨号.
type Addr struct {
	Network string
	Name    string // domain name
	IP      net.IP
	Port    int
}

//hostPortStr格式 必须为 host:port，本函数不对此检查
func NewAddrByHostPort(hostPortStr string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(hostPortStr)
	if err != nil {
		return Addr{}, err
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Addr{}, err
	}

	a := Addr{Port: port}
	if ip := net.ParseIP(host); ip != nil {
		a.IP = ip
	} else {
		a.Name = host
	}
	return a, nil
}

//host 可为域名或ip字符串
func NewAddr(host string, port int) Addr {
	a := Addr{Port: port}
	if ip := net.ParseIP(host); ip != nil {
		a.IP = ip
	} else {
		a.Name = host
	}
	return a
}

// Return host:port string.
func (a *Addr) String() string {
	return net.JoinHostPort(a.HostStr(), strconv.Itoa(a.Port))
}

// Returned host string
func (a *Addr) HostStr() string {
	if a.IP == nil {
		return a.Name
	}
	return a.IP.String()
}

func (a *Addr) IsEmpty() bool {
	return a.Name == "" && len(a.IP) == 0 && a.Port == 0
}

//a.Network == "udp", "udp4", "udp6"
func (a *Addr) IsUDP() bool {
	switch a.Network {
	case "udp", "udp4", "udp6":
		return true
	}
	return false
}

// 如果a的ip不为空，则会返回 AtypIP4 或 AtypIP6, 否则会返回 AtypDomain.
// 如果atyp类型是域名，则第一字节为该域名的总长度, 其余字节为域名内容。
// 如果类型是ip，则会拷贝出该ip的数据的副本。
func (a *Addr) AddressBytes() (addr []byte, atyp byte) {

	if a.IP != nil {
		if ip4 := a.IP.To4(); ip4 != nil {
			addr = make([]byte, net.IPv4len)
			atyp = AtypIP4
			copy(addr, ip4)
		} else {
			addr = make([]byte, net.IPv6len)
			atyp = AtypIP6
			copy(addr, a.IP)
		}
	} else {
		if len(a.Name) > 255 {
			return nil, 0
		}
		addr = make([]byte, 1+len(a.Name))
		atyp = AtypDomain
		addr[0] = byte(len(a.Name))
		copy(addr[1:], a.Name)
	}

	return
}

const dialTimeout = time.Second * 15

// Dial 拨号a所指向的目标. Network为空时认为是tcp.
func (a Addr) Dial() (net.Conn, error) {
	network := a.Network
	if network == "" {
		network = "tcp"
	}

	c, err := net.DialTimeout(network, a.String(), dialTimeout)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "dial failed", ErrDetail: err, Data: a.String()}
	}
	return c, nil
}
