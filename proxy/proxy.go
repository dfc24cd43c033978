// Package proxy holds what the upstream proxy clients (socks5, httpproxy)
// have in common: the chain descriptor, credentials and the shared errors.
package proxy

import "errors"

// 上游代理链的种类
const (
	KindNone   = ""
	KindSocks5 = "socks5"
	KindHTTP   = "http"
)

var (
	ErrProxyAuthFailed    = errors.New("proxy auth failed")
	ErrProxyConnectFailed = errors.New("proxy connect failed")
)

type Creds struct {
	User string
	Pass string
}

func (c Creds) IsSet() bool {
	return c.User != ""
}

// Chain 描述一条可选的上游代理链. Kind 为 KindNone 时表示不经过代理.
type Chain struct {
	Kind  string
	Addr  string //host:port
	Creds Creds
}

func (ch *Chain) Configured() bool {
	return ch != nil && ch.Kind != KindNone && ch.Addr != ""
}
