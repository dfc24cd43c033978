// Package config loads the toml configuration file and resolves it into the
// read-only RequestConfig that the tunnel core consumes.
package config

import (
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"

	"github.com/e1732a364fed/ws_tunnel_simple/netLayer"
	"github.com/e1732a364fed/ws_tunnel_simple/proxy"
	"github.com/e1732a364fed/ws_tunnel_simple/tunnel"
	"github.com/e1732a364fed/ws_tunnel_simple/utils"
)

//使用toml：https://toml.io/cn/v1.0.0
type Conf struct {
	Listen string   `toml:"listen"` //监听地址, 如 ":8080"
	Path   string   `toml:"path"`   //websocket path, 须以 "/" 开头
	UUIDs  []string `toml:"uuid"`

	//"global" 表示全部出站都走代理链; "fallback" 表示代理链只用于重试回退
	RelayMode string `toml:"relay_mode"`

	FallbackIP   string `toml:"fallback_ip"`
	FallbackPort int    `toml:"fallback_port"`

	//回退地址池; 未给出 fallback_ip 时, 每个连接从中均匀随机选取一个.
	// 是按连接选取, 不是按数据包.
	OutboundIPs []string `toml:"outbound_ips"`

	DNSResolver string `toml:"dns_resolver"` //udp解析器地址, 默认 8.8.8.8:53

	Proxy *ProxyConf `toml:"proxy"`
}

type ProxyConf struct {
	Kind string `toml:"kind"` //socks5 或 http
	Host string `toml:"host"`
	Port int    `toml:"port"`
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// Resolved 是解析完毕的配置. 对core只读.
type Resolved struct {
	Listen string
	Path   string

	Users tunnel.UserSet

	Chain       *proxy.Chain
	GlobalRelay bool

	fallback     netLayer.Addr
	outboundIPs  []string
	fallbackPort int

	Resolver netLayer.Addr
}

// PickFallback 返回本次连接使用的回退地址. 配置了固定 fallback_ip 时始终返回它;
// 否则从地址池中均匀随机选取. 每个连接调用一次.
func (rc *Resolved) PickFallback() netLayer.Addr {
	if !rc.fallback.IsEmpty() {
		return rc.fallback
	}
	if len(rc.outboundIPs) > 0 {
		host := rc.outboundIPs[rand.Intn(len(rc.outboundIPs))]
		return netLayer.NewAddr(host, rc.fallbackPort)
	}
	return netLayer.Addr{}
}

func LoadTomlConfStr(str string) (*Conf, error) {
	c := &Conf{}
	_, err := toml.Decode(str, c)
	return c, err
}

func LoadTomlConfFile(fileNamePath string) (*Conf, error) {
	bs, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "can't open config file", ErrDetail: err, Data: fileNamePath}
	}
	return LoadTomlConfStr(string(bs))
}

func isHost(s string) bool {
	return govalidator.IsIP(s) || govalidator.IsDNSName(s)
}

func isPort(p int) bool {
	return govalidator.IsPort(strconv.Itoa(p))
}

// Resolve 校验并解析配置.
func (c *Conf) Resolve() (*Resolved, error) {

	if len(c.UUIDs) == 0 {
		return nil, utils.ErrInErr{ErrDesc: "no uuid configured", ErrDetail: utils.ErrWrongParameter}
	}
	users, err := tunnel.NewUserSet(c.UUIDs...)
	if err != nil {
		return nil, err
	}

	rc := &Resolved{
		Listen: c.Listen,
		Path:   c.Path,
		Users:  users,
	}
	if rc.Listen == "" {
		rc.Listen = ":8080"
	}
	if rc.Path == "" {
		rc.Path = "/"
	} else if !strings.HasPrefix(rc.Path, "/") {
		return nil, utils.ErrInErr{ErrDesc: "path must start with /", ErrDetail: utils.ErrWrongParameter, Data: c.Path}
	}

	switch c.RelayMode {
	case "", "fallback":
	case "global":
		rc.GlobalRelay = true
	default:
		return nil, utils.ErrInErr{ErrDesc: "bad relay_mode", ErrDetail: utils.ErrWrongParameter, Data: c.RelayMode}
	}

	if c.Proxy != nil {
		if c.Proxy.Kind != proxy.KindSocks5 && c.Proxy.Kind != proxy.KindHTTP {
			return nil, utils.ErrInErr{ErrDesc: "bad proxy kind", ErrDetail: utils.ErrWrongParameter, Data: c.Proxy.Kind}
		}
		if !isHost(c.Proxy.Host) || !isPort(c.Proxy.Port) {
			return nil, utils.ErrInErr{ErrDesc: "bad proxy host/port", ErrDetail: utils.ErrWrongParameter, Data: c.Proxy.Host}
		}
		rc.Chain = &proxy.Chain{
			Kind:  c.Proxy.Kind,
			Addr:  c.Proxy.Host + ":" + strconv.Itoa(c.Proxy.Port),
			Creds: proxy.Creds{User: c.Proxy.User, Pass: c.Proxy.Pass},
		}
	}
	if rc.GlobalRelay && rc.Chain == nil {
		return nil, utils.ErrInErr{ErrDesc: "relay_mode global requires [proxy]", ErrDetail: utils.ErrWrongParameter}
	}

	rc.fallbackPort = c.FallbackPort
	if rc.fallbackPort == 0 {
		rc.fallbackPort = 443
	} else if !isPort(rc.fallbackPort) {
		return nil, utils.ErrInErr{ErrDesc: "bad fallback_port", ErrDetail: utils.ErrWrongParameter, Data: c.FallbackPort}
	}

	if c.FallbackIP != "" {
		if !govalidator.IsIP(c.FallbackIP) {
			return nil, utils.ErrInErr{ErrDesc: "bad fallback_ip", ErrDetail: utils.ErrWrongParameter, Data: c.FallbackIP}
		}
		rc.fallback = netLayer.NewAddr(c.FallbackIP, rc.fallbackPort)
	}
	for _, ip := range c.OutboundIPs {
		if !govalidator.IsIP(ip) {
			return nil, utils.ErrInErr{ErrDesc: "bad outbound ip", ErrDetail: utils.ErrWrongParameter, Data: ip}
		}
	}
	rc.outboundIPs = c.OutboundIPs

	resolver := c.DNSResolver
	if resolver == "" {
		resolver = "8.8.8.8:53"
	}
	ra, err := netLayer.NewAddrByHostPort(resolver)
	if err != nil || !isHost(ra.HostStr()) {
		return nil, utils.ErrInErr{ErrDesc: "bad dns_resolver", ErrDetail: utils.ErrWrongParameter, Data: resolver}
	}
	ra.Network = "udp"
	rc.Resolver = ra

	return rc, nil
}
