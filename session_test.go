package ws_tunnel_simple

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"testing"
	"time"

	gobwasws "github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/e1732a364fed/ws_tunnel_simple/config"
	"github.com/e1732a364fed/ws_tunnel_simple/utils"
)

const testUUIDStr = "a684455c-b14f-11ea-bf0d-42010aaa0003"
const testPath = "/tun"

func startServer(t *testing.T, extraToml string) (*Server, string) {
	str := fmt.Sprintf(`
listen = "127.0.0.1:0"
path = %q
uuid = [%q]
%s`, testPath, testUUIDStr, extraToml)

	c, err := config.LoadTomlConfStr(str)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	rc, err := c.Resolve()
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	srv := NewServer(rc)
	go srv.ListenAndServe()
	t.Cleanup(func() { srv.Close() })

	for i := 0; i < 100; i++ {
		if srv.Addr() != nil {
			return srv, srv.Addr().String()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Log("server never started listening")
	t.FailNow()
	return nil, ""
}

func buildReq(t *testing.T, cmd byte, host string, port int, payload []byte) []byte {
	uuid, err := utils.StrToUUID(testUUIDStr)
	if err != nil {
		t.FailNow()
	}
	bs := []byte{0x00}
	bs = append(bs, uuid[:]...)
	bs = append(bs, 0x00) //addons len
	bs = append(bs, cmd)
	bs = append(bs, byte(port>>8), byte(port))

	if ip := net.ParseIP(host).To4(); ip != nil {
		bs = append(bs, 0x01)
		bs = append(bs, ip...)
	} else {
		bs = append(bs, 0x02, byte(len(host)))
		bs = append(bs, host...)
	}
	return append(bs, payload...)
}

func dialTunnel(t *testing.T, addr string) net.Conn {
	d := gobwasws.Dialer{}
	conn, _, _, err := d.Dial(context.Background(), "ws://"+addr+testPath)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// 假的上游tcp服务, 读到expect后回写reply并保持连接
func startUpstream(t *testing.T, expect, reply string) (addr *net.TCPAddr) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.FailNow()
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				bs := make([]byte, 1500)
				n, err := conn.Read(bs)
				if err != nil || string(bs[:n]) != expect {
					t.Log("upstream got", n, err, string(bs[:n]))
					t.Fail()
					conn.Close()
					return
				}
				conn.Write([]byte(reply))
			}()
		}
	}()
	return listener.Addr().(*net.TCPAddr)
}

func TestRelayTCP(t *testing.T) {
	up := startUpstream(t, "ping", "pong")
	_, addr := startServer(t, "")

	cli := dialTunnel(t, addr)
	req := buildReq(t, 0x01, up.IP.String(), up.Port, []byte("ping"))
	if err := wsutil.WriteClientBinary(cli, req); err != nil {
		t.FailNow()
	}

	bs, err := wsutil.ReadServerBinary(cli)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	//响应头 {version, 0} 与首笔数据同帧
	if !bytes.Equal(bs, []byte{0x00, 0x00, 'p', 'o', 'n', 'g'}) {
		t.Log("bad response", bs)
		t.FailNow()
	}
}

// 上游静默关闭时, 应只重试一次并回退到 fallback 地址,
// 首段数据须重放给回退目标, 响应头只出现一次
func TestRetrySilentUpstream(t *testing.T) {
	silent, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.FailNow()
	}
	t.Cleanup(func() { silent.Close() })
	go func() {
		for {
			conn, err := silent.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	fb := startUpstream(t, "hello", "recovered")
	_, addr := startServer(t, fmt.Sprintf("fallback_ip = %q\nfallback_port = %d", fb.IP.String(), fb.Port))

	cli := dialTunnel(t, addr)
	sa := silent.Addr().(*net.TCPAddr)
	req := buildReq(t, 0x01, sa.IP.String(), sa.Port, []byte("hello"))
	if err := wsutil.WriteClientBinary(cli, req); err != nil {
		t.FailNow()
	}

	bs, err := wsutil.ReadServerBinary(cli)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if !bytes.Equal(bs, []byte{0x00, 0x00, 'r', 'e', 'c', 'o', 'v', 'e', 'r', 'e', 'd'}) {
		t.Log("bad response", bs)
		t.FailNow()
	}
}

// 客户端关闭入站连接后, 出站socket必须随之关闭, 不能等上游
func TestInboundCloseClosesOutbound(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.FailNow()
	}
	t.Cleanup(func() { listener.Close() })

	upClosed := make(chan struct{})
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		bs := make([]byte, 1500)
		n, err := conn.Read(bs)
		if err != nil || string(bs[:n]) != "ping" {
			t.Fail()
			conn.Close()
			return
		}
		conn.Write([]byte("pong"))

		//上游自己不关, 等着对端关闭
		for {
			if _, err := conn.Read(bs); err != nil {
				close(upClosed)
				return
			}
		}
	}()

	ua := listener.Addr().(*net.TCPAddr)
	_, addr := startServer(t, "")

	cli := dialTunnel(t, addr)
	req := buildReq(t, 0x01, ua.IP.String(), ua.Port, []byte("ping"))
	if err := wsutil.WriteClientBinary(cli, req); err != nil {
		t.FailNow()
	}
	if _, err := wsutil.ReadServerBinary(cli); err != nil {
		t.FailNow()
	}

	cli.Close()

	select {
	case <-upClosed:
	case <-time.After(3 * time.Second):
		t.Log("outbound socket still open after inbound closed")
		t.FailNow()
	}
}

// 首次拨号直接失败时 同样只重试一次, 回退目标收到重放的首段数据
func TestRetryOnConnectFailure(t *testing.T) {
	//拿一个已关闭的端口当作拨不通的目标
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.FailNow()
	}
	da := dead.Addr().(*net.TCPAddr)
	dead.Close()

	fb := startUpstream(t, "hello", "recovered")
	_, addr := startServer(t, fmt.Sprintf("fallback_ip = %q\nfallback_port = %d", fb.IP.String(), fb.Port))

	cli := dialTunnel(t, addr)
	req := buildReq(t, 0x01, da.IP.String(), da.Port, []byte("hello"))
	if err := wsutil.WriteClientBinary(cli, req); err != nil {
		t.FailNow()
	}

	bs, err := wsutil.ReadServerBinary(cli)
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if !bytes.Equal(bs, []byte{0x00, 0x00, 'r', 'e', 'c', 'o', 'v', 'e', 'r', 'e', 'd'}) {
		t.Log("bad response", bs)
		t.FailNow()
	}
}

func TestRelayUDPDNS(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.FailNow()
	}
	t.Cleanup(func() { pc.Close() })
	go func() {
		bs := make([]byte, 1500)
		for {
			n, from, err := pc.ReadFrom(bs)
			if err != nil {
				return
			}
			pc.WriteTo(append([]byte("R:"), bs[:n]...), from)
		}
	}()

	_, addr := startServer(t, fmt.Sprintf("dns_resolver = %q", pc.LocalAddr().String()))

	//两个framed查询打包在首帧里
	payload := []byte{0x00, 0x02, 'h', 'i', 0x00, 0x03, 'b', 'y', 'e'}
	cli := dialTunnel(t, addr)
	req := buildReq(t, 0x02, "8.8.8.8", 53, payload)
	if err := wsutil.WriteClientBinary(cli, req); err != nil {
		t.FailNow()
	}

	//回复可能分到多帧, 顺序不定; 收齐 响应头+两条framed回复 为止
	var acc []byte
	const wantLen = 2 + (2 + 4) + (2 + 5) // {0,0} + framed "R:hi" + framed "R:bye"
	for len(acc) < wantLen {
		bs, err := wsutil.ReadServerBinary(cli)
		if err != nil {
			t.Log("read", err, acc)
			t.FailNow()
		}
		acc = append(acc, bs...)
	}

	if acc[0] != 0x00 || acc[1] != 0x00 {
		t.Log("missing response header", acc)
		t.FailNow()
	}

	got := map[string]bool{}
	rest := acc[2:]
	for len(rest) >= 2 {
		l := int(binary.BigEndian.Uint16(rest))
		if len(rest) < 2+l {
			t.Log("truncated reply frame", rest)
			t.FailNow()
		}
		got[string(rest[2:2+l])] = true
		rest = rest[2+l:]
	}
	if !got["R:hi"] || !got["R:bye"] {
		t.Log("bad replies", got)
		t.FailNow()
	}
}

// udp指令的端口不是53时, 连接直接关闭, 不回任何字节
func TestRelayUDPRejectsNonDNSPort(t *testing.T) {
	_, addr := startServer(t, "")

	cli := dialTunnel(t, addr)
	req := buildReq(t, 0x02, "8.8.8.8", 54, nil)
	if err := wsutil.WriteClientBinary(cli, req); err != nil {
		t.FailNow()
	}

	if bs, err := wsutil.ReadServerBinary(cli); err == nil {
		t.Log("expect close, got data", bs)
		t.FailNow()
	}
}
