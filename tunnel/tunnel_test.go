package tunnel_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/e1732a364fed/ws_tunnel_simple/netLayer"
	"github.com/e1732a364fed/ws_tunnel_simple/tunnel"
	"github.com/e1732a364fed/ws_tunnel_simple/utils"
)

const testUUIDStr = "a684455c-b14f-11ea-bf0d-42010aaa0003"

func testUsers(t *testing.T) tunnel.UserSet {
	users, err := tunnel.NewUserSet(testUUIDStr)
	if err != nil {
		t.FailNow()
	}
	return users
}

func testHeader(t *testing.T) []byte {
	uuid, err := utils.StrToUUID(testUUIDStr)
	if err != nil {
		t.FailNow()
	}
	bs := []byte{0x00}
	bs = append(bs, uuid[:]...)
	bs = append(bs, 0x00)             //addons len
	bs = append(bs, 0x01)             //tcp
	bs = append(bs, 0x01, 0xBB)       //port 443
	bs = append(bs, 0x01)             //ipv4
	bs = append(bs, 0x5D, 0xB8, 0xD8, 0x22) //93.184.216.34
	return bs
}

func TestParseRequest(t *testing.T) {
	bs := testHeader(t)
	payload := []byte("GET / HTTP/1.1\r\n")
	req, err := tunnel.ParseRequest(bytes.NewReader(append(bs, payload...)), testUsers(t))
	if err != nil {
		t.Log(err)
		t.FailNow()
	}

	if req.Cmd != tunnel.CmdTCP || req.Port != 443 || req.Atyp != netLayer.AtypIP4 {
		t.Log(req.Cmd, req.Port, req.Atyp)
		t.FailNow()
	}
	if req.Address != "93.184.216.34" {
		t.Log(req.Address)
		t.FailNow()
	}
	// 1+16+1+1+2+1+4
	if req.PayloadOffset != 26 {
		t.Log("payload offset", req.PayloadOffset)
		t.FailNow()
	}
	if !bytes.Equal(req.FirstPayload, payload) {
		t.FailNow()
	}
	if !bytes.Equal(req.RawHeader, bs) {
		t.FailNow()
	}
}

//头部横跨多个帧时要继续等待, 而不是直接报错
func TestParseRequest_SplitFrames(t *testing.T) {
	bs := testHeader(t)
	bs = append(bs, []byte("hello")...)

	req, err := tunnel.ParseRequest(iotest_oneByteReader{bytes.NewReader(bs)}, testUsers(t))
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if req.Address != "93.184.216.34" || req.Port != 443 {
		t.FailNow()
	}
}

type iotest_oneByteReader struct{ r io.Reader }

func (o iotest_oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

func TestParseRequest_AuthFailed(t *testing.T) {
	bs := testHeader(t)
	bs[5] ^= 0xff //毁掉uuid中一个字节

	_, err := tunnel.ParseRequest(bytes.NewReader(bs), testUsers(t))
	if !errors.Is(err, tunnel.ErrAuthFailed) {
		t.Log(err)
		t.FailNow()
	}
}

func TestParseRequest_BadVersion(t *testing.T) {
	bs := testHeader(t)
	bs[0] = 9
	_, err := tunnel.ParseRequest(bytes.NewReader(bs), testUsers(t))
	if !errors.Is(err, tunnel.ErrUnsupportedVersion) {
		t.FailNow()
	}
}

func TestParseRequest_BadCommand(t *testing.T) {
	bs := testHeader(t)
	bs[18] = 7
	_, err := tunnel.ParseRequest(bytes.NewReader(bs), testUsers(t))
	if !errors.Is(err, tunnel.ErrUnsupportedCommand) {
		t.FailNow()
	}
}

//域名长度字节声称 L 字节, 但流读尽后剩余不足 L, 必须是 malformed
func TestParseRequest_TruncatedDomain(t *testing.T) {
	uuid, _ := utils.StrToUUID(testUUIDStr)
	bs := []byte{0x00}
	bs = append(bs, uuid[:]...)
	bs = append(bs, 0x00, 0x01, 0x01, 0xBB, 0x02)
	bs = append(bs, 20) //声称20字节的域名
	bs = append(bs, []byte("short.io")...)

	_, err := tunnel.ParseRequest(bytes.NewReader(bs), testUsers(t))
	if !errors.Is(err, netLayer.ErrMalformedAddress) {
		t.Log(err)
		t.FailNow()
	}
}

func TestParseRequest_DomainRoundTrip(t *testing.T) {
	uuid, _ := utils.StrToUUID(testUUIDStr)

	encoded, err := netLayer.EncodeAddr("www.example.com", netLayer.AtypDomain)
	if err != nil {
		t.FailNow()
	}

	bs := []byte{0x00}
	bs = append(bs, uuid[:]...)
	bs = append(bs, 0x00, 0x02, 0x00, 0x35, 0x02) //udp, port 53
	bs = append(bs, encoded...)

	req, err := tunnel.ParseRequest(bytes.NewReader(bs), testUsers(t))
	if err != nil {
		t.Log(err)
		t.FailNow()
	}
	if req.Cmd != tunnel.CmdUDP || req.Port != 53 || req.Address != "www.example.com" {
		t.FailNow()
	}

	ta := req.TargetAddr()
	if ta.Network != "udp" || ta.String() != "www.example.com:53" {
		t.Log(ta.String())
		t.FailNow()
	}
}
