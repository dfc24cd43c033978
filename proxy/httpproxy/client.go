// Package httpproxy implements the client side of the HTTP CONNECT handshake,
// used when the tunnel routes outbound traffic through an http upstream.
package httpproxy

import (
	"bytes"
	"encoding/base64"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/e1732a364fed/ws_tunnel_simple/netLayer"
	"github.com/e1732a364fed/ws_tunnel_simple/proxy"
	"github.com/e1732a364fed/ws_tunnel_simple/utils"
)

const headerEnd = "\r\n\r\n"

// Handshake 在已经打开的 underlay 上执行 HTTP CONNECT.
// 与 socks5/直连不同, 本路径在 CONNECT 成功后自行写入 firstPayload.
// 响应不保证一次Read读全, 会持续累积到空行结束; 空行之后多读到的字节
// 已经属于隧道数据, 不能丢弃, 会在返回的连接中先被读出.
func Handshake(underlay net.Conn, target netLayer.Addr, creds proxy.Creds, firstPayload []byte) (net.Conn, error) {

	if underlay == nil {
		panic("httpproxy client handshake, nil underlay is not allowed")
	}

	hostPort := target.String()

	buf := utils.GetBuf()
	buf.WriteString("CONNECT ")
	buf.WriteString(hostPort)
	buf.WriteString(" HTTP/1.1\r\nHost: ")
	buf.WriteString(hostPort)
	buf.WriteString("\r\n")
	if creds.IsSet() {
		buf.WriteString("Proxy-Authorization: Basic ")
		buf.WriteString(base64.StdEncoding.EncodeToString([]byte(creds.User + ":" + creds.Pass)))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")

	_, err := underlay.Write(buf.Bytes())
	utils.PutBuf(buf)
	if err != nil {
		return nil, err
	}

	response, trailing, err := readResponse(underlay)
	if err != nil {
		return nil, err
	}

	if err = checkStatusLine(response); err != nil {
		return nil, err
	}

	if len(firstPayload) > 0 {
		if _, err = underlay.Write(firstPayload); err != nil {
			return nil, err
		}
	}

	if len(trailing) == 0 {
		return underlay, nil
	}
	return &trailConn{
		Conn:           underlay,
		optionalReader: io.MultiReader(bytes.NewReader(trailing), underlay),
	}, nil
}

// 累积读取直到 CRLFCRLF; 返回头部部分 和 空行之后的剩余字节
func readResponse(underlay net.Conn) (response, trailing []byte, err error) {
	var acc []byte
	bs := utils.GetPacket()
	defer utils.PutPacket(bs)

	for {
		var n int
		n, err = underlay.Read(bs)
		if n > 0 {
			acc = append(acc, bs[:n]...)
			if i := bytes.Index(acc, []byte(headerEnd)); i >= 0 {
				return acc[:i], acc[i+len(headerEnd):], nil
			}
		}
		if err != nil {
			return nil, nil, utils.ErrInErr{ErrDesc: "http proxy response truncated", ErrDetail: err}
		}
		if len(acc) > utils.MaxBufLen {
			return nil, nil, utils.ErrInErr{ErrDesc: "http proxy response header too large", ErrDetail: proxy.ErrProxyConnectFailed}
		}
	}
}

// 只接受 2xx
func checkStatusLine(response []byte) error {
	line := string(response)
	if i := strings.Index(line, "\r\n"); i >= 0 {
		line = line[:i]
	}

	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return utils.ErrInErr{ErrDesc: "http proxy bad status line", ErrDetail: proxy.ErrProxyConnectFailed, Data: line}
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 200 || code > 299 {
		return utils.ErrInErr{ErrDesc: "http proxy connect rejected", ErrDetail: proxy.ErrProxyConnectFailed, Data: fields[1]}
	}
	return nil
}

// trailConn 在使用了缓存读取握手响应后, 就产生了buffer中有剩余数据的可能性,
// 此时就要使用 MultiReader
type trailConn struct {
	net.Conn
	optionalReader io.Reader
}

func (c *trailConn) Read(p []byte) (int, error) {
	return c.optionalReader.Read(p)
}
