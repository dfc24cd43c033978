package tunnel

import (
	"io"

	"github.com/e1732a364fed/ws_tunnel_simple/netLayer"
	"github.com/e1732a364fed/ws_tunnel_simple/utils"
)

// Request 是从首个入站帧解析出的隧道请求. 创建后不可变.
type Request struct {
	Version byte
	UserID  [16]byte
	Cmd     byte
	Port    int
	Atyp    byte
	Address string

	// RawHeader 是 首帧中 [0, PayloadOffset) 的数据头部分
	RawHeader     []byte
	PayloadOffset int

	// FirstPayload 是已缓冲数据中 头部之后的部分, 即客户端携带的第一段数据,
	// 不能被丢弃
	FirstPayload []byte
}

func (r *Request) TargetAddr() netLayer.Addr {
	a := netLayer.NewAddr(r.Address, r.Port)
	if r.Cmd == CmdUDP {
		a.Network = "udp"
	} else {
		a.Network = "tcp"
	}
	return a
}

// ParseRequest 从 underlay 解析隧道请求头并进行认证.
// 头部可能跨越多个帧; 字节不足时会继续Read等待, 而不是直接报错.
// 任何失败都是终局的: 调用者须直接关闭入站连接, 不得回传任何响应字节.
func ParseRequest(underlay io.Reader, users UserSet) (*Request, error) {
	if users == nil {
		return nil, utils.ErrNilParameter
	}

	p := headerParser{r: underlay}

	versionByte, err := p.byteAt(0)
	if err != nil {
		return nil, err
	}
	if versionByte != Version0 {
		return nil, utils.ErrInErr{ErrDesc: "invalid request version", ErrDetail: ErrUnsupportedVersion, Data: versionByte}
	}

	if err = p.need(17); err != nil {
		return nil, err
	}
	if !users.Has(p.buf[1:17]) {
		return nil, ErrAuthFailed
	}

	addonsLen, err := p.byteAt(17)
	if err != nil {
		return nil, err
	}
	//addons为保留的扩展字段, 内容直接跳过
	cursor := 18 + int(addonsLen)

	cmdByte, err := p.byteAt(cursor)
	if err != nil {
		return nil, err
	}
	if cmdByte != CmdTCP && cmdByte != CmdUDP {
		return nil, utils.ErrInErr{ErrDesc: "invalid command", ErrDetail: ErrUnsupportedCommand, Data: cmdByte}
	}
	cursor++

	if err = p.need(cursor + 2); err != nil {
		return nil, err
	}
	port := int(p.buf[cursor])<<8 | int(p.buf[cursor+1])
	cursor += 2

	atyp, err := p.byteAt(cursor)
	if err != nil {
		return nil, err
	}
	cursor++

	addr, consumed, err := p.decodeAddr(cursor, atyp)
	if err != nil {
		return nil, err
	}
	cursor += consumed

	req := &Request{
		Version:       versionByte,
		Cmd:           cmdByte,
		Port:          port,
		Atyp:          atyp,
		Address:       addr,
		PayloadOffset: cursor,
		RawHeader:     p.buf[:cursor],
		FirstPayload:  p.buf[cursor:],
	}
	copy(req.UserID[:], p.buf[1:17])
	return req, nil
}

// headerParser 在单一字节缓冲上推进. 缓冲的是至少一个入站帧,
// 头部不足时才继续从 r 补读.
type headerParser struct {
	r   io.Reader
	buf []byte
	eof bool
}

// need 保证缓冲中至少有 n 字节, 否则继续从 r 读取直到足够或读尽.
func (p *headerParser) need(n int) error {
	for len(p.buf) < n {
		if p.eof {
			return utils.ErrInErr{ErrDesc: "header truncated", ErrDetail: netLayer.ErrMalformedAddress, Data: n}
		}
		bs := utils.GetPacket()
		num, err := p.r.Read(bs)
		if num > 0 {
			p.buf = append(p.buf, bs[:num]...)
		}
		utils.PutPacket(bs)
		if err != nil {
			p.eof = true
		}
	}
	return nil
}

func (p *headerParser) byteAt(i int) (byte, error) {
	if err := p.need(i + 1); err != nil {
		return 0, err
	}
	return p.buf[i], nil
}

// decodeAddr 反复尝试解码, 字节不够时先补读; 读尽后依然不够才算 malformed.
func (p *headerParser) decodeAddr(offset int, atyp byte) (addr string, n int, err error) {
	for {
		if err = p.need(offset + 1); err != nil {
			return
		}
		addr, n, err = netLayer.DecodeAddr(p.buf[offset:], atyp)
		if err == nil {
			return
		}
		if !p.eof && err == netLayer.ErrMalformedAddress {
			if e := p.need(len(p.buf) + 1); e != nil {
				return "", 0, err
			}
			continue
		}
		return
	}
}
