// Package udprelay relays DNS-style datagrams that are framed inside the
// tunnel byte stream. 每个逻辑数据包在流内的格式为 uint16长度(大端)||内容,
// 可在一个流内重复出现.
package udprelay

import (
	"io"
	"net"
	"time"

	"github.com/e1732a364fed/ws_tunnel_simple/netLayer"
	"github.com/e1732a364fed/ws_tunnel_simple/utils"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

//上游解析器多久不回复就放弃该条查询
const exchangeTimeout = time.Second * 12

// Relay 把流内的每个数据包 转发给上游解析器, 并把回复原样framed写回.
type Relay struct {
	Resolver netLayer.Addr

	// Exchange 把一个query数据包发给上游并返回单个回复数据包.
	// 为空时使用默认实现: 每条查询单独拨一个udp socket,
	// 这样回复与查询天然配对, 无需请求ID关联层.
	Exchange func(query []byte) ([]byte, error)
}

func New(resolver netLayer.Addr) *Relay {
	resolver.Network = "udp"
	r := &Relay{Resolver: resolver}
	r.Exchange = r.exchangeUDP
	return r
}

// Run 从 inbound 循环读取framed数据包, 直到流结束.
// 每条查询独立在途, 一条查询不阻塞下一条的解析; 回复按到达顺序写回 replyW,
// 不保证与查询同序. replyW 须自行保证单次Write的完整性 (本包每条回复只调一次Write).
func (r *Relay) Run(inbound io.Reader, replyW io.Writer) error {

	for {
		var lenBytes [2]byte
		if _, err := io.ReadFull(inbound, lenBytes[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		l := int(lenBytes[0])<<8 | int(lenBytes[1])

		query := make([]byte, l)
		if _, err := io.ReadFull(inbound, query); err != nil {
			return utils.ErrInErr{ErrDesc: "udp relay frame truncated", ErrDetail: err, Data: l}
		}

		if ce := utils.CanLogDebug("udp relay query"); ce != nil {
			var msg dns.Msg
			if msg.Unpack(query) == nil && len(msg.Question) > 0 {
				q := msg.Question[0]
				ce.Write(zap.String("qname", q.Name), zap.Uint16("qtype", q.Qtype))
			} else {
				ce.Write(zap.Int("len", l))
			}
		}

		//fire-and-forget, 一条查询在途时不阻塞下一条的读取
		go func() {
			reply, err := r.Exchange(query)
			if err != nil {
				if ce := utils.CanLogWarn("udp relay exchange failed"); ce != nil {
					ce.Write(zap.Error(err))
				}
				return
			}

			buf := utils.GetBuf()
			buf.WriteByte(byte(len(reply) >> 8))
			buf.WriteByte(byte(len(reply)))
			buf.Write(reply)

			if _, err := replyW.Write(buf.Bytes()); err != nil {
				if ce := utils.CanLogWarn("udp relay write back failed"); ce != nil {
					ce.Write(zap.Error(err))
				}
			}
			utils.PutBuf(buf)
		}()
	}
}

func (r *Relay) exchangeUDP(query []byte) ([]byte, error) {
	conn, err := net.DialTimeout("udp", r.Resolver.String(), exchangeTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err = conn.Write(query); err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Now().Add(exchangeTimeout))

	bs := utils.GetPacket()
	n, err := conn.Read(bs)
	if err != nil {
		utils.PutPacket(bs)
		return nil, err
	}
	reply := make([]byte, n)
	copy(reply, bs[:n])
	utils.PutPacket(bs)
	return reply, nil
}
