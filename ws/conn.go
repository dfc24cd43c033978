package ws

import (
	"io"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/e1732a364fed/ws_tunnel_simple/utils"
	"go.uber.org/atomic"
)

// 实现 net.Conn.
// 因为 gobwas/ws 不包装conn，在写入和读取二进制时需要使用较为底层的函数才行,
// 并未被提供标准的Read和Write。因此我们包装一下，统一使用Read和Write函数
// 来读写二进制数据。
//
// Conn 同时也是隧道会话的入站字节序列: 每个入站二进制帧产出一段数据,
// earlydata 若存在则在任何帧之前先被产出; Close 后序列即耗尽,
// 缓冲中的数据也不再交付.
type Conn struct {
	net.Conn

	state ws.State
	r     *wsutil.Reader

	remainLenForLastFrame int64

	serverEndGotEarlyData []byte

	closed *atomic.Bool
}

// Read websocket binary frames
func (c *Conn) Read(p []byte) (int, error) {

	if c.closed.Load() {
		return 0, io.EOF
	}

	if len(c.serverEndGotEarlyData) > 0 {
		n := copy(p, c.serverEndGotEarlyData)
		c.serverEndGotEarlyData = c.serverEndGotEarlyData[n:]
		return n, nil
	}

	//websocket 协议中帧长度上限为2^64，超大; 而我们的标准Packet缓存是64k.
	// 肯定会有多读的情况，此时如果一次用 wsutil.ReadClientBinary 的话,
	// 内部的 io.ReadAll 会无限增长内存, 不可能如此实现.
	// 所以我们肯定要分段读，直接用 wsutil.Reader.Read 即可,
	// 注意每个帧的第一个Read前必须要有 NextFrame 调用.

	if c.remainLenForLastFrame > 0 {

		n, e := c.r.Read(p)

		if e != nil && e != io.EOF {
			return n, e
		}
		c.remainLenForLastFrame -= int64(n)
		// 这里之所以可以放心减去 n, 是因为 wsutil.Reader 在读取一帧时
		// 用到了 io.LimitedReader, 一帧的读取长度的上限已被限定
		return n, nil
	}

	h, e := c.r.NextFrame()
	if e != nil {
		return 0, e
	}
	if h.OpCode.IsControl() {
		// 控制帧已经在我们的 OnIntermediate 里被处理了, 直接读取下一个数据即可
		return c.Read(p)
	}

	// 读取分片数据时会遇到 OpContinuation, 不能当成错误
	if h.OpCode != ws.OpBinary && h.OpCode != ws.OpContinuation {
		//我们的隧道只传输二进制格式
		return 0, utils.ErrInErr{ErrDesc: "ws OpCode not OpBinary/OpContinuation", Data: h.OpCode}
	}

	c.remainLenForLastFrame = h.Length

	// wsutil.Reader.Read 在非分片时会把 io.LimitedReader 的正常EOF传递到这里,
	// 这是 gobwas/ws 包的一种特性, 需要自行筛掉

	n, e := c.r.Read(p)

	c.remainLenForLastFrame -= int64(n)

	if e != nil && e != io.EOF {
		return n, e
	}
	return n, nil
}

// Write websocket binary frames.
// 连接已关闭时写入会返回 ErrTransportNotOpen.
func (c *Conn) Write(p []byte) (n int, e error) {

	if c.closed.Load() {
		return 0, ErrTransportNotOpen
	}

	//查看了代码，wsutil.WriteServerBinary 会直接调用 ws.WriteFrame, 是不分片的.
	// 不分片的效率更高, 因为无需缓存, zero copy. 服务端无需掩码处理.
	e = wsutil.WriteServerBinary(c.Conn, p)

	if e == nil {
		n = len(p)
	}
	return
}

// Close 关闭底层连接并使入站序列耗尽. 重复调用与调用一次的可观察效果相同.
func (c *Conn) Close() error {
	if !c.closed.CAS(false, true) {
		return nil
	}
	return c.Conn.Close()
}
