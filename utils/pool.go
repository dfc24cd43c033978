package utils

import (
	"bytes"
	"sync"
)

//即MTU, Maximum transmission unit, 参照的是 Ethernet v2 的MTU
const StandardBytesLength int = 1500

//本作设定的最大buf大小, 64k. udp包最大还不到64k(65535-20-8), io.Copy 内部默认是32k,
// 总之我们64k已经够了
const MaxBufLen = 64 * 1024

var (
	standardBytesPool sync.Pool //专门储存 长度为 StandardBytesLength 的 []byte

	standardPacketPool sync.Pool //专门储存 长度为 MaxBufLen 的 []byte

	bufPool sync.Pool //储存 *bytes.Buffer
)

func init() {
	standardBytesPool = sync.Pool{
		New: func() any {
			return make([]byte, StandardBytesLength)
		},
	}

	standardPacketPool = sync.Pool{
		New: func() any {
			return make([]byte, MaxBufLen)
		},
	}

	bufPool = sync.Pool{
		New: func() any {
			return &bytes.Buffer{}
		},
	}
}

//从Pool中获取一个 *bytes.Buffer
func GetBuf() *bytes.Buffer {
	return bufPool.Get().(*bytes.Buffer)
}

//将 buf 放回 Pool
func PutBuf(buf *bytes.Buffer) {
	buf.Reset()
	bufPool.Put(buf)
}

//建议在 Read net.Conn 时, 使用 GetPacket函数 获取到足够大的 []byte（MaxBufLen）
func GetPacket() []byte {
	return standardPacketPool.Get().([]byte)
}

// 放回用 GetPacket 获取的 []byte
func PutPacket(bs []byte) {
	c := cap(bs)
	if c < MaxBufLen {
		if c >= StandardBytesLength {
			standardBytesPool.Put(bs[:StandardBytesLength])
		}
		return
	}

	standardPacketPool.Put(bs[:MaxBufLen])
}

// 从pool中获取 []byte, 根据给出长度不同，来源于的Pool会不同.
func GetBytes(size int) []byte {
	if size <= StandardBytesLength {
		bs := standardBytesPool.Get().([]byte)
		return bs[:size]
	}

	return GetPacket()[:size]
}

// 根据bs长度 选择放入各种pool中, 只有 cap(bs)>=1500 才会被处理
func PutBytes(bs []byte) {
	c := cap(bs)
	if c < StandardBytesLength {
		return
	} else if c < MaxBufLen {
		standardBytesPool.Put(bs[:StandardBytesLength])
	} else {
		standardPacketPool.Put(bs[:MaxBufLen])
	}
}
