/*
Package tunnel implements the binary tunnel request header used on the
inbound websocket stream.

The header is the vless v0 layout:

	version(1) | userID(16) | addonsLen(1) | addons(addonsLen) | command(1) | port(2, BE) | addrType(1) | addr(var) | payload(rest)

这部分过程可以参照 v2ray 的 proxy/vless/encoding/encoding.go DecodeRequestHeader 方法.
*/
package tunnel

import (
	"errors"

	"github.com/e1732a364fed/ws_tunnel_simple/utils"
)

const Version0 byte = 0

// CMD types
const (
	_ byte = iota
	CmdTCP
	CmdUDP
)

var (
	ErrAuthFailed         = errors.New("authentication failed")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrUnsupportedCommand = errors.New("unsupported command")
)

// UserSet 保存全部被接受的 16字节 id. 握手时用 Has 比较完整的16字节.
type UserSet map[[16]byte]struct{}

func NewUserSet(uuidStrs ...string) (UserSet, error) {
	s := make(UserSet, len(uuidStrs))
	for _, str := range uuidStrs {
		uuid, err := utils.StrToUUID(str)
		if err != nil {
			return nil, err
		}
		s[uuid] = struct{}{}
	}
	return s, nil
}

func (s UserSet) AddUser(uuid [16]byte) {
	s[uuid] = struct{}{}
}

func (s UserSet) Has(bs []byte) bool {
	if len(bs) != 16 {
		return false
	}
	var uuid [16]byte
	copy(uuid[:], bs)
	_, found := s[uuid]
	return found
}

// ResponseHeader 返回握手成功的确认头. 服务端回复的第一个包要带此数据头,
// 第一字节版本, 第二字节addon长度(都是0). 只能在第一个回复包的最前面出现一次.
func ResponseHeader(version byte) []byte {
	return []byte{version, 0}
}
