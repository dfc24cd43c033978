/*
Package ws wraps a server-side websocket connection into a net.Conn carrying
binary tunnel data, with 0-rtt early data support.

# Reference

websocket rfc: https://datatracker.ietf.org/doc/html/rfc6455/

xray和v2ray中，使用了 header中的 Sec-WebSocket-Protocol 字段来传输 earlydata,
来实现 0-rtt; 我们为了兼容同样用此字段. (websocket标准是没有定义 0-rtt 的方法的,
但是ws的握手包头部是可以自定义header的.)

All in all gobwas/ws is the best package. We use gobwas/ws.
gobwas包只支持http1.1, 所以如果使用nginx前置，确保 proxy_http_version 1.1;
*/
package ws

import "errors"

//为了避免黑客攻击,我们固定earlydata最大值为2048
const MaxEarlyDataLen = 2048

// 2048 /3 = 682.6666...  (682 又 三分之二), 683 * 4 = 2732
const MaxEarlyDataLen_Base64 = 2732

var (
	ErrEarlyDataDecode  = errors.New("early data decode failed")
	ErrTransportNotOpen = errors.New("transport not open")
)
