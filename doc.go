/*
Package ws_tunnel_simple 实现一个基于 websocket 的隧道服务端.

客户端与服务端以 websocket 二进制帧承载一个简单的隧道协议: 首帧以
版本号+uuid+指令+目标地址 开头, 认证通过后服务端代为连接目标并双向转发.
udp指令目前只用于dns查询的转发.

详见各子包: tunnel 负责请求头的解析与认证, ws 负责websocket传输层
(含earlydata), outbound 负责出站连接与一次性重试回退, udprelay 负责
dns数据包的流内转发, config 负责toml配置.
*/
package ws_tunnel_simple

var Version = "v1.0.0"
