// Package policy 维护 SMTP 准入控制的三块共享状态：
// CIDR 黑名单、按 IP 限流器和灰名单缓存。
//
// 灰名单和限流器是唯一的跨连接可变状态，都按 key 分片加锁，
// 不相关的连接之间不会互相串行化。
package policy

import (
	"net/netip"
)

// Blocklist 是进程生命周期内不可变的 CIDR 黑名单。
type Blocklist struct {
	networks []netip.Prefix
}

// NewBlocklist 解析 CIDR 列表构建黑名单。
//
// 无法解析的条目返回错误，宁可启动失败也不要静默放行。
func NewBlocklist(cidrs []string) (*Blocklist, error) {
	networks := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, err
		}
		networks = append(networks, prefix.Masked())
	}
	return &Blocklist{networks: networks}, nil
}

// Contains 判断 IP 是否落在任一黑名单网段内。
//
// 纯查询，无副作用，O(网段数)。
func (b *Blocklist) Contains(ip netip.Addr) bool {
	for _, network := range b.networks {
		if network.Contains(ip.Unmap()) {
			return true
		}
	}
	return false
}

// Len 返回黑名单网段数量。
func (b *Blocklist) Len() int {
	return len(b.networks)
}
