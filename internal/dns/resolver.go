// Package dns 提供 MX 记录解析的能力抽象。
//
// 生产实现基于 miekg/dns 查询系统解析器，测试使用固定记录的
// Static 实现，两者通过同一个 Resolver 接口注入。
package dns

import (
	"context"
	"sort"
	"strings"
	"time"

	mdns "github.com/miekg/dns"

	"vaultmail/maild/internal/domain"
)

// Resolver 解析域名的 MX 记录。
type Resolver interface {
	// LookupMX 返回按优先级排序的 MX 主机名列表。
	// 解析失败时返回 KindMail 错误。
	LookupMX(ctx context.Context, domainName string) ([]string, error)
}

// MXResolver 是基于 miekg/dns 的生产实现。
type MXResolver struct {
	client      *mdns.Client
	nameservers []string
}

// NewMXResolver 创建 MX 解析器。
//
// nameservers 为空时读取 /etc/resolv.conf，读取失败则回退到公共 DNS。
func NewMXResolver(nameservers []string, timeout time.Duration) *MXResolver {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if len(nameservers) == 0 {
		nameservers = systemNameservers()
	}
	return &MXResolver{
		client:      &mdns.Client{Timeout: timeout},
		nameservers: nameservers,
	}
}

// LookupMX 实现 Resolver。
func (r *MXResolver) LookupMX(ctx context.Context, domainName string) ([]string, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(domainName), mdns.TypeMX)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.nameservers {
		select {
		case <-ctx.Done():
			return nil, domain.WrapMail("mx lookup canceled", ctx.Err())
		default:
		}

		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != mdns.RcodeSuccess {
			lastErr = domain.Mailf("mx lookup for %s returned rcode %d", domainName, resp.Rcode)
			continue
		}

		type mxRecord struct {
			host string
			pref uint16
		}
		records := make([]mxRecord, 0, len(resp.Answer))
		for _, answer := range resp.Answer {
			if mx, ok := answer.(*mdns.MX); ok {
				records = append(records, mxRecord{host: strings.TrimSuffix(mx.Mx, "."), pref: mx.Preference})
			}
		}
		if len(records) == 0 {
			return nil, domain.Mailf("no MX records for %s", domainName)
		}

		sort.Slice(records, func(i, j int) bool { return records[i].pref < records[j].pref })
		hosts := make([]string, len(records))
		for i, rec := range records {
			hosts[i] = rec.host
		}
		return hosts, nil
	}

	return nil, domain.WrapMail("mx lookup failed for "+domainName, lastErr)
}

// systemNameservers 从 resolv.conf 读取系统 DNS 服务器。
func systemNameservers() []string {
	config, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		if !strings.Contains(s, ":") {
			s += ":53"
		}
		servers = append(servers, s)
	}
	return servers
}
