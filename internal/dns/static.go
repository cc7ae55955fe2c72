package dns

import (
	"context"

	"vaultmail/maild/internal/domain"
)

// Static 是返回固定 MX 记录的测试实现。
type Static struct {
	// Records 按域名映射到 MX 主机列表；域名不在表中时返回错误。
	Records map[string][]string
	// Err 不为 nil 时所有查询直接失败，用于模拟解析故障。
	Err error
}

// LookupMX 实现 Resolver。
func (s *Static) LookupMX(_ context.Context, domainName string) ([]string, error) {
	if s.Err != nil {
		return nil, domain.WrapMail("mx lookup failed for "+domainName, s.Err)
	}
	hosts, ok := s.Records[domainName]
	if !ok {
		return nil, domain.Mailf("no MX records for %s", domainName)
	}
	return hosts, nil
}
