package policy

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlocklist(t *testing.T) {
	t.Run("网段内的IP被拦截", func(t *testing.T) {
		bl, err := NewBlocklist([]string{"10.0.0.0/8", "192.168.0.0/16"})
		require.NoError(t, err)

		assert.True(t, bl.Contains(netip.MustParseAddr("10.0.0.1")))
		assert.True(t, bl.Contains(netip.MustParseAddr("10.255.255.254")))
		assert.True(t, bl.Contains(netip.MustParseAddr("192.168.1.1")))
	})

	t.Run("网段外的IP放行", func(t *testing.T) {
		bl, err := NewBlocklist([]string{"10.0.0.0/8"})
		require.NoError(t, err)

		assert.False(t, bl.Contains(netip.MustParseAddr("11.0.0.1")))
		assert.False(t, bl.Contains(netip.MustParseAddr("192.0.2.1")))
	})

	t.Run("IPv4映射的IPv6地址同样被拦截", func(t *testing.T) {
		bl, err := NewBlocklist([]string{"10.0.0.0/8"})
		require.NoError(t, err)

		assert.True(t, bl.Contains(netip.MustParseAddr("::ffff:10.0.0.1")))
	})

	t.Run("空黑名单放行一切", func(t *testing.T) {
		bl, err := NewBlocklist(nil)
		require.NoError(t, err)

		assert.False(t, bl.Contains(netip.MustParseAddr("10.0.0.1")))
		assert.Equal(t, 0, bl.Len())
	})

	t.Run("非法CIDR返回错误", func(t *testing.T) {
		_, err := NewBlocklist([]string{"not-a-cidr"})
		assert.Error(t, err)
	})
}
