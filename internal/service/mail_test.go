package service

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vaultmail/maild/internal/crypto"
	"vaultmail/maild/internal/dns"
	"vaultmail/maild/internal/domain"
	"vaultmail/maild/internal/storage/memory"
)

const testMessage = "From: sender@example.com\r\n" +
	"To: abc123@vault.mail\r\n" +
	"Subject: Test Email\r\n" +
	"\r\n" +
	"This is a test email.\r\n"

type testEnv struct {
	service *MailService
	store   *memory.Store
	pubKey  string
	privKey string
}

func setupTestService(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	cfg := Config{
		Domain:           "vault.mail",
		BlockedNetworks:  []string{"10.0.0.0/8"},
		MaxEmailSize:     1024 * 1024,
		RateLimitPerHour: 100,
		GreylistDelay:    50 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	store := memory.NewStore()
	resolver := &dns.Static{Records: map[string][]string{
		"vault.mail": {"mx.vault.mail"},
	}}

	svc, err := NewMailService(store, resolver, cfg, zap.NewNop(), nil)
	require.NoError(t, err)

	expiresIn := int64(3600)
	require.NoError(t, store.SaveMailbox(&domain.Mailbox{
		ID:            "mb-1",
		Alias:         "abc123",
		Name:          "test mailbox",
		PublicKey:     pub,
		OwnerID:       "owner-1",
		CreatedAt:     time.Now(),
		MailExpiresIn: expiresIn,
	}))

	return &testEnv{service: svc, store: store, pubKey: pub, privKey: priv}
}

func TestProcessIncomingEmailBasicFlow(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	before := time.Now()
	err := env.service.ProcessIncomingEmail(
		ctx,
		[]byte(testMessage),
		"abc123@vault.mail",
		"sender@example.com",
		netip.MustParseAddr("192.0.2.1"),
	)
	require.NoError(t, err)

	emails, err := env.service.GetMailboxEmails(ctx, "mb-1")
	require.NoError(t, err)
	require.Len(t, emails, 1)

	t.Run("解密后内容与原文一致", func(t *testing.T) {
		decrypted, err := crypto.DecryptEmail(emails[0].EncryptedContent, env.privKey)
		require.NoError(t, err)
		assert.Equal(t, []byte(testMessage), decrypted)
	})

	t.Run("明文绝不落库", func(t *testing.T) {
		assert.NotContains(t, emails[0].EncryptedContent, "This is a test email")
	})

	t.Run("过期时间等于收件时间加TTL", func(t *testing.T) {
		require.NotNil(t, emails[0].ExpiresAt)
		expected := emails[0].ReceivedAt.Add(time.Hour)
		assert.WithinDuration(t, expected, *emails[0].ExpiresAt, time.Second)
		assert.True(t, emails[0].ReceivedAt.After(before.Add(-time.Second)))
	})
}

func TestProcessIncomingEmailMailboxNotFound(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	err := env.service.ProcessIncomingEmail(
		ctx,
		[]byte(testMessage),
		"nobody@vault.mail",
		"sender@example.com",
		netip.MustParseAddr("192.0.2.1"),
	)

	require.Error(t, err)
	assert.Equal(t, domain.KindMail, domain.KindOf(err))
	assert.Contains(t, err.Error(), "mailbox not found")

	emails, err := env.service.GetMailboxEmails(ctx, "mb-1")
	require.NoError(t, err)
	assert.Empty(t, emails)
}

func TestProcessIncomingEmailMalformed(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()
	ip := netip.MustParseAddr("192.0.2.1")

	t.Run("畸形收件地址", func(t *testing.T) {
		err := env.service.ProcessIncomingEmail(ctx, []byte(testMessage), "no-at-sign", "sender@example.com", ip)
		require.Error(t, err)
		assert.Equal(t, domain.KindMail, domain.KindOf(err))
	})

	t.Run("无法解析的报文", func(t *testing.T) {
		err := env.service.ProcessIncomingEmail(ctx, []byte("\x00\x01 not a message"), "abc123@vault.mail", "sender@example.com", ip)
		require.Error(t, err)
		assert.Equal(t, domain.KindMail, domain.KindOf(err))
	})

	t.Run("非法公钥返回Mail错误而不是panic", func(t *testing.T) {
		require.NoError(t, env.store.SaveMailbox(&domain.Mailbox{
			ID: "mb-bad", Alias: "badkey", PublicKey: "not-a-key", CreatedAt: time.Now(),
		}))

		err := env.service.ProcessIncomingEmail(ctx, []byte(testMessage), "badkey@vault.mail", "sender@example.com", ip)
		require.Error(t, err)
		assert.Equal(t, domain.KindMail, domain.KindOf(err))
	})
}

func TestGreylisting(t *testing.T) {
	env := setupTestService(t, func(cfg *Config) {
		cfg.EnableGreylisting = true
	})
	ctx := context.Background()
	ip := netip.MustParseAddr("192.0.2.1")

	process := func() error {
		return env.service.ProcessIncomingEmail(ctx, []byte(testMessage), "abc123@vault.mail", "sender@example.com", ip)
	}

	t.Run("首次投递被延迟", func(t *testing.T) {
		err := process()
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrGreylisted)
	})

	t.Run("窗口内重试仍被延迟", func(t *testing.T) {
		err := process()
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrGreylisted)
	})

	t.Run("窗口过后放行", func(t *testing.T) {
		time.Sleep(60 * time.Millisecond)
		require.NoError(t, process())

		emails, err := env.service.GetMailboxEmails(ctx, "mb-1")
		require.NoError(t, err)
		assert.Len(t, emails, 1)
	})

	t.Run("放行后同三元组重新走首见流程", func(t *testing.T) {
		err := process()
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrGreylisted)
	})
}

func TestIPBlocking(t *testing.T) {
	env := setupTestService(t, nil)

	assert.True(t, env.service.IsIPBlocked(netip.MustParseAddr("10.0.0.1")))
	assert.False(t, env.service.IsIPBlocked(netip.MustParseAddr("192.0.2.1")))
}

func TestRateLimitQuota(t *testing.T) {
	env := setupTestService(t, nil)
	ip := netip.MustParseAddr("192.0.2.77")

	// 配额 100/小时：前 100 次放行，101-150 次拒绝
	for i := 0; i < 100; i++ {
		assert.True(t, env.service.CheckRateLimit(ip), "call %d", i+1)
	}
	for i := 100; i < 150; i++ {
		assert.False(t, env.service.CheckRateLimit(ip), "call %d", i+1)
	}
}

func TestRateLimitBlocksDelivery(t *testing.T) {
	env := setupTestService(t, func(cfg *Config) {
		cfg.RateLimitPerHour = 1
	})
	ctx := context.Background()
	ip := netip.MustParseAddr("192.0.2.5")

	require.NoError(t, env.service.ProcessIncomingEmail(ctx, []byte(testMessage), "abc123@vault.mail", "sender@example.com", ip))

	err := env.service.ProcessIncomingEmail(ctx, []byte(testMessage), "abc123@vault.mail", "sender@example.com", ip)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestRecipientMXValidation(t *testing.T) {
	t.Run("MX解析失败时拒收", func(t *testing.T) {
		env := setupTestService(t, func(cfg *Config) {
			cfg.ValidateRecipientMX = true
		})
		ctx := context.Background()

		err := env.service.ProcessIncomingEmail(
			ctx,
			[]byte(testMessage),
			"abc123@unresolvable.example",
			"sender@example.com",
			netip.MustParseAddr("192.0.2.1"),
		)
		require.Error(t, err)
		assert.Equal(t, domain.KindMail, domain.KindOf(err))
	})

	t.Run("MX存在时正常投递", func(t *testing.T) {
		env := setupTestService(t, func(cfg *Config) {
			cfg.ValidateRecipientMX = true
		})
		ctx := context.Background()

		require.NoError(t, env.service.ProcessIncomingEmail(
			ctx,
			[]byte(testMessage),
			"abc123@vault.mail",
			"sender@example.com",
			netip.MustParseAddr("192.0.2.1"),
		))
	})
}

func TestSPFAndDKIMHooksPass(t *testing.T) {
	// 挂载点当前恒放行，开启开关不得影响正常投递
	env := setupTestService(t, func(cfg *Config) {
		cfg.EnableSPF = true
		cfg.EnableDKIM = true
	})
	ctx := context.Background()

	require.NoError(t, env.service.ProcessIncomingEmail(
		ctx,
		[]byte(testMessage),
		"abc123@vault.mail",
		"sender@example.com",
		netip.MustParseAddr("192.0.2.1"),
	))
}

func TestCleanupExpired(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	require.NoError(t, env.store.SaveEmail(ctx, &domain.Email{
		ID: "em-old", MailboxID: "mb-1", ReceivedAt: past.Add(-time.Hour), ExpiresAt: &past,
	}))
	require.NoError(t, env.store.SaveEmail(ctx, &domain.Email{
		ID: "em-new", MailboxID: "mb-1", ReceivedAt: past, ExpiresAt: &future,
	}))

	require.NoError(t, env.service.CleanupExpired(ctx))

	emails, err := env.service.GetMailboxEmails(ctx, "mb-1")
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "em-new", emails[0].ID)
}

func TestInvalidBlocklistConfig(t *testing.T) {
	_, err := NewMailService(
		memory.NewStore(),
		&dns.Static{},
		Config{BlockedNetworks: []string{"bogus"}, RateLimitPerHour: 100},
		zap.NewNop(),
		nil,
	)
	require.Error(t, err)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
}

func TestProcessConcurrent(t *testing.T) {
	env := setupTestService(t, func(cfg *Config) {
		cfg.RateLimitPerHour = 10000
	})
	ctx := context.Background()

	done := make(chan error, 64)
	for i := 0; i < 64; i++ {
		go func(n int) {
			ip := netip.AddrFrom4([4]byte{192, 0, 2, byte(n%250 + 1)})
			done <- env.service.ProcessIncomingEmail(ctx, []byte(testMessage), "abc123@vault.mail", "sender@example.com", ip)
		}(i)
	}
	for i := 0; i < 64; i++ {
		require.NoError(t, <-done)
	}

	emails, err := env.service.GetMailboxEmails(ctx, "mb-1")
	require.NoError(t, err)
	assert.Len(t, emails, 64)
}

func TestStoreFailurePropagatesAsDatabase(t *testing.T) {
	env := setupTestService(t, nil)
	ctx := context.Background()

	// 邮箱存在但保存目标被删掉，SaveEmail 返回 Database 错误
	failing := &failingStore{Store: env.store}
	svc, err := NewMailService(failing, &dns.Static{}, Config{
		Domain: "vault.mail", RateLimitPerHour: 100,
	}, zap.NewNop(), nil)
	require.NoError(t, err)

	err = svc.ProcessIncomingEmail(ctx, []byte(testMessage), "abc123@vault.mail", "sender@example.com", netip.MustParseAddr("192.0.2.1"))
	require.Error(t, err)
	assert.Equal(t, domain.KindDatabase, domain.KindOf(err))
}

type failingStore struct {
	*memory.Store
}

func (f *failingStore) SaveEmail(context.Context, *domain.Email) error {
	return domain.Databasef("store unavailable")
}

func TestSplitAddress(t *testing.T) {
	local, domainPart, err := splitAddress(" ABC123@Vault.Mail ")
	require.NoError(t, err)
	assert.Equal(t, "abc123", local)
	assert.Equal(t, "vault.mail", domainPart)

	for _, bad := range []string{"", "@vault.mail", "abc123@", "abc123"} {
		_, _, err := splitAddress(bad)
		assert.Error(t, err, "address %q", bad)
	}
}

// 确保 failingStore 组合仍满足 Store 接口
var _ domain.Store = (*failingStore)(nil)
