// Package crypto 实现邮件内容的单收件人非对称加密。
//
// 使用 X25519 匿名密封盒（NaCl sealed box）：任何人都可以用邮箱
// 公钥加密，只有持有私钥的邮箱所有者能解密。密文以 base64 形式
// 存储，服务端不保存任何私钥。
package crypto

import (
	crand "crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"

	"vaultmail/maild/internal/domain"
)

const keySize = 32

// EncryptEmail 用邮箱公钥加密原始邮件内容，返回 base64 密文。
//
// 公钥格式非法时返回 KindMail 错误，绝不 panic。
func EncryptEmail(raw []byte, publicKey string) (string, error) {
	pub, err := decodeKey(publicKey)
	if err != nil {
		return "", domain.WrapMail("invalid public key", err)
	}

	sealed, err := box.SealAnonymous(nil, raw, pub, crand.Reader)
	if err != nil {
		return "", domain.WrapMail("encryption failed", err)
	}

	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptEmail 用私钥解密 base64 密文，返回原始邮件内容。
//
// 服务端收件路径不会调用此函数，它服务于邮箱所有者侧的工具和测试。
func DecryptEmail(encryptedContent, secretKey string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encryptedContent)
	if err != nil {
		return nil, domain.WrapMail("base64 decode failed", err)
	}

	priv, err := decodeKey(secretKey)
	if err != nil {
		return nil, domain.WrapMail("invalid secret key", err)
	}

	// 密封盒把临时公钥放在密文头部，公钥可以由私钥推导，
	// 但 OpenAnonymous 需要显式传入，这里重新计算。
	pub, err := derivePublicKey(priv)
	if err != nil {
		return nil, err
	}

	plain, ok := box.OpenAnonymous(nil, sealed, pub, priv)
	if !ok {
		return nil, domain.Mailf("decryption failed")
	}
	return plain, nil
}

// GenerateKeyPair 生成一对新的 X25519 密钥，返回 base64 编码的 (公钥, 私钥)。
func GenerateKeyPair() (string, string, error) {
	pub, priv, err := box.GenerateKey(crand.Reader)
	if err != nil {
		return "", "", domain.Internalf("key generation failed: %v", err)
	}
	return base64.StdEncoding.EncodeToString(pub[:]),
		base64.StdEncoding.EncodeToString(priv[:]), nil
}

// decodeKey 解析 base64 编码的 32 字节密钥。
func decodeKey(encoded string) (*[keySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) != keySize {
		return nil, domain.Mailf("key must be %d bytes, got %d", keySize, len(raw))
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

// derivePublicKey 从私钥推导对应的公钥。
func derivePublicKey(priv *[keySize]byte) (*[keySize]byte, error) {
	raw, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, domain.WrapMail("invalid secret key", err)
	}
	var pub [keySize]byte
	copy(pub[:], raw)
	return &pub, nil
}
