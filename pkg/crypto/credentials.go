// Package crypto seals follower venue credentials at rest.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const sealedPrefix = "sealed:v1:"

// Credentials 跟单者在交易所的凭证对
type Credentials struct {
	APIKey    string `json:"apiKey"`
	APISecret string `json:"apiSecret"`
}

// Sealer 凭证加解密器。密钥由配置的主密钥派生。
type Sealer struct {
	key []byte
}

// NewSealer 创建加解密器
func NewSealer(masterKey string) (*Sealer, error) {
	if strings.TrimSpace(masterKey) == "" {
		return nil, fmt.Errorf("credential master key required")
	}
	sum := sha256.Sum256([]byte(masterKey))
	return &Sealer{key: sum[:]}, nil
}

// Seal 加密凭证对，输出带版本前缀的不透明字符串
func (s *Sealer) Seal(creds Credentials) (string, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plain, nil)
	payload := append(nonce, sealed...)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(payload), nil
}

// Open 解密凭证对。任何异常（未知格式、密钥不符、篡改）都返回错误，
// 绝不把密文当明文返回。
func (s *Sealer) Open(blob string) (Credentials, error) {
	if !strings.HasPrefix(blob, sealedPrefix) {
		return Credentials{}, fmt.Errorf("credential blob is not sealed")
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(blob, sealedPrefix))
	if err != nil {
		return Credentials{}, fmt.Errorf("decode credential blob: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return Credentials{}, fmt.Errorf("init cipher: %w", err)
	}

	if len(raw) < aead.NonceSize() {
		return Credentials{}, fmt.Errorf("credential blob too short")
	}

	nonce := raw[:aead.NonceSize()]
	ciphertext := raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("open credential blob: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Credentials{}, fmt.Errorf("unmarshal credentials: %w", err)
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return Credentials{}, fmt.Errorf("sealed credentials incomplete")
	}
	return creds, nil
}
