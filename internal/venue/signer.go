package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Signer 为交易所请求生成 HMAC-SHA256 签名
type Signer struct {
	secret []byte
}

// NewSigner 创建签名器
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign 生成签名
func (s *Signer) Sign(canonicalString string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(canonicalString))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildCanonicalString 构建规范请求串：时间戳、方法、路径、排序后的查询串、body 摘要
func BuildCanonicalString(timestampMs int64, method, path string, query url.Values, body []byte) string {
	parts := []string{
		fmt.Sprintf("%d", timestampMs),
		strings.ToUpper(method),
		path,
		canonicalQuery(query),
	}
	if h := bodyHash(body); h != "" {
		parts = append(parts, h)
	}
	return strings.Join(parts, "\n")
}

func bodyHash(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// canonicalQuery 构建规范查询字符串（按 key 排序）
func canonicalQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		values := query[k]
		sort.Strings(values)
		for _, v := range values {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, v))
		}
	}

	return strings.Join(pairs, "&")
}
