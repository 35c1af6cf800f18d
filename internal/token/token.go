package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// rawByteLen 原始令牌随机字节数
const rawByteLen = 32

// Issued 一次性令牌签发结果（Raw 仅出现在邮件链接中，存储层只保留 Hash）
type Issued struct {
	Raw       string
	Hash      string
	ExpiresAt time.Time
}

// Issue 生成一次性令牌
func Issue(ttl time.Duration) (Issued, error) {
	buf := make([]byte, rawByteLen)
	if _, err := rand.Read(buf); err != nil {
		return Issued{}, err
	}
	raw := hex.EncodeToString(buf)
	return Issued{
		Raw:       raw,
		Hash:      Hash(raw),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Hash 计算原始令牌的存储哈希
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
