// Package testutil 测试用的辅助函数
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
	keyErr  error
)

// RSAKey 返回进程内共享的 1024 位测试密钥对
func RSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		testKey, keyErr = rsa.GenerateKey(rand.Reader, 1024)
	})
	require.NoError(t, keyErr)
	return testKey
}

// PublicKeyPEM 返回 PKIX 格式的公钥 PEM
func PublicKeyPEM(t testing.TB, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// DecryptPayload 模拟客户端解密 payload，返回解析后的字段
func DecryptPayload(t testing.TB, key *rsa.PrivateKey, encoded string) map[string]string {
	t.Helper()
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	plaintext, err := rsa.DecryptPKCS1v15(rand.Reader, key, ciphertext)
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(plaintext, &fields))
	return fields
}
