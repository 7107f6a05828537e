package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPublicKey 公钥无法解析或类型不受支持
	ErrInvalidPublicKey = errors.New("invalid public key")
	// ErrPayloadTooLarge 明文超过公钥可加密的最大长度
	ErrPayloadTooLarge = errors.New("payload too large for public key")
)

const (
	// MinKeyBits 接受的最小 RSA 模长
	MinKeyBits = 1024

	// pkcs1v15Overhead PKCS#1 v1.5 填充占用的字节数
	pkcs1v15Overhead = 11
)

// Payload 返回给客户端的加密内容
//
// Access 为规范化后的权限字母串。
type Payload struct {
	Key    string `json:"key"`
	Nonce  string `json:"nonce"`
	Access string `json:"access"`
}

// ParsePublicKey 解析 PEM 编码的 RSA 公钥
//
// 同时支持 "PUBLIC KEY"（PKIX）和 "RSA PUBLIC KEY"（PKCS#1）两种格式。
//
// 参数:
//   - pemText: 客户端提交的 PEM 文本
//
// 返回值:
//   - *rsa.PublicKey: 解析出的公钥
//   - error: 格式错误、非 RSA 或长度不足时返回 ErrInvalidPublicKey
func ParsePublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemText)))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPublicKey)
	}

	var pub *rsa.PublicKey
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidPublicKey, parsed)
		}
		pub = rsaKey
	case "RSA PUBLIC KEY":
		parsed, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		pub = parsed
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPublicKey, block.Type)
	}

	if pub.N.BitLen() < MinKeyBits {
		return nil, fmt.Errorf("%w: key size %d bits below minimum %d", ErrInvalidPublicKey, pub.N.BitLen(), MinKeyBits)
	}
	return pub, nil
}

// MaxPlaintext 返回公钥单块可加密的最大明文长度
func MaxPlaintext(pub *rsa.PublicKey) int {
	return pub.Size() - pkcs1v15Overhead
}

// CheckCapacity 检查在最坏情况下（全部权限、给定长度的密钥）载荷能否放入公钥的加密块
//
// 签发前调用，保证不会在写入 Key 之后才发现无法加密。
func CheckCapacity(pub *rsa.PublicKey, nonce string, keyLength int) error {
	worst := Payload{
		Key:    strings.Repeat("0", keyLength),
		Nonce:  nonce,
		Access: "prw",
	}
	plaintext, err := json.Marshal(worst)
	if err != nil {
		return err
	}
	if len(plaintext) > MaxPlaintext(pub) {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(plaintext), MaxPlaintext(pub))
	}
	return nil
}

// EncryptPayload 使用客户端公钥加密载荷并做 base64 编码
//
// 采用 RSA PKCS#1 v1.5 填充，与 OpenSSL private_decrypt 的默认填充兼容。
// 填充是随机的，同样的输入两次加密得到的密文不同。
//
// 参数:
//   - pub: 客户端公钥
//   - payload: 待加密内容
//
// 返回值:
//   - string: 标准 base64 编码的密文
//   - error: 序列化或加密失败
func EncryptPayload(pub *rsa.PublicKey, payload Payload) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	if len(plaintext) > MaxPlaintext(pub) {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(plaintext), MaxPlaintext(pub))
	}

	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
