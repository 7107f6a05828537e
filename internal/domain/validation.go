package domain

import (
	"errors"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrPasswordTooShort = errors.New("password too short (min 8 chars)")
	ErrPasswordTooLong  = errors.New("password too long (max 72 bytes)")
	ErrUsernameTooShort = errors.New("username too short (min 3 chars)")
	ErrUsernameTooLong  = errors.New("username too long (max 32 chars)")
	ErrInvalidUsername  = errors.New("invalid username format")
	ErrInvalidClientID  = errors.New("invalid client id")
	ErrInvalidURL       = errors.New("invalid url")
	ErrNonceTooLong     = errors.New("nonce too long")
)

// 验证常量
const (
	MaxEmailLength = 254

	// 密码长度限制
	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt 只处理前 72 字节

	// 用户名长度限制
	MinUsernameLength = 3
	MaxUsernameLength = 32

	// 客户端标识最大长度（与数据库列宽一致）
	MaxClientIDLength = 255
	// nonce 最大长度，实际上限还受客户端公钥块大小约束
	MaxNonceLength = 256
)

// 用户名验证（必须以字母开头）
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*[a-zA-Z0-9]$|^[a-zA-Z]$`)

// ValidateEmail 验证邮箱地址格式
func ValidateEmail(email string) error {
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return ErrInvalidEmail
	}
	return nil
}

// ValidatePassword 验证密码长度
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// ValidateUsername 验证用户名
func ValidateUsername(username string) error {
	if len(username) < MinUsernameLength {
		return ErrUsernameTooShort
	}
	if len(username) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	if !usernameRegex.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidateClientID 验证客户端标识
//
// 参数:
//   - clientID: 客户端提交的不透明标识
//   - minLength: 配置的最小长度
func ValidateClientID(clientID string, minLength int) error {
	if len(clientID) < minLength || len(clientID) > MaxClientIDLength {
		return ErrInvalidClientID
	}
	return nil
}

// ValidateURL 验证允许列表中的地址能被解析
//
// 不要求 host，客户端回调可以是 myapp:callback 这样的自定义 scheme。
// 请求中的 auth_redirect / push_url 不经过这里，由允许列表精确匹配决定。
func ValidateURL(raw string) error {
	if raw == "" {
		return ErrInvalidURL
	}
	if _, err := url.Parse(raw); err != nil {
		return ErrInvalidURL
	}
	return nil
}

// ValidateNonce 验证 nonce 长度（内容不做解释）
func ValidateNonce(nonce string) error {
	if len(nonce) > MaxNonceLength {
		return ErrNonceTooLong
	}
	return nil
}
