package domain

import (
	"errors"
	"fmt"
	"strings"
)

// 权限字母表
const (
	ScopeLetterPush  = 'p'
	ScopeLetterRead  = 'r'
	ScopeLetterWrite = 'w'
)

// ErrInvalidScope 权限字符串中包含无法识别的字母
var ErrInvalidScope = errors.New("invalid access scope")

// Scope 用户 API Key 的权限集合（读、写、推送）
//
// 作为集合比较：两个 Scope 相等当且仅当三个标志都相同，与请求字符串中的字母顺序无关。
type Scope struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
	Push  bool `json:"push"`
}

// ParseScope 解析客户端请求的权限字符串
//
// 参数:
//   - raw: 由 r/w/p 组成的字符串，空字符串表示没有请求任何权限
//
// 返回值:
//   - Scope: 解析得到的权限集合
//   - error: 出现未知字母时返回 ErrInvalidScope
func ParseScope(raw string) (Scope, error) {
	var s Scope
	for _, ch := range raw {
		switch ch {
		case ScopeLetterRead:
			s.Read = true
		case ScopeLetterWrite:
			s.Write = true
		case ScopeLetterPush:
			s.Push = true
		default:
			return Scope{}, fmt.Errorf("%w: unexpected %q", ErrInvalidScope, ch)
		}
	}
	return s, nil
}

// Intersect 返回两个权限集合的交集
func (s Scope) Intersect(other Scope) Scope {
	return Scope{
		Read:  s.Read && other.Read,
		Write: s.Write && other.Write,
		Push:  s.Push && other.Push,
	}
}

// IsEmpty 是否没有任何权限
func (s Scope) IsEmpty() bool {
	return !s.Read && !s.Write && !s.Push
}

// Has 判断是否包含指定字母对应的权限
func (s Scope) Has(letter rune) bool {
	switch letter {
	case ScopeLetterRead:
		return s.Read
	case ScopeLetterWrite:
		return s.Write
	case ScopeLetterPush:
		return s.Push
	}
	return false
}

// String 返回规范化的权限字符串，字母按字母表顺序排列（p, r, w）
func (s Scope) String() string {
	var b strings.Builder
	if s.Push {
		b.WriteRune(ScopeLetterPush)
	}
	if s.Read {
		b.WriteRune(ScopeLetterRead)
	}
	if s.Write {
		b.WriteRune(ScopeLetterWrite)
	}
	return b.String()
}
