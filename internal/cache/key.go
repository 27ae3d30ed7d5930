package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Key 唯一定位一个缓存条目（Method + 绝对 URL），由 NewKey 负责规范化。
type Key struct {
	Method string
	URL    string
}

// NewKey 规范化请求标识：Method 大写，scheme/host 小写，去掉 fragment，空路径补为 "/"。
// 查询串属于请求标识的一部分，原样保留。
func NewKey(method, rawURL string) (Key, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Key{}, fmt.Errorf("parse request url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Key{}, errors.New("request url must be absolute")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}

	return Key{Method: method, URL: u.String()}, nil
}

// MustKey 供测试与静态清单使用，解析失败时 panic。
func MustKey(method, rawURL string) Key {
	key, err := NewKey(method, rawURL)
	if err != nil {
		panic(err)
	}
	return key
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}

// IsZero 表示 Key 尚未初始化。
func (k Key) IsZero() bool {
	return k.Method == "" && k.URL == ""
}

// Hash 返回 Key 的 SHA-1 十六进制摘要，用作文件名。
func (k Key) Hash() string {
	sum := sha1.Sum([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}
