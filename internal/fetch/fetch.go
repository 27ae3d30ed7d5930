// Package fetch 封装回源请求：Fetcher 抽象、共享 http.Client 以及把响应固化为缓存快照的工具。
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/octopus-digest/octopus-cache/internal/cache"
)

// Fetcher 执行一次真实的网络请求。返回 error 仅表示传输层失败；非 2xx 状态码以响应形式返回。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// ClientFetcher 使用共享 http.Client 回源。
type ClientFetcher struct {
	client *http.Client
}

// NewClientFetcher 包装 http.Client，client 为空时使用 http.DefaultClient。
func NewClientFetcher(client *http.Client) *ClientFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &ClientFetcher{client: client}
}

func (f *ClientFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f.client.Do(req.WithContext(ctx))
}

// IsOK 对应 "ok" 状态区间（2xx）。
func IsOK(status int) bool {
	return status >= 200 && status < 300
}

// IsCacheable 只有完整的 2xx 响应可以写入缓存；206 分段响应无法代表整个资源。
func IsCacheable(status int) bool {
	return IsOK(status) && status != http.StatusPartialContent
}

// Snapshot 读取完整响应体并生成 Entry。读取正文失败视为传输失败。
func Snapshot(key cache.Key, resp *http.Response) (*cache.Entry, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if body == nil {
		body = []byte{}
	}

	header := make(http.Header, len(resp.Header))
	CopyHeaders(header, resp.Header)

	return &cache.Entry{
		Key:      key,
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

// Get 以 GET 请求抓取 key 对应的资源并返回快照，供 precache 使用。
func Get(ctx context.Context, f Fetcher, key cache.Key) (*cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, key.Method, key.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := f.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return Snapshot(key, resp)
}
