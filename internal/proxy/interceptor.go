package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/octopus-digest/octopus-cache/internal/cache"
	"github.com/octopus-digest/octopus-cache/internal/fetch"
	"github.com/octopus-digest/octopus-cache/internal/routing"
)

// ErrNetworkFailed 表示请求既无法从网络获取，也没有可用的缓存副本。
var ErrNetworkFailed = errors.New("network request failed")

// Source 标识最终交付的响应来自哪里。
type Source string

const (
	SourceNetwork  Source = "network"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// Generations 提供 current 世代的句柄；没有 current 时 ok 为 false。
type Generations interface {
	Active() (cache.Handle, bool)
}

// WriteFailureHook 接收被吞掉的 write-behind 错误。
type WriteFailureHook func(key cache.Key, generation cache.Generation, err error)

// Options 描述 Interceptor 的依赖。
type Options struct {
	Fetcher          fetch.Fetcher
	Policy           routing.Policy
	Generations      Generations
	WriteConcurrency int
	Logger           *logrus.Logger
	OnWriteFailure   WriteFailureHook
}

// Result 描述一次拦截的结果。出错时 Entry 为 nil，其余字段仍然有效。
type Result struct {
	Entry      *cache.Entry
	Source     Source
	Class      routing.Class
	Strategy   routing.Strategy
	Generation cache.Generation
	// Bypass 表示请求未经过缓存（非 GET 或尚无 current 世代）。
	Bypass bool
}

// Interceptor 对每个请求执行路由策略：Cache-First 或 Network-First-with-Fallback。
type Interceptor struct {
	fetcher     fetch.Fetcher
	policy      routing.Policy
	generations Generations
	logger      *logrus.Logger
	writes      *writeBehind
}

// NewInterceptor 创建拦截器。
func NewInterceptor(opts Options) (*Interceptor, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("proxy: fetcher required")
	}
	if opts.Generations == nil {
		return nil, errors.New("proxy: generation source required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	policy := opts.Policy
	if policy.DynamicSegment == "" {
		policy = routing.NewPolicy("")
	}
	return &Interceptor{
		fetcher:     opts.Fetcher,
		policy:      policy,
		generations: opts.Generations,
		logger:      logger,
		writes:      newWriteBehind(opts.WriteConcurrency, logger, opts.OnWriteFailure),
	}, nil
}

// Intercept 处理单个请求。req.URL 必须是源站的绝对地址。
func (i *Interceptor) Intercept(ctx context.Context, req *http.Request) (*Result, error) {
	class, strategy := i.policy.Route(req.URL.Path)
	result := &Result{Class: class, Strategy: strategy}

	key, err := cache.NewKey(req.Method, req.URL.String())
	if err != nil {
		return result, err
	}

	handle, ok := i.generations.Active()
	if !ok || key.Method != http.MethodGet {
		result.Bypass = true
		entry, err := i.network(ctx, key, req)
		if err != nil {
			return result, fmt.Errorf("%w: %w", ErrNetworkFailed, err)
		}
		result.Entry = entry
		result.Source = SourceNetwork
		return result, nil
	}
	result.Generation = handle.Generation()

	if strategy == routing.StrategyNetworkFirst {
		return i.networkFirst(ctx, handle, key, req, result)
	}
	return i.cacheFirst(ctx, handle, key, req, result)
}

// cacheFirst 命中即返回且不访问网络；未命中回源，2xx 写入缓存，传输失败为终态失败。
func (i *Interceptor) cacheFirst(ctx context.Context, handle cache.Handle, key cache.Key, req *http.Request, result *Result) (*Result, error) {
	if cached, hit := i.lookup(ctx, handle, key); hit {
		result.Entry = cached
		result.Source = SourceCache
		return result, nil
	}

	entry, err := i.network(ctx, key, req)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrNetworkFailed, err)
	}
	if fetch.IsCacheable(entry.Status) {
		i.writes.schedule(ctx, handle, entry)
	}
	result.Entry = entry
	result.Source = SourceNetwork
	return result, nil
}

// networkFirst 总是先回源；非 2xx 原样返回且不回退，只有传输失败才查缓存。
func (i *Interceptor) networkFirst(ctx context.Context, handle cache.Handle, key cache.Key, req *http.Request, result *Result) (*Result, error) {
	entry, netErr := i.network(ctx, key, req)
	if netErr == nil {
		if fetch.IsCacheable(entry.Status) {
			i.writes.schedule(ctx, handle, entry)
		}
		result.Entry = entry
		result.Source = SourceNetwork
		return result, nil
	}

	if cached, hit := i.lookup(ctx, handle, key); hit {
		i.logger.WithFields(logrus.Fields{
			"action": "intercept",
			"url":    key.URL,
			"error":  netErr.Error(),
		}).Info("network_fallback")
		result.Entry = cached
		result.Source = SourceFallback
		return result, nil
	}
	return result, fmt.Errorf("%w: %w", ErrNetworkFailed, netErr)
}

// lookup 将存储读取失败视为未命中。
func (i *Interceptor) lookup(ctx context.Context, handle cache.Handle, key cache.Key) (*cache.Entry, bool) {
	entry, err := handle.Get(ctx, key)
	switch {
	case err == nil:
		return entry, true
	case errors.Is(err, cache.ErrNotFound):
		return nil, false
	default:
		i.logger.WithError(err).WithFields(logrus.Fields{
			"generation": handle.Generation().String(),
			"url":        key.URL,
		}).Warn("cache_get_failed")
		return nil, false
	}
}

func (i *Interceptor) network(ctx context.Context, key cache.Key, req *http.Request) (*cache.Entry, error) {
	resp, err := i.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	return fetch.Snapshot(key, resp)
}

// Wait 阻塞直到所有已调度的 write-behind 写入完成。
func (i *Interceptor) Wait() {
	i.writes.wait()
}
