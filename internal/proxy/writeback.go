package proxy

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/octopus-digest/octopus-cache/internal/cache"
)

const defaultWriteConcurrency = 8

// writeBehind 在独立 goroutine 中写缓存，调用方不等待结果，错误只记录不返回。
type writeBehind struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *logrus.Logger
	hook   WriteFailureHook
}

func newWriteBehind(concurrency int, logger *logrus.Logger, hook WriteFailureHook) *writeBehind {
	if concurrency <= 0 {
		concurrency = defaultWriteConcurrency
	}
	return &writeBehind{
		sem:    semaphore.NewWeighted(int64(concurrency)),
		logger: logger,
		hook:   hook,
	}
}

// schedule 脱离请求的取消信号执行写入，响应可能先于写入完成。
func (w *writeBehind) schedule(ctx context.Context, handle cache.Handle, entry *cache.Entry) {
	ctx = context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.sem.Acquire(ctx, 1); err != nil {
			w.fail(handle, entry, err)
			return
		}
		defer w.sem.Release(1)

		if err := handle.Put(ctx, entry); err != nil {
			w.fail(handle, entry, err)
		}
	}()
}

func (w *writeBehind) fail(handle cache.Handle, entry *cache.Entry, err error) {
	w.logger.WithError(err).WithFields(logrus.Fields{
		"action":     "cache_put",
		"generation": handle.Generation().String(),
		"url":        entry.Key.URL,
	}).Debug("cache_put_failed")
	if w.hook != nil {
		w.hook(entry.Key, handle.Generation(), err)
	}
}

func (w *writeBehind) wait() {
	w.wg.Wait()
}
