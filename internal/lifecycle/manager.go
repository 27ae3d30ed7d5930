package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/octopus-digest/octopus-cache/internal/cache"
	"github.com/octopus-digest/octopus-cache/internal/fetch"
	"github.com/octopus-digest/octopus-cache/internal/logging"
)

// ErrPrecacheFailed 表示安装阶段的预缓存未能完整写入目标世代。
var ErrPrecacheFailed = errors.New("precache failed")

// Observer 接收生命周期事件，nil 表示不上报。
type Observer interface {
	PhaseChanged(phase string)
	PrecacheFailed(generation string)
	GenerationPurged(generation string)
}

// Options 描述 Manager 的依赖。
type Options struct {
	Store               cache.Store
	Fetcher             fetch.Fetcher
	Target              cache.Generation
	Prefix              string
	Manifest            []cache.Key
	PrecacheConcurrency int
	Logger              *logrus.Logger
	Observer            Observer
}

// Manager 执行状态机产出的副作用，并对外暴露单写多读的 current 世代。
type Manager struct {
	store       cache.Store
	fetcher     fetch.Fetcher
	manifest    []cache.Key
	concurrency int
	logger      *logrus.Logger
	observer    Observer

	dispatchMu sync.Mutex

	mu      sync.RWMutex
	state   State
	handle  cache.Handle
	claimed bool
}

// NewManager 创建处于 idle 阶段的 Manager。
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("lifecycle: store required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("lifecycle: fetcher required")
	}
	if err := opts.Target.Validate(); err != nil {
		return nil, fmt.Errorf("lifecycle: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	concurrency := opts.PrecacheConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Manager{
		store:       opts.Store,
		fetcher:     opts.Fetcher,
		manifest:    append([]cache.Key(nil), opts.Manifest...),
		concurrency: concurrency,
		logger:      logger,
		observer:    opts.Observer,
		state:       NewState(opts.Target, opts.Prefix),
	}, nil
}

// Current 返回当前服务中的世代；尚无世代时 ok 为 false。
func (m *Manager) Current() (cache.Generation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Current, m.state.Current != ""
}

// Active 返回 current 世代的读写句柄。句柄在世代被删除后不会重建该世代。
func (m *Manager) Active() (cache.Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle, m.handle != nil
}

// State 返回状态快照。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Claimed 表示目标世代是否已接管全部请求。
func (m *Manager) Claimed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.claimed
}

// Manifest 返回预缓存清单的副本。
func (m *Manager) Manifest() []cache.Key {
	return append([]cache.Key(nil), m.manifest...)
}

// Start 依次执行 restore、install、activate。安装失败时返回包装了 ErrPrecacheFailed 的错误，
// 此时旧世代（若有）继续服务。
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Restore(ctx); err != nil {
		return err
	}
	if m.State().Phase != PhaseInstalled {
		if err := m.Install(ctx); err != nil {
			return err
		}
	}
	return m.Activate(ctx)
}

// Restore 在进程重启后接管已存在的世代：目标世代已存在且清单完整则跳过安装，
// 否则唯一的旧世代继续作为 current。残缺的目标世代不会被接管。
func (m *Manager) Restore(ctx context.Context) error {
	gens, err := m.store.ListGenerations(ctx)
	if err != nil {
		return fmt.Errorf("list generations: %w", err)
	}

	state := m.State()
	var candidates []cache.Generation
	for _, gen := range gens {
		if gen == state.Target {
			if m.complete(ctx, gen) {
				return m.Dispatch(ctx, Event{Kind: EventAdopt, Generation: gen})
			}
			m.discardIncomplete(ctx, gen)
			continue
		}
		if state.Prefix == "" || strings.HasPrefix(string(gen), state.Prefix) {
			candidates = append(candidates, gen)
		}
	}
	if len(candidates) == 1 {
		return m.Dispatch(ctx, Event{Kind: EventAdopt, Generation: candidates[0]})
	}
	if len(candidates) > 1 {
		m.logger.WithFields(logrus.Fields{
			"action":      "lifecycle_restore",
			"generations": candidates,
		}).Warn("ambiguous_previous_generation")
	}
	return nil
}

// complete 检查世代中是否存在全部清单条目，读取失败按缺失处理。
func (m *Manager) complete(ctx context.Context, gen cache.Generation) bool {
	handle, err := m.store.Open(ctx, gen)
	if err != nil {
		return false
	}
	for _, key := range m.manifest {
		if _, err := handle.Get(ctx, key); err != nil {
			m.logger.WithFields(logrus.Fields{
				"action":     "lifecycle_restore",
				"generation": gen.String(),
				"url":        key.URL,
				"error":      err.Error(),
			}).Warn("incomplete_target_generation")
			return false
		}
	}
	return true
}

// discardIncomplete 删除残缺的目标世代；删除失败时留给下一次安装覆盖。
func (m *Manager) discardIncomplete(ctx context.Context, gen cache.Generation) {
	if err := m.store.Delete(ctx, gen); err != nil {
		m.logger.WithFields(logrus.Fields{
			"action":     "lifecycle_restore",
			"generation": gen.String(),
			"error":      err.Error(),
		}).Warn("discard_failed")
	}
}

// Install 预缓存目标世代。
func (m *Manager) Install(ctx context.Context) error {
	return m.Dispatch(ctx, Event{Kind: EventInstall})
}

// Activate 切换 current 并清理旧世代。
func (m *Manager) Activate(ctx context.Context) error {
	return m.Dispatch(ctx, Event{Kind: EventActivate})
}

// Dispatch 串行地推进状态机，副作用产生的后续事件在同一次调用内处理完毕。
func (m *Manager) Dispatch(ctx context.Context, event Event) error {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	var result error
	queue := []Event{event}
	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]

		prev := m.State()
		next, effects, err := Transition(prev, ev)
		if err != nil {
			return err
		}

		var handle cache.Handle
		if next.Current != prev.Current {
			// current 只会切换到已存在的世代，此处 Open 不会新建世代。
			handle, err = m.store.Open(ctx, next.Current)
			if err != nil {
				return fmt.Errorf("open generation %s: %w", next.Current, err)
			}
		}

		m.mu.Lock()
		m.state = next
		if handle != nil {
			m.handle = handle
		}
		m.mu.Unlock()

		m.logTransition(prev, next, ev)

		for _, effect := range effects {
			follow, err := m.perform(ctx, effect)
			if err != nil && result == nil {
				result = err
			}
			if follow != nil {
				queue = append(queue, *follow)
			}
		}
	}
	return result
}

func (m *Manager) perform(ctx context.Context, effect Effect) (*Event, error) {
	switch effect.Kind {
	case EffectPrecache:
		if err := m.precache(ctx, effect.Generation); err != nil {
			m.logger.WithFields(logrus.Fields{
				"action":     "lifecycle_install",
				"generation": effect.Generation.String(),
				"error":      err.Error(),
			}).Error("precache_failed")
			if m.observer != nil {
				m.observer.PrecacheFailed(effect.Generation.String())
			}
			wrapped := fmt.Errorf("%w: %s: %w", ErrPrecacheFailed, effect.Generation, err)
			return &Event{Kind: EventInstallFailed, Err: wrapped}, wrapped
		}
		return &Event{Kind: EventInstallSucceeded}, nil

	case EffectDiscard:
		if err := m.store.Delete(context.WithoutCancel(ctx), effect.Generation); err != nil {
			m.logger.WithFields(logrus.Fields{
				"action":     "lifecycle_install",
				"generation": effect.Generation.String(),
				"error":      err.Error(),
			}).Warn("discard_failed")
		}
		return nil, nil

	case EffectPurge:
		m.purge(ctx, effect.Generation, effect.Prefix)
		return nil, nil

	case EffectClaim:
		m.mu.Lock()
		m.claimed = true
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"action":     "lifecycle_activate",
			"generation": effect.Generation.String(),
		}).Info("generation_claimed")
		return nil, nil
	}
	return nil, fmt.Errorf("unknown lifecycle effect: %s", effect.Kind)
}

// precache 先并发抓取全部清单，全部成功后才打开目标世代并按清单顺序写入。
func (m *Manager) precache(ctx context.Context, gen cache.Generation) error {
	entries := make([]*cache.Entry, len(m.manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, key := range m.manifest {
		g.Go(func() error {
			entry, err := fetch.Get(gctx, m.fetcher, key)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", key.URL, err)
			}
			if !fetch.IsCacheable(entry.Status) {
				return fmt.Errorf("fetch %s: unexpected status %d", key.URL, entry.Status)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	handle, err := m.store.Open(ctx, gen)
	if err != nil {
		return fmt.Errorf("open generation: %w", err)
	}
	for _, entry := range entries {
		if err := handle.Put(ctx, entry); err != nil {
			return fmt.Errorf("put %s: %w", entry.Key.URL, err)
		}
	}

	m.logger.WithFields(logrus.Fields{
		"action":     "lifecycle_install",
		"generation": gen.String(),
		"entries":    len(entries),
	}).Info("precache_complete")
	return nil
}

// purge 删除 keep 以外的世代；prefix 非空时只处理同前缀的世代，单个失败不阻塞激活。
func (m *Manager) purge(ctx context.Context, keep cache.Generation, prefix string) {
	gens, err := m.store.ListGenerations(ctx)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"action": "lifecycle_activate",
			"error":  err.Error(),
		}).Warn("purge_list_failed")
		return
	}
	for _, gen := range gens {
		if gen == keep {
			continue
		}
		if prefix != "" && !strings.HasPrefix(string(gen), prefix) {
			continue
		}
		fields := logrus.Fields{
			"action":     "lifecycle_activate",
			"generation": gen.String(),
		}
		if err := m.store.Delete(ctx, gen); err != nil {
			fields["error"] = err.Error()
			m.logger.WithFields(fields).Warn("purge_failed")
			continue
		}
		m.logger.WithFields(fields).Info("generation_purged")
		if m.observer != nil {
			m.observer.GenerationPurged(gen.String())
		}
	}
}

func (m *Manager) logTransition(prev, next State, event Event) {
	fields := logging.LifecycleFields(string(next.Phase), next.Current.String(), next.Target.String())
	fields["action"] = "lifecycle"
	fields["event"] = string(event.Kind)
	fields["from"] = string(prev.Phase)
	m.logger.WithFields(fields).Debug("lifecycle_transition")

	if prev.Phase != next.Phase && m.observer != nil {
		m.observer.PhaseChanged(string(next.Phase))
	}
}
