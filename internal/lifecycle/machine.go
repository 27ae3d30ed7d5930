package lifecycle

import (
	"errors"
	"fmt"

	"github.com/octopus-digest/octopus-cache/internal/cache"
)

// Phase 是缓存世代安装流程所处的阶段。
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseInstalling Phase = "installing"
	PhaseInstalled  Phase = "installed"
	PhaseActive     Phase = "active"
	PhaseRedundant  Phase = "redundant"
)

// EventKind 标识驱动状态机的事件。
type EventKind string

const (
	EventAdopt            EventKind = "adopt"
	EventInstall          EventKind = "install"
	EventInstallSucceeded EventKind = "install-succeeded"
	EventInstallFailed    EventKind = "install-failed"
	EventActivate         EventKind = "activate"
)

// Event 携带事件类型及其参数；Generation 仅在 adopt 时使用。
type Event struct {
	Kind       EventKind
	Generation cache.Generation
	Err        error
}

// EffectKind 标识状态迁移后需要执行的副作用。
type EffectKind string

const (
	// EffectPrecache 抓取清单并写入目标世代，结果以 install-succeeded/install-failed 回送。
	EffectPrecache EffectKind = "precache"
	// EffectDiscard 删除安装失败的目标世代。
	EffectDiscard EffectKind = "discard"
	// EffectPurge 删除除 Generation 外所有匹配 Prefix 的世代。
	EffectPurge EffectKind = "purge"
	// EffectClaim 让拦截器立即以新世代服务全部请求。
	EffectClaim EffectKind = "claim"
)

// Effect 是 Transition 产出的待执行动作。
type Effect struct {
	Kind       EffectKind
	Generation cache.Generation
	Prefix     string
}

// State 是状态机的完整快照。Current 为空表示没有可服务的世代。
type State struct {
	Phase   Phase
	Current cache.Generation
	Target  cache.Generation
	Prefix  string
}

// ErrInvalidTransition 表示当前阶段不接受该事件。
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// NewState 返回以 target 为安装目标的初始状态。
func NewState(target cache.Generation, prefix string) State {
	return State{Phase: PhaseIdle, Target: target, Prefix: prefix}
}

// Transition 是纯函数：只计算下一个状态与副作用，不做任何 I/O。
func Transition(state State, event Event) (State, []Effect, error) {
	next := state
	switch event.Kind {
	case EventAdopt:
		if state.Phase != PhaseIdle || state.Current != "" || event.Generation == "" {
			break
		}
		next.Current = event.Generation
		if event.Generation == state.Target {
			next.Phase = PhaseInstalled
		}
		return next, nil, nil

	case EventInstall:
		if state.Phase != PhaseIdle && state.Phase != PhaseRedundant {
			break
		}
		next.Phase = PhaseInstalling
		return next, []Effect{{Kind: EffectPrecache, Generation: state.Target}}, nil

	case EventInstallSucceeded:
		if state.Phase != PhaseInstalling {
			break
		}
		next.Phase = PhaseInstalled
		return next, nil, nil

	case EventInstallFailed:
		if state.Phase != PhaseInstalling {
			break
		}
		next.Phase = PhaseRedundant
		return next, []Effect{{Kind: EffectDiscard, Generation: state.Target}}, nil

	case EventActivate:
		if state.Phase != PhaseInstalled {
			break
		}
		next.Phase = PhaseActive
		next.Current = state.Target
		return next, []Effect{
			{Kind: EffectPurge, Generation: state.Target, Prefix: state.Prefix},
			{Kind: EffectClaim, Generation: state.Target},
		}, nil
	}

	return state, nil, fmt.Errorf("%w: %s in phase %s", ErrInvalidTransition, event.Kind, state.Phase)
}
