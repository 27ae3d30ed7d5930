// Package routing 将请求路径归类为动态数据或静态资源，并映射到对应的缓存策略。
package routing

import "strings"

// DefaultDynamicSegment 标记按日生成的 JSON/音频载荷所在路径段。
const DefaultDynamicSegment = "/digests/"

// Class 是请求路径的派生分类，不持久化，每次请求重新计算。
type Class string

const (
	ClassStaticAsset Class = "static-asset"
	ClassDynamicData Class = "dynamic-data"
)

// Strategy 描述拦截器对某一分类执行的取数顺序。
type Strategy string

const (
	// StrategyCacheFirst 命中缓存直接返回，未命中才回源。
	StrategyCacheFirst Strategy = "cache-first"
	// StrategyNetworkFirst 总是先回源，仅在传输失败时回退到缓存。
	StrategyNetworkFirst Strategy = "network-first"
)

// Policy 只做子串匹配：扩展时修改 DynamicSegment，而不是引入规则引擎。
type Policy struct {
	DynamicSegment string
}

// NewPolicy 构造策略，segment 为空时使用 DefaultDynamicSegment。
func NewPolicy(segment string) Policy {
	if strings.TrimSpace(segment) == "" {
		segment = DefaultDynamicSegment
	}
	return Policy{DynamicSegment: segment}
}

// Classify 判断路径是否包含动态数据段。
func (p Policy) Classify(path string) Class {
	segment := p.DynamicSegment
	if segment == "" {
		segment = DefaultDynamicSegment
	}
	if strings.Contains(path, segment) {
		return ClassDynamicData
	}
	return ClassStaticAsset
}

// StrategyFor 返回分类对应的策略。
func StrategyFor(class Class) Strategy {
	if class == ClassDynamicData {
		return StrategyNetworkFirst
	}
	return StrategyCacheFirst
}

// Route 是 Classify + StrategyFor 的组合，方便调用方一次取得两者。
func (p Policy) Route(path string) (Class, Strategy) {
	class := p.Classify(path)
	return class, StrategyFor(class)
}
