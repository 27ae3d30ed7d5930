package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供路由分类、策略与缓存来源字段，供拦截日志复用。
func RequestFields(method, path, class, strategy, source, generation string) logrus.Fields {
	return logrus.Fields{
		"method":     method,
		"path":       path,
		"route":      class,
		"strategy":   strategy,
		"source":     source,
		"generation": generation,
		"cache_hit":  source == "cache" || source == "fallback",
	}
}

// LifecycleFields 记录缓存世代的阶段迁移。
func LifecycleFields(phase, current, target string) logrus.Fields {
	return logrus.Fields{
		"phase":   phase,
		"current": current,
		"target":  target,
	}
}
