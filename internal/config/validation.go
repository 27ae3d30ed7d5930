package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

var supportedDrivers = map[string]struct{}{
	"fs":      {},
	"leveldb": {},
	"memory":  {},
}

var supportedLogLevels = map[string]struct{}{
	"trace": {},
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if level := strings.ToLower(strings.TrimSpace(g.LogLevel)); level != "" {
		if _, ok := supportedLogLevels[level]; !ok {
			return newFieldError("Global.LogLevel", "仅支持 trace/debug/info/warn/error")
		}
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedDrivers[g.StoreDriver]; !ok {
		return newFieldError("Global.StoreDriver", "仅支持 fs/leveldb/memory")
	}
	if g.MemoryCacheEntries < 0 {
		return newFieldError("Global.MemoryCacheEntries", "不能为负数")
	}
	if g.MaxEntrySize < 0 {
		return newFieldError("Global.MaxEntrySize", "不能为负数")
	}
	if g.WriteConcurrency <= 0 {
		return newFieldError("Global.WriteConcurrency", "必须大于 0")
	}
	if g.PrecacheConcurrency <= 0 {
		return newFieldError("Global.PrecacheConcurrency", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.DNSRefreshInterval.DurationValue() < 0 {
		return newFieldError("Global.DNSRefreshInterval", "不能为负数")
	}

	o := c.Origin
	if err := validateUpstream(o.Upstream); err != nil {
		return fmt.Errorf("%s: %w", originField("Upstream"), err)
	}
	if err := validateGeneration(o.Generation); err != nil {
		return fmt.Errorf("%s: %w", originField("Generation"), err)
	}
	if o.GenerationPrefix != "" && !strings.HasPrefix(o.Generation, o.GenerationPrefix) {
		return newFieldError(originField("Generation"), fmt.Sprintf("必须以 %s 开头", o.GenerationPrefix))
	}
	if strings.TrimSpace(o.DynamicSegment) == "" {
		return newFieldError(originField("DynamicSegment"), "不能为空")
	}
	seen := map[string]struct{}{}
	for _, ref := range o.Precache {
		resolved, err := o.ResolveURL(ref)
		if err != nil || strings.TrimSpace(ref) == "" {
			return newFieldError(originField("Precache"), fmt.Sprintf("无效路径: %q", ref))
		}
		if _, exists := seen[resolved]; exists {
			return newFieldError(originField("Precache"), fmt.Sprintf("重复路径: %s", ref))
		}
		seen[resolved] = struct{}{}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

func validateGeneration(name string) error {
	if name == "" {
		return errors.New("缺少缓存世代名称")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("世代名称不能包含路径: %s", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("世代名称包含非法字符: %q", name)
		}
	}
	return nil
}
