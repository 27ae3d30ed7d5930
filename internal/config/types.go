package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志、存储与并发上限。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	StoragePath         string   `mapstructure:"StoragePath"`
	StoreDriver         string   `mapstructure:"StoreDriver"`
	MemoryCacheEntries  int      `mapstructure:"MemoryCacheEntries"`
	MaxEntrySize        int64    `mapstructure:"MaxEntrySize"`
	WriteConcurrency    int      `mapstructure:"WriteConcurrency"`
	PrecacheConcurrency int      `mapstructure:"PrecacheConcurrency"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
	DNSRefreshInterval  Duration `mapstructure:"DNSRefreshInterval"`
}

// OriginConfig 描述被代理的源站、当前部署的缓存世代与预缓存清单。
type OriginConfig struct {
	Upstream         string   `mapstructure:"Upstream"`
	Generation       string   `mapstructure:"Generation"`
	GenerationPrefix string   `mapstructure:"GenerationPrefix"`
	DynamicSegment   string   `mapstructure:"DynamicSegment"`
	Precache         []string `mapstructure:"Precache"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Origin OriginConfig `mapstructure:"Origin"`
}

// ResolveURL 将相对路径（如 ./、app.js、/digests/x.json）解析为源站下的绝对地址。
func (o OriginConfig) ResolveURL(ref string) (string, error) {
	base, err := url.Parse(o.Upstream)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	target, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(target).String(), nil
}

// DefaultPrecache 是应用外壳的预缓存清单。
func DefaultPrecache() []string {
	return []string{"./", "index.html", "app.js", "style.css", "manifest.json", "icon.svg"}
}
