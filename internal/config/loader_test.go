package config

import "testing"

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
UpstreamTimeout = "boom"

[Origin]
Upstream = "https://octopus.example"
Generation = "octopus-v2"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadReadsPrecacheList(t *testing.T) {
	cfg := `
StoragePath = "./data"
StoreDriver = "MEMORY"

[Origin]
Upstream = "https://octopus.example"
Generation = "octopus-v7"
DynamicSegment = "/episodes/"
Precache = ["./", "index.html"]
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Global.StoreDriver != "memory" {
		t.Fatalf("StoreDriver 应统一为小写，得到 %s", loaded.Global.StoreDriver)
	}
	if len(loaded.Origin.Precache) != 2 || loaded.Origin.Precache[1] != "index.html" {
		t.Fatalf("Precache 解析错误: %v", loaded.Origin.Precache)
	}
	if loaded.Origin.DynamicSegment != "/episodes/" {
		t.Fatalf("DynamicSegment 解析错误: %s", loaded.Origin.DynamicSegment)
	}
}

func TestResolvePathPrefersFlagThenEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/octopus/config.toml")

	if got := ResolvePath("custom.toml"); got != "custom.toml" {
		t.Fatalf("flag 应优先生效，得到 %s", got)
	}
	if got := ResolvePath(""); got != "/etc/octopus/config.toml" {
		t.Fatalf("应回退到环境变量，得到 %s", got)
	}

	t.Setenv(EnvConfigPath, "")
	if got := ResolvePath(""); got != "config.toml" {
		t.Fatalf("应回退到默认路径，得到 %s", got)
	}
}
