package lifecycle

import (
	"fmt"
	"net/http"

	"github.com/octopus-digest/octopus-cache/internal/cache"
	"github.com/octopus-digest/octopus-cache/internal/config"
)

// BuildManifest 将配置中的相对路径解析为源站下的 GET 缓存键，保持清单顺序。
func BuildManifest(origin config.OriginConfig) ([]cache.Key, error) {
	keys := make([]cache.Key, 0, len(origin.Precache))
	for _, ref := range origin.Precache {
		resolved, err := origin.ResolveURL(ref)
		if err != nil {
			return nil, fmt.Errorf("resolve precache path %q: %w", ref, err)
		}
		key, err := cache.NewKey(http.MethodGet, resolved)
		if err != nil {
			return nil, fmt.Errorf("precache key %q: %w", ref, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
