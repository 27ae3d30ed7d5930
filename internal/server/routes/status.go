package routes

import (
	"sort"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/octopus-digest/octopus-cache/internal/cache"
	"github.com/octopus-digest/octopus-cache/internal/lifecycle"
)

// StatusSource 提供生命周期快照，由 lifecycle.Manager 实现。
type StatusSource interface {
	State() lifecycle.State
	Manifest() []cache.Key
	Claimed() bool
}

// RegisterStatusRoutes 暴露 /-/status 与 /-/generations 诊断接口，供运维确认当前世代与预缓存清单。
func RegisterStatusRoutes(app *fiber.App, source StatusSource, store cache.Store, dynamicSegment string) {
	if app == nil || source == nil || store == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		gens, err := store.ListGenerations(c.Context())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store_unavailable"})
		}
		payload := encodeStatus(source.State(), source.Claimed(), gens, source.Manifest(), dynamicSegment)
		payload.CheckedAt = time.Now().UTC()
		return c.JSON(payload)
	})

	app.Get("/-/generations", func(c fiber.Ctx) error {
		gens, err := store.ListGenerations(c.Context())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "store_unavailable"})
		}
		return c.JSON(fiber.Map{
			"generations": encodeGenerations(gens, source.State()),
		})
	})
}

type statusPayload struct {
	Phase          string              `json:"phase"`
	Current        string              `json:"current,omitempty"`
	Target         string              `json:"target"`
	Claimed        bool                `json:"claimed"`
	DynamicSegment string              `json:"dynamic_segment"`
	Generations    []generationPayload `json:"generations"`
	Precache       []string            `json:"precache"`
	CheckedAt      time.Time           `json:"checked_at"`
}

type generationPayload struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
	Target  bool   `json:"target"`
}

func encodeStatus(state lifecycle.State, claimed bool, gens []cache.Generation, manifest []cache.Key, segment string) statusPayload {
	precache := make([]string, 0, len(manifest))
	for _, key := range manifest {
		precache = append(precache, key.URL)
	}
	return statusPayload{
		Phase:          string(state.Phase),
		Current:        state.Current.String(),
		Target:         state.Target.String(),
		Claimed:        claimed,
		DynamicSegment: segment,
		Generations:    encodeGenerations(gens, state),
		Precache:       precache,
	}
}

func encodeGenerations(gens []cache.Generation, state lifecycle.State) []generationPayload {
	sorted := append([]cache.Generation(nil), gens...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})
	result := make([]generationPayload, 0, len(sorted))
	for _, gen := range sorted {
		result = append(result, generationPayload{
			Name:    gen.String(),
			Current: gen == state.Current,
			Target:  gen == state.Target,
		})
	}
	return result
}
