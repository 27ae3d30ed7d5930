package cache

import (
	"context"
	"errors"
	"net/http"
	"os"
	"reflect"
	"testing"
	"time"
)

var storeDrivers = []string{DriverFS, DriverLevelDB, DriverMemory}

func TestStorePutAndGetRoundTrip(t *testing.T) {
	for _, driver := range storeDrivers {
		t.Run(driver, func(t *testing.T) {
			store := newTestStore(t, driver)
			handle := openGeneration(t, store, "octopus-v2")

			noContent := sampleEntry(t, "https://octopus.example/digests/ping", "")
			noContent.Status = http.StatusNoContent
			noContent.Header = http.Header{}
			noContent.Body = []byte{}

			entries := []*Entry{
				sampleEntry(t, "https://octopus.example/digests/2024-05-01.json", "payload"),
				noContent,
			}
			for _, entry := range entries {
				if err := handle.Put(context.Background(), entry); err != nil {
					t.Fatalf("put error: %v", err)
				}

				got, err := handle.Get(context.Background(), entry.Key)
				if err != nil {
					t.Fatalf("get error: %v", err)
				}
				if !reflect.DeepEqual(got, entry) {
					t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, entry)
				}
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	for _, driver := range storeDrivers {
		t.Run(driver, func(t *testing.T) {
			store := newTestStore(t, driver)
			handle := openGeneration(t, store, "octopus-v2")

			_, err := handle.Get(context.Background(), MustKey(http.MethodGet, "https://octopus.example/missing"))
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStorePutReplacesWholesale(t *testing.T) {
	for _, driver := range storeDrivers {
		t.Run(driver, func(t *testing.T) {
			store := newTestStore(t, driver)
			handle := openGeneration(t, store, "octopus-v2")

			first := sampleEntry(t, "https://octopus.example/app.js", "v1")
			first.Header.Set("X-Old", "1")
			if err := handle.Put(context.Background(), first); err != nil {
				t.Fatalf("put error: %v", err)
			}
			second := sampleEntry(t, "https://octopus.example/app.js", "v2")
			if err := handle.Put(context.Background(), second); err != nil {
				t.Fatalf("put error: %v", err)
			}

			got, err := handle.Get(context.Background(), second.Key)
			if err != nil {
				t.Fatalf("get error: %v", err)
			}
			if string(got.Body) != "v2" {
				t.Fatalf("expected replaced body, got %s", got.Body)
			}
			if got.Header.Get("X-Old") != "" {
				t.Fatalf("headers must not be merged across writes")
			}
		})
	}
}

func TestStoreGenerationsAreIsolated(t *testing.T) {
	for _, driver := range storeDrivers {
		t.Run(driver, func(t *testing.T) {
			store := newTestStore(t, driver)
			v1 := openGeneration(t, store, "octopus-v1")
			v2 := openGeneration(t, store, "octopus-v2")

			entry := sampleEntry(t, "https://octopus.example/index.html", "old")
			if err := v1.Put(context.Background(), entry); err != nil {
				t.Fatalf("put error: %v", err)
			}
			if _, err := v2.Get(context.Background(), entry.Key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("entry leaked across generations: %v", err)
			}
		})
	}
}

func TestStoreDeleteAndList(t *testing.T) {
	for _, driver := range storeDrivers {
		t.Run(driver, func(t *testing.T) {
			store := newTestStore(t, driver)
			v1 := openGeneration(t, store, "octopus-v1")
			openGeneration(t, store, "octopus-v2")

			entry := sampleEntry(t, "https://octopus.example/style.css", "body{}")
			if err := v1.Put(context.Background(), entry); err != nil {
				t.Fatalf("put error: %v", err)
			}

			gens, err := store.ListGenerations(context.Background())
			if err != nil {
				t.Fatalf("list error: %v", err)
			}
			if !reflect.DeepEqual(gens, []Generation{"octopus-v1", "octopus-v2"}) {
				t.Fatalf("unexpected generations: %v", gens)
			}

			if err := store.Delete(context.Background(), "octopus-v1"); err != nil {
				t.Fatalf("delete error: %v", err)
			}
			if err := store.Delete(context.Background(), "octopus-v1"); err != nil {
				t.Fatalf("second delete should be a no-op: %v", err)
			}

			gens, err = store.ListGenerations(context.Background())
			if err != nil {
				t.Fatalf("list error: %v", err)
			}
			if !reflect.DeepEqual(gens, []Generation{"octopus-v2"}) {
				t.Fatalf("unexpected generations after delete: %v", gens)
			}
			if _, err := v1.Get(context.Background(), entry.Key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("deleted generation must not serve entries, got %v", err)
			}
		})
	}
}

func TestStorePutAfterDeleteDoesNotResurrect(t *testing.T) {
	for _, driver := range storeDrivers {
		t.Run(driver, func(t *testing.T) {
			store := newTestStore(t, driver)
			v1 := openGeneration(t, store, "octopus-v1")
			if err := store.Delete(context.Background(), "octopus-v1"); err != nil {
				t.Fatalf("delete error: %v", err)
			}

			err := v1.Put(context.Background(), sampleEntry(t, "https://octopus.example/late.js", "late"))
			if !errors.Is(err, ErrGenerationMissing) {
				t.Fatalf("expected ErrGenerationMissing, got %v", err)
			}
			gens, err := store.ListGenerations(context.Background())
			if err != nil {
				t.Fatalf("list error: %v", err)
			}
			if len(gens) != 0 {
				t.Fatalf("late put resurrected generation: %v", gens)
			}
		})
	}
}

func TestStoreQuotaExceeded(t *testing.T) {
	for _, driver := range storeDrivers {
		t.Run(driver, func(t *testing.T) {
			store, err := NewStore(Options{Driver: driver, Path: t.TempDir(), MaxEntrySize: 16})
			if err != nil {
				t.Fatalf("failed to create store: %v", err)
			}
			t.Cleanup(func() { store.Close() })
			handle := openGeneration(t, store, "octopus-v2")

			big := sampleEntry(t, "https://octopus.example/digests/audio.mp3", string(make([]byte, 1024)))
			if err := handle.Put(context.Background(), big); !errors.Is(err, ErrQuotaExceeded) {
				t.Fatalf("expected ErrQuotaExceeded, got %v", err)
			}
		})
	}
}

func TestStoreEntriesAreSnapshots(t *testing.T) {
	store := newTestStore(t, DriverMemory)
	handle := openGeneration(t, store, "octopus-v2")

	entry := sampleEntry(t, "https://octopus.example/manifest.json", "{}")
	if err := handle.Put(context.Background(), entry); err != nil {
		t.Fatalf("put error: %v", err)
	}
	entry.Body[0] = 'X'
	entry.Header.Set("Content-Type", "mutated")

	got, err := handle.Get(context.Background(), entry.Key)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if string(got.Body) != "{}" || got.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("stored entry was mutated through caller reference: %+v", got)
	}
}

func TestStoreRejectsInvalidGeneration(t *testing.T) {
	store := newTestStore(t, DriverFS)
	for _, name := range []Generation{"", "..", "a/b", `a\b`} {
		if _, err := store.Open(context.Background(), name); err == nil {
			t.Fatalf("expected error for generation %q", name)
		}
	}
}

func TestFileStoreIgnoresTempDirectories(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(Options{Driver: DriverFS, Path: dir})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := os.MkdirAll(dir+"/.staging", 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	gens, err := store.ListGenerations(context.Background())
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(gens) != 0 {
		t.Fatalf("hidden directories must not be listed: %v", gens)
	}
}

func TestNewStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := NewStore(Options{Driver: "redis", Path: t.TempDir()}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

// newTestStore returns a Store of the given driver backed by a temporary directory.
func newTestStore(t *testing.T, driver string) Store {
	t.Helper()
	store, err := NewStore(Options{Driver: driver, Path: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func openGeneration(t *testing.T, store Store, gen Generation) Handle {
	t.Helper()
	handle, err := store.Open(context.Background(), gen)
	if err != nil {
		t.Fatalf("open %s: %v", gen, err)
	}
	return handle
}

func sampleEntry(t *testing.T, rawURL, body string) *Entry {
	t.Helper()
	key, err := NewKey(http.MethodGet, rawURL)
	if err != nil {
		t.Fatalf("key error: %v", err)
	}
	return &Entry{
		Key:      key,
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"text/plain"}},
		Body:     []byte(body),
		StoredAt: time.Now().UTC(),
	}
}
