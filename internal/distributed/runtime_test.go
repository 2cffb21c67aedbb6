package distributed

import (
	"errors"
	"testing"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestEnvRuntimeDefaults(t *testing.T) {
	t.Parallel()

	r := NewEnvRuntimeFrom(env(nil))
	if r.IsInitialized() {
		t.Fatal("fresh runtime reports initialized")
	}
	if err := r.InitModelParallel(1); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := r.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if r.WorldSize() != 1 || r.Rank() != 0 || r.LocalRank() != 0 {
		t.Fatalf("layout = %d/%d/%d", r.WorldSize(), r.Rank(), r.LocalRank())
	}
}

func TestEnvRuntimeModelParallel(t *testing.T) {
	t.Parallel()

	r := NewEnvRuntimeFrom(env(map[string]string{"WORLD_SIZE": "4", "RANK": "3", "LOCAL_RANK": "1"}))
	if err := r.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := r.InitModelParallel(3); err == nil {
		t.Fatal("expected error for size not dividing world size")
	}
	if err := r.InitModelParallel(2); err != nil {
		t.Fatalf("init model parallel: %v", err)
	}
	if !r.ModelParallelIsInitialized() {
		t.Fatal("model parallel not initialized")
	}
	if r.ModelParallelRank() != 1 || r.ModelParallelSize() != 2 {
		t.Fatalf("mp rank/size = %d/%d", r.ModelParallelRank(), r.ModelParallelSize())
	}
	if err := r.SetDevice(r.LocalRank()); err != nil || r.Device() != 1 {
		t.Fatalf("set device: %v (device %d)", err, r.Device())
	}
}

func TestEnvRuntimeInvalidLayout(t *testing.T) {
	t.Parallel()

	for _, m := range []map[string]string{
		{"WORLD_SIZE": "two"},
		{"WORLD_SIZE": "2", "RANK": "2"},
		{"WORLD_SIZE": "0"},
	} {
		if err := NewEnvRuntimeFrom(env(m)).Init(); err == nil {
			t.Errorf("Init(%v): expected error", m)
		}
	}
}

func TestManualSeedIsDeterministic(t *testing.T) {
	t.Parallel()

	a, b := NewEnvRuntimeFrom(env(nil)), NewEnvRuntimeFrom(env(nil))
	if a.Rand() != nil {
		t.Fatal("expected nil rng before seeding")
	}
	a.ManualSeed(1)
	b.ManualSeed(1)
	for range 4 {
		if a.Rand().Uint64() != b.Rand().Uint64() {
			t.Fatal("same seed produced different streams")
		}
	}
}
