// Package distributed tracks the process group a model parallel rank
// belongs to. Launchers such as torchrun describe the group through
// WORLD_SIZE, RANK and LOCAL_RANK; no collective communication happens
// here.
package distributed

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"sync"
)

var ErrNotInitialized = errors.New("distributed: process group not initialized")

// Runtime is the process-group surface model construction depends on.
type Runtime interface {
	IsInitialized() bool
	Init() error
	ModelParallelIsInitialized() bool
	InitModelParallel(size int) error
	WorldSize() int
	Rank() int
	LocalRank() int
	ModelParallelSize() int
	ModelParallelRank() int
	SetDevice(index int) error
	ManualSeed(seed uint64)
}

// EnvRuntime reads the group layout from the environment.
type EnvRuntime struct {
	getenv func(string) string

	mu        sync.Mutex
	inited    bool
	worldSize int
	rank      int
	localRank int
	mpSize    int
	device    int
	rng       *rand.Rand
}

// NewEnvRuntime returns a runtime backed by os.Getenv.
func NewEnvRuntime() *EnvRuntime {
	return &EnvRuntime{getenv: os.Getenv}
}

// NewEnvRuntimeFrom reads the layout through getenv instead of the
// process environment.
func NewEnvRuntimeFrom(getenv func(string) string) *EnvRuntime {
	return &EnvRuntime{getenv: getenv}
}

func (r *EnvRuntime) IsInitialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inited
}

// Init reads WORLD_SIZE, RANK and LOCAL_RANK. Missing values describe a
// single process group.
func (r *EnvRuntime) Init() error {
	ws, err := envInt(r.getenv, "WORLD_SIZE", 1)
	if err != nil {
		return err
	}
	rank, err := envInt(r.getenv, "RANK", 0)
	if err != nil {
		return err
	}
	local, err := envInt(r.getenv, "LOCAL_RANK", rank)
	if err != nil {
		return err
	}
	if ws < 1 || rank < 0 || rank >= ws || local < 0 {
		return fmt.Errorf("distributed: invalid layout world_size=%d rank=%d local_rank=%d", ws, rank, local)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inited = true
	r.worldSize, r.rank, r.localRank = ws, rank, local
	return nil
}

func (r *EnvRuntime) ModelParallelIsInitialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mpSize > 0
}

// InitModelParallel puts every rank of the world in one model parallel
// group of the given size.
func (r *EnvRuntime) InitModelParallel(size int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inited {
		return ErrNotInitialized
	}
	if size < 1 || r.worldSize%size != 0 {
		return fmt.Errorf("distributed: model parallel size %d does not divide world size %d", size, r.worldSize)
	}
	r.mpSize = size
	return nil
}

func (r *EnvRuntime) WorldSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.worldSize
}

func (r *EnvRuntime) Rank() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rank
}

func (r *EnvRuntime) LocalRank() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.localRank
}

func (r *EnvRuntime) ModelParallelSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mpSize
}

func (r *EnvRuntime) ModelParallelRank() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mpSize == 0 {
		return 0
	}
	return r.rank % r.mpSize
}

// SetDevice records the accelerator index this rank binds to.
func (r *EnvRuntime) SetDevice(index int) error {
	if index < 0 {
		return fmt.Errorf("distributed: invalid device %d", index)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.device = index
	return nil
}

func (r *EnvRuntime) Device() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

// ManualSeed reseeds the runtime RNG so every rank draws the same stream.
func (r *EnvRuntime) ManualSeed(seed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rng = rand.New(rand.NewPCG(seed, seed))
}

// Rand returns the seeded RNG, or nil before ManualSeed.
func (r *EnvRuntime) Rand() *rand.Rand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("distributed: %s=%q: %w", key, v, err)
	}
	return n, nil
}
