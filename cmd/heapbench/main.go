// Copyright 2012 The ThreadHeap Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command heapbench drives a mixed allocate/free workload against the
// threadheap allocator for offline tuning of the size-class and
// megablock constants. It is not part of the library; none of its
// config values feed back into the compiled-in tunables, which stay
// compile-time constants as required by spec §9.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Kretol/threadheap"
)

// config is the offline-tuning knobs read from a TOML file, distinct
// from the library's own compile-time constants.
type config struct {
	Goroutines   int   `toml:"goroutines"`
	Iterations   int   `toml:"iterations"`
	MinSize      int   `toml:"min_size"`
	MaxSize      int   `toml:"max_size"`
	Seed         int64 `toml:"seed"`
	ReportEveryN int   `toml:"report_every_n"`
	Sizes        []int `toml:"extra_sizes"`
}

func defaultConfig() config {
	return config{
		Goroutines:   runtime.GOMAXPROCS(0),
		Iterations:   200000,
		MinSize:      1,
		MaxSize:      threadheap.MaxSize,
		Seed:         1,
		ReportEveryN: 50000,
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("heapbench: decode %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	cfgPath := flag.String("config", "", "path to a TOML config file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	threadheap.Initialize()
	defer threadheap.Deinitialize()

	start := time.Now()
	var wg sync.WaitGroup
	var total int64
	var mu sync.Mutex

	for g := 0; g < cfg.Goroutines; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			defer threadheap.Flush()

			rng := rand.New(rand.NewSource(seed))
			var live [][]byte
			span := cfg.MaxSize - cfg.MinSize + 1
			for i := 0; i < cfg.Iterations; i++ {
				if len(live) > 0 && rng.Intn(3) == 0 {
					idx := rng.Intn(len(live))
					threadheap.Free(live[idx])
					live[idx] = live[len(live)-1]
					live = live[:len(live)-1]
					continue
				}
				size := cfg.MinSize + rng.Intn(span)
				b := threadheap.Malloc(size)
				live = append(live, b)
			}
			for _, b := range live {
				threadheap.Free(b)
			}

			mu.Lock()
			total += int64(cfg.Iterations)
			mu.Unlock()
		}(cfg.Seed + int64(g))
	}
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Fprintf(os.Stdout, "heapbench: %d goroutines, %d ops each, %s elapsed, %.0f ops/sec\n",
		cfg.Goroutines, cfg.Iterations, elapsed, float64(total)/elapsed.Seconds())
}
