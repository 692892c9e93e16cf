// Package pipeline turns declarative configuration into a ready-to-prepare
// execution tree.
package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/knadh/koanf/v2"

	"github.com/tarungka/weave/cache"
	"github.com/tarungka/weave/internal/logger"
	"github.com/tarungka/weave/opt"
	"github.com/tarungka/weave/tree"
)

// Build assembles a tree from the "pipeline" section of the configuration.
func Build(ko *koanf.Koanf) (*tree.Tree, error) {
	var spec Spec
	if err := ko.Unmarshal("pipeline", &spec); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	return BuildSpec(spec)
}

// BuildSpec assembles a tree from an in-memory spec and runs the configured
// rewrite passes.
func BuildSpec(spec Spec) (*tree.Tree, error) {
	lg := logger.GetLogger("pipeline")
	if len(spec.Ops) == 0 {
		return nil, errors.New("pipeline: no ops configured")
	}

	nodes := make([]*tree.Node, len(spec.Ops))
	for i, s := range spec.Ops {
		n, err := buildOp(s)
		if err != nil {
			return nil, fmt.Errorf("pipeline op %d: %w", i, err)
		}
		nodes[i] = n
	}
	for i := 1; i < len(nodes); i++ {
		if err := nodes[i].AddChild(nodes[i-1]); err != nil {
			return nil, err
		}
	}

	tr := tree.New()
	if err := tr.AssignRoot(nodes[len(nodes)-1]); err != nil {
		return nil, err
	}

	var passes []tree.Pass
	if spec.Prune {
		passes = append(passes, &opt.PrunePass{})
	}
	if spec.Cache {
		passes = append(passes, &opt.InjectCachePass{NewClient: storeFactory(spec.CacheDir)})
	}
	if len(passes) > 0 {
		if err := tr.Optimize(passes...); err != nil {
			return nil, err
		}
	}

	lg.Info().Str("pipeline", spec.Name).Int("nodes", tr.NumNodes()).
		Str("run_id", tr.RunID().String()).Msg("pipeline built")
	return tr, nil
}

// storeFactory builds one backing store per injected cache layer, on disk
// under dir or in memory when dir is empty.
func storeFactory(dir string) func() (*cache.Client, error) {
	var idx atomic.Int64
	return func() (*cache.Client, error) {
		cfg := &cache.Config{InMemory: true}
		if dir != "" {
			cfg = &cache.Config{Dir: filepath.Join(dir, fmt.Sprintf("cache-%d", idx.Add(1)))}
		}
		store, err := cache.New(cfg)
		if err != nil {
			return nil, err
		}
		return cache.NewClient(store), nil
	}
}
