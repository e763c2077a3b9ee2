package system

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/runtime/internal/core/ecs"
	"github.com/nodeforge/runtime/internal/graph"
)

// SnapshotStore persists graph snapshots. persist.SnapshotRepo implements it.
type SnapshotStore interface {
	Save(ctx context.Context, name string, s *graph.Snapshot) (bool, error)
	Prune(ctx context.Context, name string, keep int) (int64, error)
}

// AutosaveSystem snapshots the graph every interval frames. PostTick,
// just before cleanup.
type AutosaveSystem struct {
	graph    *graph.Graph
	store    SnapshotStore
	name     string
	keep     int
	log      *zap.Logger
	interval int
	frames   int
	saves    int
}

func NewAutosaveSystem(g *graph.Graph, store SnapshotStore, name string, intervalFrames, keep int, log *zap.Logger) *AutosaveSystem {
	if log == nil {
		log = zap.NewNop()
	}
	return &AutosaveSystem{
		graph:    g,
		store:    store,
		name:     name,
		keep:     keep,
		log:      log,
		interval: intervalFrames,
	}
}

func (s *AutosaveSystem) Phase() ecs.Phase { return ecs.PhasePostTick }
func (s *AutosaveSystem) Priority() int    { return math.MaxInt - 1 }

// Saves returns how many snapshots were actually written.
func (s *AutosaveSystem) Saves() int { return s.saves }

func (s *AutosaveSystem) Update(_ *ecs.Frame) {
	if s.interval <= 0 {
		return
	}
	s.frames++
	if s.frames < s.interval {
		return
	}
	s.frames = 0
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.SaveNow(ctx); err != nil {
		s.log.Error("autosave failed", zap.String("name", s.name), zap.Error(err))
	}
}

// SaveNow snapshots immediately. Called on shutdown. A snapshot whose
// content matches the last stored one is skipped by the store.
func (s *AutosaveSystem) SaveNow(ctx context.Context) error {
	start := time.Now()
	snap, err := s.graph.Snapshot()
	if err != nil {
		// partial snapshots are still written; the failing components are logged
		if snap == nil {
			return err
		}
		s.log.Warn("snapshot incomplete", zap.Error(err))
	}
	saved, err := s.store.Save(ctx, s.name, snap)
	if err != nil {
		return err
	}
	if !saved {
		s.log.Debug("snapshot unchanged", zap.String("name", s.name))
		return nil
	}
	s.saves++
	pruned, err := s.store.Prune(ctx, s.name, s.keep)
	if err != nil {
		s.log.Warn("snapshot prune failed", zap.Error(err))
	}
	s.log.Info("snapshot saved",
		zap.String("name", s.name),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int64("pruned", pruned),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}
