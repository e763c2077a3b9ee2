package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nodeforge/runtime/internal/config"
	"github.com/nodeforge/runtime/internal/core/ecs"
	"github.com/nodeforge/runtime/internal/core/event"
	coresys "github.com/nodeforge/runtime/internal/core/system"
	"github.com/nodeforge/runtime/internal/core/typereg"
	"github.com/nodeforge/runtime/internal/data"
	"github.com/nodeforge/runtime/internal/graph"
	"github.com/nodeforge/runtime/internal/persist"
	"github.com/nodeforge/runtime/internal/scripting"
	"github.com/nodeforge/runtime/internal/system"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/nodeforge.toml"
	if p := os.Getenv("NODEFORGE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 2. Types
	types := typereg.New()
	if err := typereg.RegisterBuiltins(types); err != nil {
		return err
	}
	manifest, err := data.LoadTypeManifest(cfg.Data.TypesFile)
	if err != nil {
		return err
	}
	if _, err := manifest.Register(types); err != nil {
		return err
	}
	types.Freeze()
	log.Info("types loaded", zap.Int("count", types.Len()))

	// 3. World, graph, component storages
	world := ecs.NewWorld(ecs.Options{
		BlockSize: cfg.Runtime.BlockSize,
		MaxDepth:  cfg.Runtime.MaxDepth,
		Log:       log,
	})
	g, err := graph.New(world, types, log)
	if err != nil {
		return err
	}

	scripts, err := scripting.NewEngine(cfg.Scripting.Dir, log)
	if err != nil {
		return err
	}
	defer scripts.Close()
	scripts.SetDestroyer(g.DestroyRuntime)
	if _, err := scripts.Register(world, cfg.Scripting.Priority); err != nil {
		return err
	}

	cleanup, err := system.NewCleanupSystem(world, g.DestroyRuntime, log)
	if err != nil {
		return err
	}

	// 4. Database (optional)
	var store *persist.SnapshotRepo
	db, err := openDB(cfg.Database, log)
	switch {
	case errors.Is(err, persist.ErrDisabled):
		log.Info("database disabled, snapshots off")
	case err != nil:
		return err
	default:
		defer db.Close()
		store = persist.NewSnapshotRepo(db)
	}

	// 5. Initial content: latest snapshot, else the scene file
	if err := populate(g, store, cfg, log); err != nil {
		return err
	}

	// 6. Scheduling
	runner := coresys.NewRunner(world, log)
	runner.Register(cleanup)
	var autosave *system.AutosaveSystem
	if store != nil {
		autosave = system.NewAutosaveSystem(g, store, cfg.Database.SnapshotName,
			cfg.Database.SnapshotEvery, cfg.Database.KeepSnapshots, log)
		runner.Register(autosave)
	}

	bus := event.NewBus()
	event.Publish(world, bus)
	event.Subscribe(bus, func(e event.NodeDestroyed) {
		log.Debug("node gone", zap.String("name", e.Name), zap.Bool("mirrored", e.Mirrored))
	})

	driver := coresys.NewDriver(runner, bus, coresys.DriverConfig{
		FixedStep:     cfg.Runtime.FixedStep,
		MaxFixedSteps: cfg.Runtime.MaxFixedSteps,
	}, log)

	// 7. Frame loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Runtime.FrameRate)
	defer ticker.Stop()

	log.Info("runtime started",
		zap.Int("nodes", g.Len()),
		zap.Duration("frame", cfg.Runtime.FrameRate),
		zap.Duration("fixed_step", cfg.Runtime.FixedStep),
	)

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			if err := driver.Frame(dt); err != nil {
				log.Error("frame", zap.Uint64("frame", runner.FrameNumber()), zap.Error(err))
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal", zap.String("signal", sig.String()))
			if autosave != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := autosave.SaveNow(ctx); err != nil {
					log.Error("final snapshot", zap.Error(err))
				}
				cancel()
			}
			st := driver.Stats()
			log.Info("runtime stopped",
				zap.Uint64("frames", st.Frames),
				zap.Uint64("fixed_steps", st.FixedSteps),
				zap.Uint64("dropped_steps", st.DroppedSteps),
				zap.Uint64("destroyed", st.Destroyed),
				zap.Uint64("expired", cleanup.Expired()),
			)
			return nil
		}
	}
}

func openDB(cfg config.DatabaseConfig, log *zap.Logger) (*persist.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := persist.NewDB(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := persist.RunMigrations(ctx, db.Pool, log); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func populate(g *graph.Graph, store *persist.SnapshotRepo, cfg *config.Config, log *zap.Logger) error {
	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		stored, err := store.Latest(ctx, cfg.Database.SnapshotName)
		switch {
		case err == nil:
			roots, err := g.Restore(stored.Snapshot)
			if err != nil {
				return fmt.Errorf("restore snapshot #%d: %w", stored.ID, err)
			}
			log.Info("snapshot restored",
				zap.Int64("id", stored.ID),
				zap.Time("created", stored.CreatedAt),
				zap.Int("roots", len(roots)),
				zap.Int("nodes", g.Len()),
			)
			return nil
		case !errors.Is(err, persist.ErrNoSnapshot):
			return err
		}
	}

	scene, err := data.LoadScene(cfg.Data.SceneFile)
	if err != nil {
		return err
	}
	roots, err := scene.Spawn(g)
	if err != nil {
		return err
	}
	log.Info("scene spawned", zap.String("scene", scene.Name), zap.Int("roots", len(roots)), zap.Int("nodes", scene.Count()))
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
