package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/nodeforge/runtime/internal/core/event"
)

const (
	DefaultFixedStep     = 20 * time.Millisecond
	DefaultMaxFixedSteps = 5
)

type DriverConfig struct {
	FixedStep     time.Duration
	MaxFixedSteps int
}

// Stats are cumulative frame counters.
type Stats struct {
	Frames       uint64
	FixedSteps   uint64
	DroppedSteps uint64
	Destroyed    uint64
	FlushErrors  uint64
}

// Driver runs whole frames: PreTick, Tick, FixedTick zero or more times,
// LateTick, PostTick, the destroy flush, then the event bus swap. It owns
// the fixed-step accumulator; steps beyond MaxFixedSteps in one frame are
// dropped so a stall cannot snowball.
type Driver struct {
	runner    *Runner
	bus       *event.Bus
	log       *zap.Logger
	fixedStep time.Duration
	maxSteps  int
	acc       time.Duration
	stats     Stats
}

func NewDriver(r *Runner, bus *event.Bus, cfg DriverConfig, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.FixedStep <= 0 {
		cfg.FixedStep = DefaultFixedStep
	}
	if cfg.MaxFixedSteps <= 0 {
		cfg.MaxFixedSteps = DefaultMaxFixedSteps
	}
	return &Driver{
		runner:    r,
		bus:       bus,
		log:       log,
		fixedStep: cfg.FixedStep,
		maxSteps:  cfg.MaxFixedSteps,
	}
}

func (d *Driver) Runner() *Runner { return d.runner }
func (d *Driver) Stats() Stats    { return d.stats }

// Alpha is how far the accumulator sits into the next fixed step, in [0,1).
func (d *Driver) Alpha() float64 {
	return float64(d.acc) / float64(d.fixedStep)
}

// Frame advances the world by dt. The returned error is the flush error,
// if any; the frame itself always completes.
func (d *Driver) Frame(dt time.Duration) error {
	if dt < 0 {
		dt = 0
	}
	r := d.runner
	r.RunPreTick(dt)
	r.RunTick(dt)

	d.acc += dt
	steps := 0
	for d.acc >= d.fixedStep && steps < d.maxSteps {
		r.RunFixedTick(d.fixedStep)
		d.acc -= d.fixedStep
		steps++
	}
	if d.acc >= d.fixedStep {
		dropped := d.acc / d.fixedStep
		d.acc -= dropped * d.fixedStep
		d.stats.DroppedSteps += uint64(dropped)
		d.log.Warn("fixed steps dropped",
			zap.Uint64("frame", r.FrameNumber()),
			zap.Int64("dropped", int64(dropped)),
			zap.Duration("dt", dt),
		)
	}
	d.stats.FixedSteps += uint64(steps)

	r.RunLateTick(dt)
	r.RunPostTick(dt)

	n, err := r.FlushDestructions()
	d.stats.Destroyed += uint64(n)
	if err != nil {
		d.stats.FlushErrors++
	}

	if d.bus != nil {
		d.bus.SwapBuffers()
		d.bus.DispatchAll()
	}
	d.stats.Frames++
	return err
}
