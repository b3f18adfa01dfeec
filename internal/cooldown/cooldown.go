package cooldown

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var ErrInvalidConfig = errors.New("cooldown: invalid config")

// Config configures the scheduler. Rand and Sleep allow deterministic,
// hermetic tests; both default to real implementations when nil.
type Config struct {
	// Loop is the fixed delay applied after every mode-loop iteration.
	Loop time.Duration
	// MiningMax bounds the randomized delay applied after a deposit
	// submission. Zero disables the jitter.
	MiningMax time.Duration

	Rand  *rand.Rand
	Sleep func(ctx context.Context, d time.Duration) error
}

// Scheduler produces the two delay kinds between loop iterations: a fixed
// loop cooldown and a uniformly random mining cooldown in [0, MiningMax)
// that decorrelates deposit submission timing.
type Scheduler struct {
	loop      time.Duration
	miningMax time.Duration
	rng       *rand.Rand
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Loop <= 0 {
		return nil, fmt.Errorf("%w: Loop must be > 0", ErrInvalidConfig)
	}
	if cfg.MiningMax < 0 {
		return nil, fmt.Errorf("%w: MiningMax must be >= 0", ErrInvalidConfig)
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Scheduler{
		loop:      cfg.Loop,
		miningMax: cfg.MiningMax,
		rng:       rng,
		sleep:     sleep,
	}, nil
}

// Loop applies the fixed loop cooldown.
func (s *Scheduler) Loop(ctx context.Context) error {
	return s.sleep(ctx, s.loop)
}

// Mining applies the randomized privacy cooldown.
func (s *Scheduler) Mining(ctx context.Context) error {
	if s.miningMax == 0 {
		return nil
	}
	d := time.Duration(s.rng.Int63n(int64(s.miningMax)))
	return s.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
