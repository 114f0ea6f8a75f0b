package sfx

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/whisper/reveal/internal/metrics"
	"github.com/whisper/reveal/internal/reveal"
)

// PlayerConfig holds Player tunables.
type PlayerConfig struct {
	QueueSize   int           `yaml:"queue_size" env:"QUEUE_SIZE"`     // cues waiting to play
	RatePerSec  float64       `yaml:"rate_per_sec" env:"RATE_PER_SEC"` // sustained cue rate, 0 = unlimited
	Burst       int           `yaml:"burst" env:"BURST"`
	PlayTimeout time.Duration `yaml:"play_timeout" env:"PLAY_TIMEOUT"`
}

// DefaultPlayerConfig returns defaults suited to keystroke clicks.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		QueueSize:   64,
		RatePerSec:  40,
		Burst:       8,
		PlayTimeout: 250 * time.Millisecond,
	}
}

type cue struct {
	effect reveal.Effect
	at     time.Time
}

// Player is an asynchronous reveal.EffectSink. Emit enqueues without
// blocking; a single goroutine plays cues in order, waiting out each
// event's nominal delay.
type Player struct {
	sink    Sink
	cfg     PlayerConfig
	limiter *rate.Limiter
	log     *zap.Logger

	queue chan cue
	quit  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewPlayer starts a Player in front of sink.
func NewPlayer(sink Sink, cfg PlayerConfig, logger *zap.Logger) *Player {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultPlayerConfig().QueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	p := &Player{
		sink:    sink,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		log:     logger.Named("sfx"),
		queue:   make(chan cue, cfg.QueueSize),
		quit:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Emit implements reveal.EffectSink. Cues that do not fit the queue are
// dropped.
func (p *Player) Emit(events []reveal.SideEffectEvent) {
	now := time.Now()
	for _, ev := range events {
		select {
		case <-p.quit:
			return
		default:
		}
		select {
		case p.queue <- cue{effect: ev.Effect, at: now.Add(ev.Delay)}:
		default:
			metrics.EffectsTotal.WithLabelValues("dropped").Inc()
		}
	}
}

// Close stops playback and discards queued cues.
func (p *Player) Close() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

func (p *Player) run() {
	defer p.wg.Done()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var c cue
		select {
		case <-p.quit:
			return
		case c = <-p.queue:
		}

		if wait := time.Until(c.at); wait > 0 {
			timer.Reset(wait)
			select {
			case <-p.quit:
				return
			case <-timer.C:
			}
		}

		if !p.limiter.Allow() {
			metrics.EffectsTotal.WithLabelValues("limited").Inc()
			continue
		}
		p.play(c.effect)
	}
}

func (p *Player) play(effect reveal.Effect) {
	ctx := context.Background()
	if p.cfg.PlayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PlayTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.EffectsTotal.WithLabelValues("failed").Inc()
			p.log.Debug("sink panicked", zap.Any("panic", r))
		}
	}()

	if err := p.sink.Play(ctx, effect); err != nil {
		metrics.EffectsTotal.WithLabelValues("failed").Inc()
		p.log.Debug("play failed", zap.String("effect", string(effect)), zap.Error(err))
		return
	}
	metrics.EffectsTotal.WithLabelValues("played").Inc()
}
