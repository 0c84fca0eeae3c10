// Package simulator keeps the broadcast path busy by injecting synthetic
// typing and message events through the hub, as if from another client.
package simulator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/chat-relay/backend/internal/service/hub"
)

// Publisher is the subset of the hub the simulator drives.
type Publisher interface {
	TypingStart(ctx context.Context, sender *hub.Client, user string) error
	TypingStop(ctx context.Context, sender *hub.Client, user string) error
	SendMessage(ctx context.Context, sender *hub.Client, user, text string) error
}

// Config holds the tunables of the simulator. Probabilities are in [0, 1].
type Config struct {
	Interval       time.Duration
	IntervalJitter time.Duration
	ActProbability float64

	TypingDelay        time.Duration
	TypingJitter       time.Duration
	MessageProbability float64

	Roster   []string
	Messages []string
}

// DefaultConfig returns the stock roster and timings.
func DefaultConfig() Config {
	return Config{
		Interval:           5 * time.Second,
		IntervalJitter:     5 * time.Second,
		ActProbability:     0.3,
		TypingDelay:        time.Second,
		TypingJitter:       3 * time.Second,
		MessageProbability: 0.5,
		Roster:             []string{"Alice", "Bob", "Charlie", "Diana"},
		Messages: []string{
			"Working on the new feature!",
			"Almost done with my tasks",
			"Anyone need help with anything?",
			"Great work everyone!",
			"Let's sync up later",
			"Coffee break time? ☕",
		},
	}
}

// Simulator periodically publishes synthetic activity. Each run is a timer
// task that re-arms itself; the delayed "stop typing" step is a second,
// independently scheduled task.
type Simulator struct {
	pub Publisher
	cfg Config

	mu      sync.Mutex
	rng     *rand.Rand
	tick    *time.Timer
	pending map[*time.Timer]struct{}
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Entry
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithRand sets the random source, mainly for tests.
func WithRand(rng *rand.Rand) Option {
	return func(s *Simulator) {
		s.rng = rng
	}
}

// New creates a stopped simulator. Empty roster or message pools fall back to
// the defaults.
func New(pub Publisher, cfg Config, opts ...Option) *Simulator {
	defaults := DefaultConfig()
	if len(cfg.Roster) == 0 {
		cfg.Roster = defaults.Roster
	}
	if len(cfg.Messages) == 0 {
		cfg.Messages = defaults.Messages
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Simulator{
		pub:     pub,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		pending: make(map[*time.Timer]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		log:     logrus.WithField("comp", "simulator"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start arms the first run. Calling it again, or after Stop, does nothing.
func (s *Simulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true
	s.tick = time.AfterFunc(s.nextInterval(), s.run)
	s.log.WithField("roster", s.cfg.Roster).Info("activity simulator started")
}

// Stop cancels the next run and every pending follow-up.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	if s.tick != nil {
		s.tick.Stop()
	}
	for t := range s.pending {
		t.Stop()
		delete(s.pending, t)
	}
	s.cancel()
	s.log.Info("activity simulator stopped")
}

func (s *Simulator) run() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}

	act := s.rng.Float64() < s.cfg.ActProbability
	user := s.cfg.Roster[s.rng.Intn(len(s.cfg.Roster))]
	delay := s.cfg.TypingDelay + s.jitter(s.cfg.TypingJitter)
	s.tick = time.AfterFunc(s.nextInterval(), s.run)
	s.mu.Unlock()

	if !act {
		return
	}

	if err := s.pub.TypingStart(s.ctx, nil, user); err != nil {
		s.log.WithError(err).WithField("user", user).Debug("typing start not delivered")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pending, t)
		s.mu.Unlock()
		s.finish(user)
	})
	s.pending[t] = struct{}{}
}

// finish ends the typing burst of user and maybe posts a canned message.
func (s *Simulator) finish(user string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	send := s.rng.Float64() < s.cfg.MessageProbability
	text := s.cfg.Messages[s.rng.Intn(len(s.cfg.Messages))]
	s.mu.Unlock()

	if err := s.pub.TypingStop(s.ctx, nil, user); err != nil {
		s.log.WithError(err).WithField("user", user).Debug("typing stop not delivered")
		return
	}
	if !send {
		return
	}
	if err := s.pub.SendMessage(s.ctx, nil, user, text); err != nil {
		s.log.WithError(err).WithField("user", user).Debug("message not delivered")
	}
}

// nextInterval and jitter must be called with mu held.
func (s *Simulator) nextInterval() time.Duration {
	return s.cfg.Interval + s.jitter(s.cfg.IntervalJitter)
}

func (s *Simulator) jitter(span time.Duration) time.Duration {
	if span <= 0 {
		return 0
	}
	return time.Duration(s.rng.Int63n(int64(span)))
}
