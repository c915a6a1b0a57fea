// Package engine runs the town. One goroutine owns all world state; decision
// requests run concurrently but only ever touch the world through result
// values drained from a channel at the start of each tick.
package engine

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"tinytown.ai/internal/eventlog"
	"tinytown.ai/internal/llm"
	"tinytown.ai/internal/protocol"
	"tinytown.ai/internal/registry"
	"tinytown.ai/internal/sim/character"
	"tinytown.ai/internal/sim/clock"
	"tinytown.ai/internal/sim/townmap"
	"tinytown.ai/internal/sim/tuning"
)

// result is a completed asynchronous request. apply runs on the tick
// goroutine and is the only place request outcomes mutate world state.
type result interface {
	apply(e *Engine)
}

// StatePublisher receives the town state document after every tick.
type StatePublisher interface {
	PublishState(protocol.TownStateMsg)
}

type pairKey struct {
	a, b string
}

func newPairKey(n1, n2 string) pairKey {
	if n1 > n2 {
		n1, n2 = n2, n1
	}
	return pairKey{a: n1, b: n2}
}

type Engine struct {
	cfg    tuning.Tuning
	clock  *clock.Clock
	tmap   *townmap.Map
	reg    *registry.Registry
	chars  []*character.Character
	svc    llm.Service
	sink   eventlog.Sink
	pub    StatePublisher
	logger *log.Logger

	rng       randSource
	endTime   time.Time
	cooldowns map[pairKey]time.Time

	results  chan result
	inflight atomic.Int64
	ticks    atomic.Uint64
	seq      uint64

	baseCtx context.Context
}

// randSource is the subset of math/rand the engine draws from; tests inject
// fixed sequences.
type randSource interface {
	Float64() float64
}

// Options carries the wiring the engine does not own.
type Options struct {
	Tuning    tuning.Tuning
	Clock     *clock.Clock
	Map       *townmap.Map
	Registry  *registry.Registry
	Chars     []*character.Character
	Service   llm.Service
	Sink      eventlog.Sink
	Publisher StatePublisher
	Logger    *log.Logger
	Rand      randSource
}

func New(opts Options) *Engine {
	e := &Engine{
		cfg:       opts.Tuning,
		clock:     opts.Clock,
		tmap:      opts.Map,
		reg:       opts.Registry,
		chars:     opts.Chars,
		svc:       opts.Service,
		sink:      opts.Sink,
		pub:       opts.Publisher,
		logger:    opts.Logger,
		rng:       opts.Rand,
		cooldowns: map[pairKey]time.Time{},
		results:   make(chan result, 64),
		baseCtx:   context.Background(),
	}
	e.endTime = e.clock.Now().Add(time.Duration(e.cfg.DurationDays) * 24 * time.Hour)
	return e
}

// Characters exposes the roster for state publication and tests.
func (e *Engine) Characters() []*character.Character { return e.chars }

// Clock exposes the game clock.
func (e *Engine) Clock() *clock.Clock { return e.clock }

// Inflight reports the number of outstanding decision requests. Safe to call
// from other goroutines, e.g. the metrics handler.
func (e *Engine) Inflight() int64 { return e.inflight.Load() }

// TickCount reports how many ticks have run.
func (e *Engine) TickCount() uint64 { return e.ticks.Load() }

// Run advances the simulation on a wall-clock ticker until the end condition
// holds or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.baseCtx = ctx
	interval := time.Duration(e.cfg.TickIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drainRemaining()
			return ctx.Err()
		case <-ticker.C:
			if !e.Tick() {
				e.drainRemaining()
				return nil
			}
		}
	}
}

// Tick advances game time by one step. Returns false once the simulation has
// reached its end condition.
func (e *Engine) Tick() bool {
	e.ticks.Add(1)
	e.drainResults()

	e.clock.Tick(e.cfg.MinutesPerTick)
	now := e.clock.Now()

	if !now.Before(e.endTime.Add(-time.Duration(e.cfg.EarlyEndWindowMinutes) * time.Minute)) {
		if e.allSleeping() {
			e.logger.Printf("simulation finished: duration reached and all residents are sleeping")
			e.publishState()
			return false
		}
	}

	e.handleInteractions(now)

	for _, c := range e.chars {
		if c.Busy(now) || c.IsThinking {
			continue
		}
		e.dispatchPlanning(c)
	}

	e.publishState()
	return true
}

func (e *Engine) allSleeping() bool {
	for _, c := range e.chars {
		if !c.IsSleeping() {
			return false
		}
	}
	return true
}

// drainResults applies every completed request without blocking.
func (e *Engine) drainResults() {
	for {
		select {
		case r := <-e.results:
			e.inflight.Add(-1)
			r.apply(e)
		default:
			return
		}
	}
}

// drainRemaining blocks until every outstanding request has been applied, so
// shutdown never abandons a thinking character mid-flight.
func (e *Engine) drainRemaining() {
	for e.inflight.Load() > 0 {
		r := <-e.results
		e.inflight.Add(-1)
		r.apply(e)
	}
}

func (e *Engine) dispatch(fn func() result) {
	e.inflight.Add(1)
	go func() {
		e.results <- fn()
	}()
}

func (e *Engine) requestCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.baseCtx, time.Duration(e.cfg.RequestTimeoutSeconds)*time.Second)
}

func (e *Engine) clientFor(c *character.Character) llm.Service {
	if c.Client != nil {
		return c.Client
	}
	return e.svc
}

func (e *Engine) emit(ev eventlog.Event) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Append(ev); err != nil {
		e.logger.Printf("event sink: %v", err)
	}
}

func (e *Engine) publishState() {
	if e.pub == nil {
		return
	}
	e.seq++
	msg := protocol.TownStateMsg{
		Type:    protocol.MsgTownState,
		Seq:     e.seq,
		SimTime: e.clock.DisplayString(),
		IsNight: e.clock.IsNight(),
	}
	for _, c := range e.chars {
		msg.Characters = append(msg.Characters, protocol.CharacterState{
			ID:       c.ID,
			Name:     c.Profile.Name,
			Location: c.CurrentLocation,
			Status:   c.Status,
			Emoji:    c.Emoji,
		})
	}
	if sq := e.tmap.Square(); sq != nil {
		for _, n := range sq.Notices {
			msg.Notices = append(msg.Notices, protocol.NoticeState{
				Content:   n.Content,
				Author:    n.Author,
				CreatedAt: n.CreatedAt,
			})
		}
	}
	e.pub.PublishState(msg)
}
