// Package tick drives a consumer function at a fixed rate on a single goroutine.
// Everything scheduled through a Loop runs serialized on the arbiter goroutine,
// so a consumer draining events and sending replies needs no locking of its own.
package tick

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Meander-Cloud/go-arbiter/arbiter"
	"github.com/Meander-Cloud/go-schedule/scheduler"

	"github.com/Meander-Cloud/go-netevent/config"
	"github.com/Meander-Cloud/go-netevent/group"
)

type Options struct {
	// ticks per second, zero selects config.TickRate
	Rate uint16

	LogPrefix string
	LogDebug  bool
}

type Loop struct {
	options *Options
	period  time.Duration
	a       *arbiter.Arbiter[group.Group]
	ticks   atomic.Uint64

	// arbiter goroutine only
	running bool

	shutdownOnce sync.Once
}

func New(options *Options) *Loop {
	var rate uint16
	if options.Rate == 0 {
		rate = config.TickRate
	} else {
		rate = options.Rate
	}

	l := &Loop{
		options: options,
		period:  time.Second / time.Duration(rate),
		a: arbiter.New(
			&arbiter.Options[group.Group]{
				LogPrefix: options.LogPrefix + "-Arbiter",
				LogDebug:  options.LogDebug,
				LogEvent:  false,
			},
		),
	}

	log.Printf("%s: tick loop created, rate=%d, period=%v", options.LogPrefix, rate, l.period)
	return l
}

func (l *Loop) Period() time.Duration {
	return l.period
}

// Ticks returns the number of ticks run so far.
func (l *Loop) Ticks() uint64 {
	return l.ticks.Load()
}

// Start runs fn every period until Stop, replacing a function already running.
func (l *Loop) Start(fn func(tick uint64)) {
	l.a.Dispatch(
		func() {
			// invoked on arbiter goroutine
			l.running = true

			l.a.Scheduler().ProcessSync(
				&scheduler.ScheduleAsyncEvent[group.Group]{
					AsyncVariant: scheduler.TickerAsync(
						true,
						[]group.Group{group.GroupTick},
						l.period,
						func() {
							// invoked on arbiter goroutine
							fn(l.ticks.Add(1))
						},
						func(selectCount uint32) {
							// invoked on arbiter goroutine
							if l.options.LogDebug {
								log.Printf("%s: %s released, selectCount=%d", l.options.LogPrefix, group.GroupTick, selectCount)
							}
						},
					),
				},
			)
		},
	)
}

// Stop pauses the tick function, Start resumes it.
func (l *Loop) Stop() {
	l.a.Dispatch(
		func() {
			// invoked on arbiter goroutine
			if !l.running {
				// no-op
				return
			}
			l.running = false

			l.a.Scheduler().ProcessSync(
				&scheduler.ReleaseGroupEvent[group.Group]{
					Group: group.GroupTick,
				},
			)
		},
	)
}

// After runs f once on the loop goroutine after d.
func (l *Loop) After(d time.Duration, f func()) {
	l.a.Dispatch(
		func() {
			// invoked on arbiter goroutine
			l.a.Scheduler().ProcessSync(
				&scheduler.ScheduleAsyncEvent[group.Group]{
					AsyncVariant: scheduler.TimerAsync(
						false,
						[]group.Group{group.GroupTimer},
						d,
						f,
						nil,
					),
				},
			)
		},
	)
}

// Dispatch runs f on the loop goroutine, serialized with ticks.
func (l *Loop) Dispatch(f func()) {
	l.a.Dispatch(f)
}

// Shutdown stops ticks and pending timers and waits for the loop goroutine.
func (l *Loop) Shutdown() {
	l.shutdownOnce.Do(func() {
		log.Printf("%s: tick loop shutting down after %d ticks", l.options.LogPrefix, l.ticks.Load())
		l.a.Shutdown() // wait
	})
}
