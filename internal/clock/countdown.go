package clock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// tickInterval is the countdown cadence.
const tickInterval = time.Second

// Countdown recomputes TimeLeft once per second and hands each value to a
// callback. It stops on its own after delivering Ended. Stop may be called any
// number of times; once it returns no further callback runs, even if a tick
// was already in flight.
type Countdown struct {
	clock   clockwork.Clock
	endTime int64
	onTick  func(string)

	mu      sync.Mutex
	alive   bool
	running atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// StartCountdown delivers the current value immediately and then one value per
// tick until Ended or Stop. onTick must not call Stop.
func StartCountdown(clk clockwork.Clock, endTime int64, onTick func(string)) *Countdown {
	c := &Countdown{
		clock:   clk,
		endTime: endTime,
		onTick:  onTick,
		alive:   true,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.running.Store(true)
	go c.run()
	return c
}

func (c *Countdown) run() {
	defer close(c.done)

	if c.emit() {
		return
	}

	ticker := c.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.Chan():
			if c.emit() {
				return
			}
		}
	}
}

// emit delivers the current value if the countdown is still alive and
// reports whether the loop should exit.
func (c *Countdown) emit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive {
		return true
	}
	v := TimeLeft(c.endTime, c.clock.Now())
	ended := v == Ended
	if ended {
		c.alive = false
		c.running.Store(false)
	}
	c.onTick(v)
	return ended
}

// Running reports whether the countdown will deliver further values. It is
// false once Ended has been handed to the callback or Stop was called. It
// takes no lock.
func (c *Countdown) Running() bool {
	return c.running.Load()
}

// Stop cancels the countdown.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() {
		c.running.Store(false)
		c.mu.Lock()
		c.alive = false
		c.mu.Unlock()
		close(c.stop)
	})
}

// Done is closed once the countdown goroutine has exited.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
