package wsutil

import (
	"sync"
	"sync/atomic"
	"time"
)

// Time is a UnixNano timestamp.
type Time = int64

// Pacemaker periodically calls Pace. A missed echo does not stop the loop;
// the voice node closing the WebSocket does.
type Pacemaker struct {
	// Heartrate is the received duration between heartbeats.
	Heartrate time.Duration

	// Time in nanoseconds, guarded by atomic read/writes.
	SentBeat Time
	EchoBeat Time

	// Pace is the callback that sends one heartbeat. Any error returned will
	// stop the pacer.
	Pace func() error

	stop  chan struct{}
	death chan error
}

// Echo records the acknowledgement of the last sent beat.
func (p *Pacemaker) Echo() {
	atomic.StoreInt64(&p.EchoBeat, time.Now().UnixNano())
}

// Dead reports whether the last two beats went unacknowledged.
func (p *Pacemaker) Dead() bool {
	var (
		echo = atomic.LoadInt64(&p.EchoBeat)
		sent = atomic.LoadInt64(&p.SentBeat)
	)

	if echo == 0 || sent == 0 {
		return false
	}

	return sent-echo > int64(p.Heartrate)*2
}

// Latency is the duration between the last sent beat and its echo. It is zero
// while the last sent beat is still unacknowledged.
func (p *Pacemaker) Latency() time.Duration {
	var (
		echo = atomic.LoadInt64(&p.EchoBeat)
		sent = atomic.LoadInt64(&p.SentBeat)
	)

	if echo == 0 || sent == 0 || echo < sent {
		return 0
	}

	return time.Duration(echo - sent)
}

func (p *Pacemaker) Stop() {
	if p.stop != nil {
		p.stop <- struct{}{}
		WSDebug("(*Pacemaker).stop was sent a stop signal.")
	} else {
		WSDebug("(*Pacemaker).stop is nil, skipping.")
	}
}

func (p *Pacemaker) start() error {
	tick := time.NewTicker(p.Heartrate)
	defer tick.Stop()

	for {
		if err := p.Pace(); err != nil {
			return err
		}

		// Paced, save:
		atomic.StoreInt64(&p.SentBeat, time.Now().UnixNano())

		select {
		case <-p.stop:
			return nil

		case <-tick.C:
		}
	}
}

// StartAsync starts the pacemaker asynchronously. The WaitGroup is marked
// done once the loop exits.
func (p *Pacemaker) StartAsync(wg *sync.WaitGroup) (death chan error) {
	// Buffered so that neither the loop nor Stop can block on a peer that
	// already exited.
	p.death = make(chan error, 1)
	p.stop = make(chan struct{}, 1)

	wg.Add(1)

	go func() {
		p.death <- p.start()
		WSDebug("Pacemaker returned.")
		// Mark the stop channel as nil, so later Close() calls won't block forever.
		p.stop = nil
		wg.Done()
	}()

	return p.death
}
