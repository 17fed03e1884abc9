// Package playback plays the queued positions on the robot, one move at a time.
//
// The driver never holds its own copy of the queue: every step re-reads the
// live index, length and flags from the store, so edits made while playing
// (stop, clear, loop toggle, removals) take effect at the next checkpoint.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/gwillem/dofbot/pkg/queue"
	"github.com/gwillem/dofbot/pkg/robot"
)

// DefaultStepDelay is the pause between two moves.
const DefaultStepDelay = 100 * time.Millisecond

// Status texts written by the driver.
const (
	StatusNotConnected    = "Error: Robot not connected"
	StatusInvalidPosition = "Error: Invalid position format in queue"
	StatusCompleted       = "Playback completed"
	StatusQueueEmptied    = "Playback stopped: queue is empty"
	statusFailedPrefix    = "Error: Failed to play position: "
)

var (
	ErrQueueEmpty      = errors.New("queue is empty")
	ErrInvalidPosition = errors.New("invalid position format in queue")
	ErrAlreadyPlaying  = errors.New("already playing")
	ErrClosed          = errors.New("driver closed")
)

// Queue is the part of the queue store the driver reads and writes.
type Queue interface {
	Len() int
	At(i int) (queue.Position, bool)
	Index() int
	Playing() bool
	Looping() bool
	SetPlaying(playing bool) bool
	SetCurrentIndex(i int)
	SetStatus(status string)
}

// Link sends moves to the robot.
type Link interface {
	Connected() bool
	SetAngles(ctx context.Context, angles robot.Angles, d time.Duration) (robot.Angles, error)
	Connect(ctx context.Context) (robot.Angles, error)
}

// Config holds driver configuration.
type Config struct {
	StepDelay          time.Duration // pause before the first and between moves
	ReconnectOnFailure bool          // reconnect and retry a failed move once
}

// Driver advances through the queue while the playing flag is set.
type Driver struct {
	queue Queue
	link  Link
	cfg   Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	session string

	// held for the duration of a move so sessions never overlap on the wire
	moveMu sync.Mutex

	logCh chan string
}

// New creates a driver for q and l.
func New(q Queue, l Link, cfg Config) *Driver {
	if cfg.StepDelay <= 0 {
		cfg.StepDelay = DefaultStepDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		queue:  q,
		link:   l,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		logCh:  make(chan string, 50),
	}
}

// Logs returns a channel that receives log messages.
func (d *Driver) Logs() <-chan string {
	return d.logCh
}

// Session returns the ID of the current or last playback session.
func (d *Driver) Session() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// Start begins playback from the first position.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx.Err() != nil {
		return ErrClosed
	}
	if d.queue.Len() == 0 {
		return ErrQueueEmpty
	}
	if d.queue.Playing() {
		return ErrAlreadyPlaying
	}
	first, ok := d.queue.At(0)
	if !ok || !first.Valid() {
		d.queue.SetStatus(StatusInvalidPosition)
		return ErrInvalidPosition
	}

	d.queue.SetCurrentIndex(0)
	if !d.queue.SetPlaying(true) {
		return ErrQueueEmpty
	}

	session := uuid.NewString()
	d.session = session
	d.wg.Add(1)
	go d.run(session)
	return nil
}

// Stop clears the playing flag. A move already sent to the robot completes;
// nothing after it is sent.
func (d *Driver) Stop() {
	if d.queue.Playing() {
		d.log("Playback stopped")
	}
	d.queue.SetPlaying(false)
}

// Wait blocks until every playback goroutine has exited.
func (d *Driver) Wait() {
	d.wg.Wait()
}

// Close stops playback, aborts any move in flight and waits for the loop to exit.
func (d *Driver) Close() {
	d.Stop()
	d.cancel()
	d.wg.Wait()
}

func (d *Driver) run(session string) {
	defer d.wg.Done()

	log := zlog.With().Str("session", session).Logger()
	log.Info().Int("positions", d.queue.Len()).Msg("playback: started")
	d.log("Playback started (%d positions)", d.queue.Len())

	if !d.sleep(d.cfg.StepDelay) {
		return
	}
	for d.current(session) {
		if !d.step(session) {
			break
		}
		if !d.sleep(d.cfg.StepDelay) {
			break
		}
	}
	log.Info().Msg("playback: finished")
}

// step plays the position at the current index and advances the cursor.
// It reports whether the loop should continue.
func (d *Driver) step(session string) bool {
	i, n := d.queue.Index(), d.queue.Len()
	if n == 0 {
		d.log("Queue emptied")
		d.finish(session, StatusQueueEmptied)
		return false
	}
	pos, ok := d.queue.At(i)
	if !ok || !pos.Valid() {
		d.finish(session, StatusInvalidPosition)
		return false
	}
	if !d.link.Connected() {
		d.finish(session, StatusNotConnected)
		return false
	}

	if !d.setStatus(session, fmt.Sprintf("Playing position %d/%d", i+1, n)) {
		return false
	}
	d.log("Position %d/%d: %s over %dms", i+1, n, pos.Angles, pos.Duration.Milliseconds())

	if err := d.move(session, pos); err != nil {
		if !d.current(session) {
			return false
		}
		zlog.Warn().Err(err).Str("session", session).Int("index", i).Msg("playback: move failed")
		d.log("Move failed: %v", err)
		d.finish(session, statusFailedPrefix+err.Error())
		return false
	}

	return d.advance(session)
}

// advance moves the cursor to the next position, wrapping when looping, or
// completes the session at the end of the queue.
func (d *Driver) advance(session string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != session || !d.queue.Playing() {
		return false
	}

	n := d.queue.Len()
	next := d.queue.Index() + 1
	switch {
	case n == 0:
		d.log("Queue emptied")
		d.queue.SetStatus(StatusQueueEmptied)
		d.queue.SetPlaying(false)
		return false
	case next < n:
		d.queue.SetCurrentIndex(next)
	case d.queue.Looping():
		d.log("Looping to first position")
		d.queue.SetCurrentIndex(0)
	default:
		d.log("Playback completed")
		d.queue.SetStatus(StatusCompleted)
		d.queue.SetPlaying(false)
		return false
	}
	return true
}

func (d *Driver) move(session string, pos queue.Position) error {
	d.moveMu.Lock()
	defer d.moveMu.Unlock()

	// a newer session may have started while this one waited for the lock
	if !d.current(session) {
		return nil
	}

	_, err := d.link.SetAngles(d.ctx, pos.Angles, pos.Duration)
	if err == nil || !d.cfg.ReconnectOnFailure || d.ctx.Err() != nil {
		return err
	}

	d.log("Move failed (%v), reconnecting", err)
	if _, cerr := d.link.Connect(d.ctx); cerr != nil {
		d.log("Reconnect failed: %v", cerr)
		return err
	}
	_, err = d.link.SetAngles(d.ctx, pos.Angles, pos.Duration)
	return err
}

// current reports whether session is still the active playing session.
func (d *Driver) current(session string) bool {
	d.mu.Lock()
	s := d.session
	d.mu.Unlock()
	return s == session && d.queue.Playing()
}

// setStatus writes status while session is the active playing session and
// reports whether it did.
func (d *Driver) setStatus(session, status string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != session || !d.queue.Playing() {
		return false
	}
	d.queue.SetStatus(status)
	return true
}

// finish ends session with status, unless a newer session took over.
func (d *Driver) finish(session, status string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != session {
		return
	}
	d.queue.SetStatus(status)
	d.queue.SetPlaying(false)
}

func (d *Driver) sleep(dur time.Duration) bool {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-d.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (d *Driver) log(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	zlog.Debug().Msg("playback: " + msg)
	select {
	case d.logCh <- fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), msg):
	default:
		// Drop if channel full
	}
}
