// Package fall implements on-device multi-sensor fall detection.
//
// Two independent producer streams (accelerometer and gyroscope) are merged
// into a single consumer goroutine that exclusively owns the detection state
// machine, so no flag is ever mutated from two callback contexts:
//
//	Idle -> Armed -> ImpactSuspected -> (Confirmed | Reset)
//
// An impact is suspected when either sensor's rolling-average magnitude
// exceeds its threshold. A fall is confirmed when the wearer goes immobile
// within the post-impact check window; otherwise the suspicion is reset as a
// false positive. Confirmed falls within the cooldown of a previous one are
// silently suppressed.
//
// All state-machine decisions are made in event time (sample timestamps),
// which keeps the detector deterministic under test and independent of
// scheduling jitter; the device feeds samples at a fixed cadence, so event
// time always advances.
package fall

import (
	"log/slog"
	"sync"
	"time"

	"trekmate/internal/config"
	"trekmate/internal/types"
)

// sensorKind distinguishes the two merged input streams.
type sensorKind int

const (
	sensorAccel sensorKind = iota
	sensorGyro
)

// taggedSample is one sample on the merged ingestion channel.
type taggedSample struct {
	kind   sensorKind
	sample types.MotionSample
}

// ingestBuffer sizes the merged channel. At a 100ms cadence per stream this
// absorbs well over a second of backlog before samples are dropped.
const ingestBuffer = 64

// rollingWindow is a fixed-size ring buffer with a running sum, giving O(1)
// rolling averages over the last N magnitudes.
type rollingWindow struct {
	buf   []float64
	next  int
	count int
	sum   float64
}

func newRollingWindow(size int) *rollingWindow {
	return &rollingWindow{buf: make([]float64, size)}
}

func (w *rollingWindow) push(v float64) {
	if w.count == len(w.buf) {
		w.sum -= w.buf[w.next]
	} else {
		w.count++
	}
	w.buf[w.next] = v
	w.sum += v
	w.next = (w.next + 1) % len(w.buf)
}

func (w *rollingWindow) average() float64 {
	if w.count == 0 {
		return 0
	}
	return w.sum / float64(w.count)
}

func (w *rollingWindow) reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.next = 0
	w.count = 0
	w.sum = 0
}

// Detector consumes two motion-sensor streams and emits a single confirmed
// fall signal through the registered callback. Start and Stop are safe to
// call from any goroutine; detection state is owned by the run loop alone.
type Detector struct {
	cfg    config.FallConfig
	onFall func(at time.Time)
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	in      chan taggedSample
	stop    chan struct{}
	done    chan struct{}
}

// NewDetector creates a Detector. The onFall callback is invoked exactly
// once per confirmed fall (outside the cooldown window) from the consumer
// goroutine; it must not block for long.
func NewDetector(cfg config.FallConfig, onFall func(at time.Time), logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:    cfg,
		onFall: onFall,
		logger: logger,
	}
}

// Start arms the detector and begins consuming samples. Calling Start on a
// running detector is a no-op.
func (d *Detector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.in = make(chan taggedSample, ingestBuffer)
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.running = true
	go d.run(d.in, d.stop, d.done)
	d.logger.Info("fall detector armed",
		"accel_threshold", d.cfg.AccelerationThreshold,
		"gyro_threshold", d.cfg.GyroRotationThreshold,
		"window", d.cfg.WindowSize,
	)
}

// Stop unsubscribes both streams, clears all buffers and flags, and returns
// the detector to idle. Idempotent.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	done := d.done
	d.mu.Unlock()

	<-done
	d.logger.Info("fall detector stopped")
}

// IngestAccel feeds one accelerometer sample. Samples arriving while the
// detector is stopped, or while the ingestion buffer is full, are dropped.
func (d *Detector) IngestAccel(s types.MotionSample) {
	d.ingest(taggedSample{kind: sensorAccel, sample: s})
}

// IngestGyro feeds one gyroscope (rotation rate) sample.
func (d *Detector) IngestGyro(s types.MotionSample) {
	d.ingest(taggedSample{kind: sensorGyro, sample: s})
}

func (d *Detector) ingest(ts taggedSample) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	in, stop := d.in, d.stop
	d.mu.Unlock()

	select {
	case in <- ts:
	case <-stop:
	default:
		// Buffer full: drop rather than block the sensor callback.
	}
}

// detectionState is the run loop's exclusively-owned mutable state.
type detectionState struct {
	accel *rollingWindow
	gyro  *rollingWindow

	accelSeen int
	gyroSeen  int

	impactDetected bool
	impactAt       time.Time
	lastFallAt     time.Time
}

// run is the single consumer loop. It is the only goroutine that touches
// detectionState.
func (d *Detector) run(in <-chan taggedSample, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	st := &detectionState{
		accel: newRollingWindow(d.cfg.WindowSize),
		gyro:  newRollingWindow(d.cfg.WindowSize),
	}

	for {
		select {
		case <-stop:
			return
		case ts := <-in:
			d.consume(st, ts)
		}
	}
}

// consume advances the state machine for one sample.
func (d *Detector) consume(st *detectionState, ts taggedSample) {
	switch ts.kind {
	case sensorAccel:
		st.accel.push(ts.sample.Magnitude)
		st.accelSeen++
	case sensorGyro:
		st.gyro.push(ts.sample.Magnitude)
		st.gyroSeen++
	}

	now := ts.sample.Timestamp

	if st.impactDetected {
		d.checkImmobility(st, ts, now)
		return
	}

	d.checkImpact(st, now)
}

// checkImpact transitions Armed -> ImpactSuspected when either rolling
// average crosses its threshold. Each sensor is ignored until it has seen
// the minimum number of samples.
func (d *Detector) checkImpact(st *detectionState, now time.Time) {
	accelHit := st.accelSeen >= d.cfg.MinDetectionSamples &&
		st.accel.average() > d.cfg.AccelerationThreshold
	gyroHit := st.gyroSeen >= d.cfg.MinDetectionSamples &&
		st.gyro.average() > d.cfg.GyroRotationThreshold

	if !accelHit && !gyroHit {
		return
	}

	// Both streams race to set impactDetected; the caller already returns
	// early when it is set, so the first writer wins and no second
	// immobility check is scheduled.
	st.impactDetected = true
	st.impactAt = now
	d.logger.Warn("impact suspected",
		"accel_avg", st.accel.average(),
		"gyro_avg", st.gyro.average(),
		"at", now,
	)
}

// checkImmobility resolves an ImpactSuspected state: Confirmed when the
// accelerometer rolling average drops below the post-fall motion threshold
// at or after the check delay, Reset when more than twice the delay elapses
// without immobility.
func (d *Detector) checkImmobility(st *detectionState, ts taggedSample, now time.Time) {
	elapsed := now.Sub(st.impactAt)

	if elapsed > 2*d.cfg.PostFallCheckDuration {
		// False positive: wearer kept moving.
		st.impactDetected = false
		st.impactAt = time.Time{}
		d.logger.Info("impact reset, motion resumed", "elapsed", elapsed)
		return
	}

	if ts.kind != sensorAccel || elapsed < d.cfg.PostFallCheckDuration {
		return
	}

	if st.accel.average() < d.cfg.PostFallMotionThreshold {
		st.impactDetected = false
		st.impactAt = time.Time{}
		d.confirm(st, now)
	}
}

// confirm handles a confirmed fall: duplicate confirmations within the
// cooldown are suppressed, otherwise the callback fires exactly once.
func (d *Detector) confirm(st *detectionState, now time.Time) {
	if !st.lastFallAt.IsZero() && now.Sub(st.lastFallAt) < d.cfg.Cooldown {
		d.logger.Info("fall confirmed within cooldown, suppressed",
			"since_last", now.Sub(st.lastFallAt))
		return
	}
	st.lastFallAt = now
	d.logger.Warn("fall confirmed", "at", now)
	if d.onFall != nil {
		d.onFall(now)
	}
}
