package agent

import (
	"context"
	"slices"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"funneltrace/api/logger"
	"funneltrace/api/models"
)

// Delivery queues events and ships them in batches.
//
// A batch goes to the primary transport first. If that fails, times out or
// the breaker is open, the batch is handed to the beacon; if the beacon
// cannot take it either, the batch is put back at the front of the queue for
// the next flush. Nothing survives the process.
type Delivery struct {
	mu      sync.Mutex
	queue   []models.TrackRecord
	timer   Timer
	stopped bool

	batchSize   int
	interval    time.Duration
	sendTimeout time.Duration
	clock       Clock

	primary Transport
	beacon  BestEffortSender
	breaker *gobreaker.CircuitBreaker[struct{}]

	wg sync.WaitGroup
}

func newDelivery(opts Options, primary Transport, beacon BestEffortSender) *Delivery {
	return &Delivery{
		batchSize:   opts.BatchSize,
		interval:    opts.FlushInterval,
		sendTimeout: opts.SendTimeout,
		clock:       opts.Clock,
		primary:     primary,
		beacon:      beacon,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "collector",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log := logger.WithComponent("agent")
				log.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("transport breaker state changed")
			},
		}),
	}
}

// start arms the periodic flush.
func (d *Delivery) start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.timer != nil {
		return
	}
	d.timer = d.clock.AfterFunc(d.interval, d.tick)
}

func (d *Delivery) tick() {
	d.Flush()

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.stopped {
		d.timer = d.clock.AfterFunc(d.interval, d.tick)
	}
}

// Enqueue appends one event. The event that fills the batch swaps the whole
// queue out for sending before anything else can be appended.
func (d *Delivery) Enqueue(rec models.TrackRecord) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, rec)
	var batch []models.TrackRecord
	if len(d.queue) >= d.batchSize {
		batch = d.takeLocked()
	}
	d.mu.Unlock()

	if batch != nil {
		d.dispatch(batch)
	}
}

// Flush sends whatever is queued.
func (d *Delivery) Flush() {
	d.mu.Lock()
	batch := d.takeLocked()
	d.mu.Unlock()

	if len(batch) > 0 {
		d.dispatch(batch)
	}
}

// Unload stops the flush timer and hands the remaining queue to the beacon
// once. Events enqueued afterwards are dropped.
func (d *Delivery) Unload() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	batch := d.takeLocked()
	d.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := d.beacon.SendBeacon(batch); err != nil {
		log := logger.WithComponent("agent")
		log.Info().Err(err).Int("count", len(batch)).Msg("unload beacon failed, events dropped")
	}
}

// Wait blocks until in-flight sends have finished.
func (d *Delivery) Wait() {
	d.wg.Wait()
}

// Len reports how many events are queued.
func (d *Delivery) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Delivery) takeLocked() []models.TrackRecord {
	batch := d.queue
	d.queue = nil
	return batch
}

func (d *Delivery) dispatch(batch []models.TrackRecord) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.send(batch)
	}()
}

func (d *Delivery) send(batch []models.TrackRecord) {
	log := logger.WithComponent("agent")

	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	_, err := d.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, d.primary.Send(ctx, batch)
	})
	cancel()
	if err == nil {
		return
	}
	log.Warn().Err(err).Int("count", len(batch)).Msg("batch delivery failed, falling back to beacon")

	if err := d.beacon.SendBeacon(batch); err != nil {
		log.Info().Err(err).Int("count", len(batch)).Msg("beacon refused batch, requeueing")
		d.requeue(batch)
	}
}

// requeue puts a failed batch back at the front. If events queued meanwhile
// push the queue past the batch size, everything is sent again at once.
// A requeue onto an empty queue waits for the next flush, so a dead
// transport is retried once per interval rather than in a loop.
func (d *Delivery) requeue(batch []models.TrackRecord) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	pending := len(d.queue)
	d.queue = append(slices.Clone(batch), d.queue...)
	var retry []models.TrackRecord
	if pending > 0 && len(d.queue) > d.batchSize {
		retry = d.takeLocked()
	}
	d.mu.Unlock()

	if retry != nil {
		d.dispatch(retry)
	}
}
