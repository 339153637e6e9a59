package events

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Dispatcher puts publishing behind bounded local queues so the live path
// never waits on Kafka. Records for one document always land on the same
// shard and are published in the order they were enqueued. A full shard drops
// the record. Nothing is retried.
type Dispatcher struct {
	pub     Publisher
	shards  []chan job
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type DispatcherOptions struct {
	QueueSize   int // total across shards
	Workers     int
	SendTimeout time.Duration
}

type job struct {
	op  *OperationRecord
	evt *DocumentEvent
}

func (j job) docID() string {
	if j.op != nil {
		return j.op.DocumentID
	}
	return j.evt.DocumentID
}

func NewDispatcher(pub Publisher, opt DispatcherOptions) *Dispatcher {
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 10_000
	}
	if opt.SendTimeout <= 0 {
		opt.SendTimeout = 5 * time.Second
	}
	per := opt.QueueSize / opt.Workers
	if per < 1 {
		per = 1
	}
	d := &Dispatcher{pub: pub, timeout: opt.SendTimeout, shards: make([]chan job, opt.Workers)}
	for i := range d.shards {
		d.shards[i] = make(chan job, per)
	}
	d.Start()
	return d
}

func (d *Dispatcher) Start() {
	for i, q := range d.shards {
		d.wg.Add(1)
		go d.workerLoop(i, q)
	}
}

// Operation enqueues rec without blocking.
func (d *Dispatcher) Operation(rec OperationRecord) error {
	return d.enqueue(job{op: &rec})
}

// Event enqueues evt without blocking.
func (d *Dispatcher) Event(evt DocumentEvent) error {
	return d.enqueue(job{evt: &evt})
}

func (d *Dispatcher) enqueue(j job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.shards[shardOf(j.docID(), len(d.shards))] <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func shardOf(docID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(docID))
	return int(h.Sum32() % uint32(n))
}

func (d *Dispatcher) workerLoop(workerID int, q <-chan job) {
	defer d.wg.Done()
	for j := range q {
		d.sendOnce(workerID, j)
	}
}

func (d *Dispatcher) sendOnce(workerID int, j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var err error
	if j.op != nil {
		err = d.pub.PublishOperation(ctx, *j.op)
	} else {
		err = d.pub.PublishEvent(ctx, *j.evt)
	}
	if err != nil {
		ev := log.Error().Err(err).Int("worker", workerID).Str("docId", j.docID())
		if j.op != nil {
			ev = ev.Str("type", string(j.op.Type)).Int64("version", j.op.Version)
		} else {
			ev = ev.Str("type", string(j.evt.Type))
		}
		ev.Msg("publish failed, record dropped")
	}
}

// Close stops accepting records and waits for queued ones to be published,
// or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.shards {
		close(q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
