// Package queue provides the deferred-dispatch collaborator. The pipeline
// treats enqueue as fire-and-forget; ordering inside one partition key is
// the queue's only guarantee.
package queue

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/openreply/pagegate/internal/platform"
)

// Job is one unit of deferred dispatch work.
type Job struct {
	TenantID     string
	ChannelID    string
	PartitionKey string
	Item         platform.Messaging
	EnqueuedAt   time.Time
}

// Queue accepts jobs keyed by a partition. Jobs sharing a key are delivered
// in order.
type Queue interface {
	Enqueue(job Job) error
}

// Consumer handles jobs taken off the queue. Errors are the consumer's
// problem; the queue does not retry.
type Consumer func(ctx context.Context, job Job)

// Partitioned is an in-process queue: jobs hash by partition key onto a
// fixed set of workers, which preserves per-key ordering without any
// cross-partition coordination.
type Partitioned struct {
	partitions []chan Job
	consume    Consumer
}

// NewPartitioned returns a queue with the given partition count and
// per-partition buffer.
func NewPartitioned(partitions, buffer int, consume Consumer) *Partitioned {
	if partitions <= 0 {
		partitions = 8
	}
	if buffer <= 0 {
		buffer = 256
	}
	chans := make([]chan Job, partitions)
	for i := range chans {
		chans[i] = make(chan Job, buffer)
	}
	return &Partitioned{partitions: chans, consume: consume}
}

// Enqueue places the job on its partition. A full partition rejects the job
// immediately rather than blocking the caller.
func (q *Partitioned) Enqueue(job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	idx := q.partition(job.PartitionKey)
	select {
	case q.partitions[idx] <- job:
		return nil
	default:
		return fmt.Errorf("queue partition %d full", idx)
	}
}

// Run consumes all partitions until ctx is cancelled.
func (q *Partitioned) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i, ch := range q.partitions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.worker(ctx, i, ch)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *Partitioned) worker(ctx context.Context, idx int, ch chan Job) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-ch:
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("queue.consumer_panic", "partition", idx, "panic", r)
					}
				}()
				q.consume(ctx, job)
			}()
		}
	}
}

func (q *Partitioned) partition(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(q.partitions)))
}
