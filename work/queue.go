// ABOUTME: Staged work-packet queue drained by a fixed set of worker goroutines
// ABOUTME: Packets of a later stage start only after every earlier stage is drained

package work

import (
	"fmt"
	"sync"

	"github.com/prateek/heapscan/opaque"
)

// Stage orders packets: all Prepare packets finish before any Closure packet starts
type Stage int

const (
	Prepare Stage = iota
	Closure
	numStages
)

func (s Stage) String() string {
	switch s {
	case Prepare:
		return "prepare"
	case Closure:
		return "closure"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Packet is a unit of collector work
type Packet interface {
	Do(w *Worker)
}

// PacketFunc adapts a function to Packet
type PacketFunc func(w *Worker)

// Do calls f
func (f PacketFunc) Do(w *Worker) { f(w) }

// Worker is the context a packet runs in
type Worker struct {
	ID  int
	TLS opaque.WorkerThread
	q   *Queue
}

// Add queues a packet on the worker's queue
func (w *Worker) Add(stage Stage, p Packet) {
	w.q.Add(stage, p)
}

// Queue holds packets per stage. Run drains it; packets may add more packets
// while it runs.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buckets  [numStages][]Packet
	running  [numStages]int
	executed int
	failure  any
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add queues p on stage
func (q *Queue) Add(stage Stage, p Packet) {
	if stage < 0 || stage >= numStages {
		panic(fmt.Sprintf("work: unknown %s", stage))
	}
	q.mu.Lock()
	q.buckets[stage] = append(q.buckets[stage], p)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Len returns the number of queued packets in stage
func (q *Queue) Len(stage Stage) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buckets[stage])
}

// Run drains the queue with n workers and returns the number of packets
// executed. It returns once no packet is queued or running. A panic in a
// packet stops the other workers and is re-raised here.
func (q *Queue) Run(n int) int {
	if n <= 0 {
		n = 1
	}
	q.mu.Lock()
	q.executed = 0
	q.failure = nil
	q.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		w := &Worker{ID: i, TLS: opaque.WorkerThread{Thread: opaque.Thread(i + 1)}, q: q}
		go func() {
			defer wg.Done()
			q.work(w)
		}()
	}
	wg.Wait()

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failure != nil {
		failure := q.failure
		for s := range q.buckets {
			q.buckets[s] = nil
		}
		panic(failure)
	}
	return q.executed
}

func (q *Queue) work(w *Worker) {
	for {
		p, stage, ok := q.next()
		if !ok {
			return
		}
		q.do(w, p, stage)
	}
}

func (q *Queue) do(w *Worker, p Packet, stage Stage) {
	defer func() {
		r := recover()
		q.mu.Lock()
		q.running[stage]--
		q.executed++
		if r != nil && q.failure == nil {
			q.failure = r
		}
		q.mu.Unlock()
		q.cond.Broadcast()
	}()
	p.Do(w)
}

// next blocks until a packet is runnable or the queue is finished
func (q *Queue) next() (Packet, Stage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.failure != nil {
			return nil, 0, false
		}
		busy := false
		for s := Stage(0); s < numStages; s++ {
			if len(q.buckets[s]) > 0 && !busy {
				last := len(q.buckets[s]) - 1
				p := q.buckets[s][last]
				q.buckets[s][last] = nil
				q.buckets[s] = q.buckets[s][:last]
				q.running[s]++
				return p, s, true
			}
			if len(q.buckets[s]) > 0 || q.running[s] > 0 {
				busy = true
			}
		}
		if !busy {
			return nil, 0, false
		}
		q.cond.Wait()
	}
}
