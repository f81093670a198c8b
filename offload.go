// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package coro

import (
	"fmt"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

const (
	// offloadWorkers is the number of worker threads serving blocking calls.
	offloadWorkers = 4
	// offloadCapacity bounds each per-worker queue pair.
	offloadCapacity = 64
)

// offloadJob carries one blocking call from the loop to a worker.
type offloadJob struct {
	t     *Task
	token uint32
	fn    func() (any, error)
}

// offloadDone carries the outcome back to the loop.
type offloadDone struct {
	t     *Task
	token uint32
	v     any
	err   error
}

// offloadWorker owns one inbound and one outbound queue. Each queue has
// exactly one producer and one consumer: the loop goroutine submits and
// drains, the worker goroutine consumes and completes, so bounded
// lock-free SPSC rings suffice on both legs.
type offloadWorker struct {
	in  lfq.SPSC[offloadJob]
	out lfq.SPSC[offloadDone]
}

// offloadPool is the lazily started pool of blocking-call workers.
// Jobs are distributed round-robin; results re-enter the loop through
// drain on the next turn, with an eventfd wakeup to cut the poll short.
type offloadPool struct {
	workers []*offloadWorker
	next    int
	stop    atomix.Uint32
	started bool
}

// start launches the workers on first use. Loop-goroutine only.
func (p *offloadPool) start(l *Loop) {
	if p.started {
		return
	}
	p.started = true
	p.workers = make([]*offloadWorker, offloadWorkers)
	for i := range p.workers {
		w := &offloadWorker{}
		w.in.Init(offloadCapacity)
		w.out.Init(offloadCapacity)
		p.workers[i] = w
		go w.run(l, &p.stop)
	}
}

// submit hands a job to the next worker round-robin. A full ring means
// the workers are saturated: completed jobs are drained to reclaim ring
// capacity before retrying, so submission keeps pace with a worker that
// is itself blocked on a full completion ring.
func (p *offloadPool) submit(l *Loop, j offloadJob) {
	w := p.workers[p.next]
	p.next = (p.next + 1) % len(p.workers)
	var bo iox.Backoff
	for w.in.Enqueue(&j) != nil {
		if p.drain(l) == 0 {
			bo.Wait()
		} else {
			bo.Reset()
		}
	}
}

// drain moves completed jobs back onto the loop, waking each live parked
// task with its outcome. Stale completions (task already cancelled) are
// dropped. Returns the number of tasks woken.
func (p *offloadPool) drain(l *Loop) int {
	woken := 0
	for _, w := range p.workers {
		for {
			d, err := w.out.Dequeue()
			if err != nil {
				break
			}
			if d.token != d.t.token {
				continue
			}
			if d.err != nil {
				l.wake(d.t, leftAny(d.err))
			} else {
				l.wake(d.t, rightAny(d.v))
			}
			woken++
		}
	}
	return woken
}

// pending reports whether any submitted job has not yet been drained.
// Loop-goroutine only: submissions and drains both happen there, so the
// count is exact from the loop's point of view.
func (p *offloadPool) pending(l *Loop) bool {
	for t := range l.tasks {
		if t.state == StateSuspendedOffload {
			return true
		}
	}
	return false
}

// shutdown signals the workers to exit after their queues drain.
func (p *offloadPool) shutdown() {
	p.stop.Store(1)
}

// run is the worker thread: dequeue, call, complete, wake the loop.
// Adaptive backoff keeps idle workers cheap without missing submissions.
func (w *offloadWorker) run(l *Loop, stop *atomix.Uint32) {
	var bo iox.Backoff
	for {
		j, err := w.in.Dequeue()
		if err != nil {
			if stop.Load() != 0 {
				return
			}
			bo.Wait()
			continue
		}
		bo.Reset()
		d := offloadDone{t: j.t, token: j.token}
		d.v, d.err = callGuarded(j.fn)
		for w.out.Enqueue(&d) != nil {
			bo.Wait()
		}
		l.mux.wakeup()
	}
}

// callGuarded runs the blocking call, converting a panic into an error so
// a faulty callee cannot take the worker thread down.
func callGuarded(fn func() (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("coro: offloaded call panicked: %v", r)
		}
	}()
	return fn()
}
