package orchestration

import (
	"container/heap"
	"math/rand"
	"sync"
	"time"
)

// WatchJob is one watched target waiting for its next check.
type WatchJob struct {
	Target   string
	Due      time.Time
	Failures int
	index    int
}

// WatchSchedule orders watch jobs by due time. A failed check is retried
// with jittered exponential backoff that never exceeds the normal interval.
type WatchSchedule struct {
	mu          sync.Mutex
	jobs        jobQueue
	byTarget    map[string]*WatchJob
	interval    time.Duration
	baseBackoff time.Duration
	jitterPct   float64
	rng         *rand.Rand
}

func NewWatchSchedule(interval time.Duration) *WatchSchedule {
	s := &WatchSchedule{
		byTarget:    make(map[string]*WatchJob),
		interval:    interval,
		baseBackoff: time.Minute,
		jitterPct:   0.2,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	heap.Init(&s.jobs)
	return s
}

// Add queues target for a check at due. Adding a known target is a no-op.
func (s *WatchSchedule) Add(target string, due time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byTarget[target]; ok {
		return
	}
	job := &WatchJob{Target: target, Due: due, index: -1}
	heap.Push(&s.jobs, job)
	s.byTarget[target] = job
}

// Ready pops every job due at or before now, earliest first.
func (s *WatchSchedule) Ready(now time.Time) []*WatchJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*WatchJob
	for s.jobs.Len() > 0 && !s.jobs[0].Due.After(now) {
		job := heap.Pop(&s.jobs).(*WatchJob)
		delete(s.byTarget, job.Target)
		out = append(out, job)
	}
	return out
}

// Next reports when the earliest job becomes due.
func (s *WatchSchedule) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs.Len() == 0 {
		return time.Time{}, false
	}
	return s.jobs[0].Due, true
}

// Done requeues job after a check.
func (s *WatchSchedule) Done(job *WatchJob, now time.Time, failed bool) {
	if failed {
		job.Failures++
		job.Due = now.Add(s.backoff(job.Failures))
	} else {
		job.Failures = 0
		job.Due = now.Add(s.interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.jobs, job)
	s.byTarget[job.Target] = job
}

func (s *WatchSchedule) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Len()
}

func (s *WatchSchedule) GetStats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	failing := 0
	for _, j := range s.jobs {
		if j.Failures > 0 {
			failing++
		}
	}
	return map[string]interface{}{
		"queued":   s.jobs.Len(),
		"failing":  failing,
		"interval": s.interval.String(),
	}
}

func (s *WatchSchedule) backoff(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	backoff := s.baseBackoff
	for i := 1; i < failures && backoff < s.interval; i++ {
		backoff *= 2
	}
	if s.jitterPct > 0 {
		delta := time.Duration(float64(backoff) * s.jitterPct)
		s.mu.Lock()
		off := time.Duration(s.rng.Int63n(int64(2*delta+1))) - delta
		s.mu.Unlock()
		backoff += off
	}
	if backoff > s.interval {
		backoff = s.interval
	}
	if backoff < 0 {
		backoff = 0
	}
	return backoff
}

type jobQueue []*WatchJob

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].Due.Equal(q[j].Due) {
		return q[i].Target < q[j].Target
	}
	return q[i].Due.Before(q[j].Due)
}

func (q jobQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *jobQueue) Push(x interface{}) {
	item := x.(*WatchJob)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *jobQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	item.index = -1
	old[n-1] = nil
	*q = old[0 : n-1]
	return item
}
