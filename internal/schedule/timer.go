package schedule

import "time"

// AfterFuncTimer arms a time.AfterFunc whose callback is handed to post,
// which runs it on the loop goroutine. A call that was superseded by a
// later Arm or Stop is dropped when it reaches the loop.
type AfterFuncTimer struct {
	post  func(func())
	timer *time.Timer
	gen   uint64
}

// NewAfterFuncTimer creates a timer that delivers through post.
func NewAfterFuncTimer(post func(func())) *AfterFuncTimer {
	return &AfterFuncTimer{post: post}
}

func (t *AfterFuncTimer) Arm(d time.Duration, fn func()) {
	t.Stop()
	gen := t.gen
	t.timer = time.AfterFunc(d, func() {
		t.post(func() {
			if gen == t.gen {
				fn()
			}
		})
	})
}

func (t *AfterFuncTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}
