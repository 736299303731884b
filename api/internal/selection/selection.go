// Package selection turns a recommendation set into one chosen menu, either
// by a direct pick or by a roulette draw.
//
// Neither Picker nor Wheel is safe for concurrent use; both are owned by the
// navigation loop that created them.
package selection

import (
	"math/rand/v2"
	"time"

	"babmutna-bot/api/internal/lunch"
)

// DefaultSettleDelay is how long the wheel "spins" before the drawn item is shown.
const DefaultSettleDelay = 4 * time.Second

type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Draw returns an index uniformly distributed over [0, n). n must be >= 1.
func Draw(r Rand, n int) int {
	if n <= 1 {
		return 0
	}
	if r == nil {
		r = globalRand{}
	}
	return r.IntN(n)
}

type Timer interface {
	Stop() bool
}

type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type RealClock struct{}

func (RealClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Picker holds the direct-pick candidate.
type Picker struct {
	set      *lunch.RecommendationSet
	selected int
}

func NewPicker(set *lunch.RecommendationSet) *Picker {
	return &Picker{set: set, selected: -1}
}

// Select marks the item named menu. Selecting the current item again changes
// nothing, selecting another one replaces it. Unknown menus are rejected.
func (p *Picker) Select(menu string) bool {
	_, i, ok := p.set.Find(menu)
	if !ok {
		return false
	}
	p.selected = i
	return true
}

func (p *Picker) Selected() (lunch.RecommendationItem, bool) {
	if p.selected < 0 {
		return lunch.RecommendationItem{}, false
	}
	return p.set.Recommendations[p.selected], true
}

func (p *Picker) CanConfirm() bool { return p.selected >= 0 }

// Confirm returns the chosen menu name; false while nothing is selected.
func (p *Picker) Confirm() (string, bool) {
	it, ok := p.Selected()
	if !ok {
		return "", false
	}
	return it.Menu, true
}

// Wheel is the roulette. The index is committed when the spin starts; the
// result becomes visible only after Settle is called for that spin.
type Wheel struct {
	items []lunch.RecommendationItem
	rnd   Rand
	clock Clock
	delay time.Duration

	spinning bool
	drawn    int
	result   int
	spinID   uint64
	timer    Timer
}

type WheelOption func(*Wheel)

func WithRand(r Rand) WheelOption { return func(w *Wheel) { w.rnd = r } }

func WithClock(c Clock) WheelOption { return func(w *Wheel) { w.clock = c } }

func WithSettleDelay(d time.Duration) WheelOption {
	return func(w *Wheel) {
		if d > 0 {
			w.delay = d
		}
	}
}

func NewWheel(items []lunch.RecommendationItem, opts ...WheelOption) *Wheel {
	w := &Wheel{
		items:  items,
		rnd:    globalRand{},
		clock:  RealClock{},
		delay:  DefaultSettleDelay,
		drawn:  -1,
		result: -1,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Spin draws a new index and schedules onSettled(spinID) after the settle
// delay. It returns false without side effects while a spin is in progress
// or when there is nothing to draw from.
func (w *Wheel) Spin(onSettled func(spinID uint64)) bool {
	if w.spinning || len(w.items) == 0 {
		return false
	}
	w.spinning = true
	w.result = -1
	w.drawn = Draw(w.rnd, len(w.items))
	w.spinID++
	id := w.spinID
	w.timer = w.clock.AfterFunc(w.delay, func() {
		if onSettled != nil {
			onSettled(id)
		}
	})
	return true
}

// Settle reveals the drawn item of spin spinID. Stale ids are ignored.
func (w *Wheel) Settle(spinID uint64) bool {
	if !w.spinning || spinID != w.spinID {
		return false
	}
	w.spinning = false
	w.result = w.drawn
	w.timer = nil
	return true
}

func (w *Wheel) Spinning() bool { return w.spinning }

func (w *Wheel) Result() (lunch.RecommendationItem, bool) {
	if w.result < 0 {
		return lunch.RecommendationItem{}, false
	}
	return w.items[w.result], true
}

// Confirm returns the revealed menu; false while spinning or before the first result.
func (w *Wheel) Confirm() (string, bool) {
	if w.spinning {
		return "", false
	}
	it, ok := w.Result()
	if !ok {
		return "", false
	}
	return it.Menu, true
}

// Stop cancels a pending reveal and invalidates the current spin.
func (w *Wheel) Stop() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.spinning {
		w.spinning = false
		w.spinID++
	}
}
