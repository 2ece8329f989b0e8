package market

import (
	"fmt"
	"sort"
	"time"
)

// Bar is a single OHLCV record covering one interval. Time is always UTC.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Field returns the named price field of the bar.
func (b Bar) Field(name string) (float64, bool) {
	switch name {
	case "open":
		return b.Open, true
	case "high":
		return b.High, true
	case "low":
		return b.Low, true
	case "close":
		return b.Close, true
	case "volume":
		return float64(b.Volume), true
	}
	return 0, false
}

// Frame holds a ticker's bars ordered by strictly increasing time.
type Frame struct {
	Ticker string `json:"ticker"`
	Bars   []Bar  `json:"bars"`
}

// Validate checks the time ordering invariant: strictly monotonically
// increasing, no duplicate timestamps.
func (f *Frame) Validate() error {
	for i := 1; i < len(f.Bars); i++ {
		if !f.Bars[i].Time.After(f.Bars[i-1].Time) {
			return fmt.Errorf("frame %s: bar %d time %s not after %s",
				f.Ticker, i, f.Bars[i].Time, f.Bars[i-1].Time)
		}
	}
	return nil
}

// Len returns the number of bars.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Bars)
}

// Through returns the bars with time <= asof.
func (f *Frame) Through(asof time.Time) []Bar {
	if f == nil {
		return nil
	}
	n := sort.Search(len(f.Bars), func(i int) bool {
		return f.Bars[i].Time.After(asof)
	})
	return f.Bars[:n]
}

// Between returns the bars with start <= time <= end.
func (f *Frame) Between(start, end time.Time) []Bar {
	if f == nil {
		return nil
	}
	lo := sort.Search(len(f.Bars), func(i int) bool {
		return !f.Bars[i].Time.Before(start)
	})
	hi := sort.Search(len(f.Bars), func(i int) bool {
		return f.Bars[i].Time.After(end)
	})
	if lo >= hi {
		return nil
	}
	return f.Bars[lo:hi]
}

// FirstAtOrAfter returns the first bar with time >= t.
func (f *Frame) FirstAtOrAfter(t time.Time) (Bar, bool) {
	if f == nil {
		return Bar{}, false
	}
	i := sort.Search(len(f.Bars), func(i int) bool {
		return !f.Bars[i].Time.Before(t)
	})
	if i == len(f.Bars) {
		return Bar{}, false
	}
	return f.Bars[i], true
}

// SMA computes the simple moving average of closes over the last window bars
// at or before asof. Returns false when history is shorter than the window.
func (f *Frame) SMA(window int, asof time.Time) (float64, bool) {
	if f == nil || window <= 0 {
		return 0, false
	}
	bars := f.Through(asof)
	if len(bars) < window {
		return 0, false
	}
	sum := 0.0
	for _, b := range bars[len(bars)-window:] {
		sum += b.Close
	}
	return sum / float64(window), true
}

// RollingMax returns the maximum of the named field over bars with
// time <= asof, optionally limited to the trailing lookback bars.
func (f *Frame) RollingMax(field string, asof time.Time, lookback int) (float64, bool) {
	return f.rollingExtreme(field, asof, lookback, true)
}

// RollingMin is the minimum counterpart of RollingMax.
func (f *Frame) RollingMin(field string, asof time.Time, lookback int) (float64, bool) {
	return f.rollingExtreme(field, asof, lookback, false)
}

func (f *Frame) rollingExtreme(field string, asof time.Time, lookback int, max bool) (float64, bool) {
	bars := f.Through(asof)
	if len(bars) == 0 {
		return 0, false
	}
	if lookback > 0 && len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	best, ok := bars[0].Field(field)
	if !ok {
		return 0, false
	}
	for _, b := range bars[1:] {
		v, _ := b.Field(field)
		if (max && v > best) || (!max && v < best) {
			best = v
		}
	}
	return best, true
}

// ModalDelta returns the most common inter-bar interval, or zero when the
// frame has fewer than two bars.
func (f *Frame) ModalDelta() time.Duration {
	if f.Len() < 2 {
		return 0
	}
	counts := make(map[time.Duration]int)
	for i := 1; i < len(f.Bars); i++ {
		counts[f.Bars[i].Time.Sub(f.Bars[i-1].Time)]++
	}
	var mode time.Duration
	best := 0
	for d, n := range counts {
		if n > best || (n == best && d < mode) {
			mode, best = d, n
		}
	}
	return mode
}
