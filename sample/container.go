// Package sample implements the ring-buffer "sample container" of spec §3:
// a bounded history of timestamped readings with running mean/variance and
// an outlier gate based on the average rate of change.
package sample

import (
	"math"
	"time"
)

// Sample is one timestamped reading.
type Sample struct {
	Value float64
	At    time.Time
}

// MinCapacity is the smallest capacity the container accepts (spec §3: "n >= 10").
const MinCapacity = 10

// Container is a fixed-capacity ring buffer of samples with running
// statistics. Not safe for concurrent use; callers (drivers with their own
// worker goroutine) must serialize access themselves.
type Container struct {
	buf      []Sample
	head     int // index of the oldest sample
	count    int
	k        float64 // outlier-gate multiplier, default 3
	lastRate float64
	haveRate bool
}

// New creates a Container with the given capacity (clamped up to MinCapacity)
// and outlier-gate multiplier k (k<=0 defaults to 3, matching a conventional
// "3-sigma"-like gate expressed over rate of change rather than variance).
func New(capacity int, k float64) *Container {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	if k <= 0 {
		k = 3
	}
	return &Container{buf: make([]Sample, 0, capacity), k: k}
}

// Size reports the number of samples currently held.
func (c *Container) Size() int { return c.count }

// Last returns the most recently accepted sample.
func (c *Container) Last() (Sample, bool) {
	if c.count == 0 {
		return Sample{}, false
	}
	idx := (c.head + c.count - 1) % cap(c.buf)
	return c.at(idx), true
}

func (c *Container) at(idx int) Sample {
	if idx < len(c.buf) {
		return c.buf[idx]
	}
	return Sample{}
}

// Average returns the arithmetic mean of all accepted samples.
func (c *Container) Average() float64 {
	if c.count == 0 {
		return 0
	}
	sum := 0.0
	c.forEach(func(s Sample) { sum += s.Value })
	return sum / float64(c.count)
}

// Variance returns the unbiased sample variance (size>=2); 0 otherwise.
func (c *Container) Variance() float64 {
	if c.count < 2 {
		return 0
	}
	mean := c.Average()
	sumSq := 0.0
	c.forEach(func(s Sample) {
		d := s.Value - mean
		sumSq += d * d
	})
	return sumSq / float64(c.count-1)
}

// StdVariance returns the sample standard deviation.
func (c *Container) StdVariance() float64 {
	return math.Sqrt(c.Variance())
}

// AverageRateOfChange returns the mean of |value[i]-value[i-1]| / dt across
// consecutive accepted samples, in units-per-second. Returns 0 if fewer than
// two samples have been accepted.
func (c *Container) AverageRateOfChange() float64 {
	if c.count < 2 {
		return 0
	}
	var sum float64
	var n int
	var prev Sample
	havePrev := false
	c.forEach(func(s Sample) {
		if havePrev {
			dt := s.At.Sub(prev.At).Seconds()
			if dt > 0 {
				sum += math.Abs(s.Value-prev.Value) / dt
				n++
			}
		}
		prev = s
		havePrev = true
	})
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (c *Container) forEach(f func(Sample)) {
	n := cap(c.buf)
	for i := 0; i < c.count; i++ {
		f(c.at((c.head + i) % n))
	}
}

// PutSample applies the outlier gate (spec §3) and appends the sample if
// accepted. A sample that falls outside avg +/- k*avgRateOfChange is
// rejected UNLESS the rate of change required to reach it would itself
// exceed k*avgRateOfChange -- in which case it is accepted, since a genuine
// fast excursion looks identical to a sensor glitch by the static-bound test
// alone and the rate test is the deciding signal (spec §3 outlier gate).
func (c *Container) PutSample(value float64, at time.Time) bool {
	if c.count == 0 {
		c.push(Sample{Value: value, At: at})
		return true
	}

	avg := c.Average()
	avgRate := c.AverageRateOfChange()
	bound := c.k * avgRate
	if bound <= 0 {
		// No established rate yet (e.g. exactly 1 prior sample with dt==0):
		// accept unconditionally rather than falsely gating everything out.
		c.push(Sample{Value: value, At: at})
		return true
	}

	withinStaticBound := value >= avg-bound && value <= avg+bound
	if withinStaticBound {
		c.push(Sample{Value: value, At: at})
		return true
	}

	last, _ := c.Last()
	dt := at.Sub(last.At).Seconds()
	newRate := math.Abs(value-last.Value) / math.Max(dt, 1e-9)
	if newRate > bound {
		// The jump is fast enough to be a real excursion, not noise: accept.
		c.push(Sample{Value: value, At: at})
		return true
	}
	return false
}

func (c *Container) push(s Sample) {
	n := cap(c.buf)
	if len(c.buf) < n {
		c.buf = append(c.buf, s)
		c.count++
		return
	}
	idx := (c.head + c.count) % n
	c.buf[idx] = s
	if c.count == n {
		c.head = (c.head + 1) % n
	} else {
		c.count++
	}
}
