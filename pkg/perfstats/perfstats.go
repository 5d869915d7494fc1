// Package perfstats accumulates timings of repeated operations.
package perfstats

import (
	"fmt"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

// Time runs f and records how long it took
func (a *TimeAccumulator) Time(f func()) {
	start := time.Now()
	f()
	a.AddSample(time.Since(start))
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

func (a *TimeAccumulator) String() string {
	return fmt.Sprintf("%v samples, average %v", a.Samples, a.Average())
}

// Counter counts successes out of a number of attempts
type Counter struct {
	Hits  int64
	Total int64
}

func (c *Counter) Add(hit bool) {
	c.Total++
	if hit {
		c.Hits++
	}
}

// Rate returns Hits / Total, or 0 if there were no attempts
func (c *Counter) Rate() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Hits) / float64(c.Total)
}
