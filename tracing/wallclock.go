package tracing

import (
	"time"

	"github.com/sarchlab/cosim/sim"
)

// A WallClock tells the wall time elapsed since its creation in seconds. It
// lets tracers measure how long engines and functions actually take.
type WallClock struct {
	start time.Time
	now   func() time.Time
}

// NewWallClock creates a clock starting at zero.
func NewWallClock() *WallClock {
	return &WallClock{start: time.Now(), now: time.Now}
}

// CurrentTime returns the seconds elapsed since the clock was created.
func (c *WallClock) CurrentTime() sim.VTimeInSec {
	return sim.VTimeInSec(c.now().Sub(c.start).Seconds())
}
