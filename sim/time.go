package sim

// VTimeInSec defines the time in the simulated space in the unit of second
type VTimeInSec float64

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() VTimeInSec
}

// Named describes an object that has a name.
type Named interface {
	Name() string
}

// StepBoundary returns the time of the end of the given global step.
// Boundaries are computed by multiplication so that they do not drift.
func StepBoundary(step uint64, timestep VTimeInSec) VTimeInSec {
	return VTimeInSec(float64(step) * float64(timestep))
}
