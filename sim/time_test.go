package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("StepBoundary", func() {
	It("should not accumulate rounding errors", func() {
		var accumulated VTimeInSec
		for i := 0; i < 1000; i++ {
			accumulated += 0.001
		}

		Expect(accumulated).NotTo(Equal(VTimeInSec(1)))
		Expect(StepBoundary(1000, 0.001)).To(Equal(VTimeInSec(1)))
	})

	It("should start at zero", func() {
		Expect(StepBoundary(0, 0.01)).To(BeZero())
	})
})
