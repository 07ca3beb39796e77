package sim

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ID generators", func() {
	It("should number IDs from one", func() {
		g := NewSequentialIDGenerator("task-")

		Expect(g.Generate()).To(Equal("task-1"))
		Expect(g.Generate()).To(Equal("task-2"))
	})

	It("should not hand out the same ID twice", func() {
		g := NewSequentialIDGenerator("")
		ids := make(chan string, 100)

		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ids <- g.Generate()
			}()
		}
		wg.Wait()
		close(ids)

		seen := make(map[string]bool)
		for id := range ids {
			Expect(seen).NotTo(HaveKey(id))
			seen[id] = true
		}

		Expect(seen).To(HaveLen(100))
		Expect(seen).To(HaveKey("100"))
	})

	It("should generate unique IDs", func() {
		var g IDGenerator = UniqueIDGenerator{}

		Expect(g.Generate()).NotTo(Equal(g.Generate()))
	})
})
