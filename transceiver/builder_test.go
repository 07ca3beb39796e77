package transceiver

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cosim/device"
)

func noop(Inputs) ([]device.Device, error) {
	return nil, nil
}

var (
	camera = device.MustMakeIdentifier("husky_camera::camera", "gazebo", device.TypeCamera)
	lpg    = device.MustMakeIdentifier("lpg", "nest", device.TypeSpiking)
	lwn    = device.MustMakeIdentifier("lwn", "nest", device.TypeSpiking)
	wheel  = device.MustMakeIdentifier("husky::back_left_joint", "gazebo", device.TypeJoint)
)

var _ = Describe("Builder", func() {
	It("should build a function", func() {
		f, err := MakeBuilder().
			WithTargetEngine("nest").
			WithSingleSource("camera", camera).
			WithOutput(lpg).
			WithFunc(noop).
			Build("cam_tf")

		Expect(err).NotTo(HaveOccurred())
		Expect(f.Name()).To(Equal("cam_tf"))
		Expect(f.TargetEngine()).To(Equal("nest"))
		Expect(f.Sources()).To(HaveLen(1))
		Expect(f.Outputs()).To(Equal([]device.Identifier{lpg}))
		Expect(f.SourceEngines()).To(Equal([]string{"gazebo"}))
		Expect(f.InitiallyActive()).To(BeTrue())
	})

	It("should not share sources between derived builders", func() {
		base := MakeBuilder().
			WithTargetEngine("nest").
			WithFunc(noop).
			WithSingleSource("camera", camera)

		a, _ := base.WithSingleSource("wheel", wheel).Build("a")
		b, _ := base.Build("b")

		Expect(a.Sources()).To(HaveLen(2))
		Expect(b.Sources()).To(HaveLen(1))
	})

	It("should build inactive functions", func() {
		f, err := MakeBuilder().
			WithTargetEngine("nest").
			WithFunc(noop).
			WithActive(false).
			Build("off")

		Expect(err).NotTo(HaveOccurred())
		Expect(f.InitiallyActive()).To(BeFalse())
	})

	DescribeTable("should reject invalid declarations",
		func(b Builder, name string, expected error) {
			_, err := b.Build(name)
			Expect(err).To(MatchError(expected))
		},
		Entry("empty name",
			MakeBuilder().WithTargetEngine("nest").WithFunc(noop),
			"", ErrInvalidDeclaration),
		Entry("no target",
			MakeBuilder().WithFunc(noop),
			"f", ErrInvalidDeclaration),
		Entry("no func",
			MakeBuilder().WithTargetEngine("nest"),
			"f", ErrInvalidDeclaration),
		Entry("keyword bound twice",
			MakeBuilder().WithTargetEngine("nest").WithFunc(noop).
				WithSingleSource("x", camera).WithSingleSource("x", wheel),
			"f", ErrInvalidDeclaration),
		Entry("zero identifier",
			MakeBuilder().WithTargetEngine("nest").WithFunc(noop).
				WithSingleSource("x", device.Identifier{}),
			"f", ErrInvalidDeclaration),
		Entry("bad glob",
			MakeBuilder().WithTargetEngine("nest").WithFunc(noop).
				WithCollectionSource("x", device.Filter{Name: "["}, 0),
			"f", ErrInvalidDeclaration),
		Entry("output on another engine",
			MakeBuilder().WithTargetEngine("nest").WithFunc(noop).
				WithOutput(wheel),
			"f", ErrInvalidDeclaration),
		Entry("output is a single source",
			MakeBuilder().WithTargetEngine("nest").WithFunc(noop).
				WithSingleSource("lpg", lpg).WithOutput(lpg),
			"f", ErrSelfLoop),
		Entry("output is in a collection source",
			MakeBuilder().WithTargetEngine("nest").WithFunc(noop).
				WithCollectionSource("all", device.Filter{Engine: "nest"}, 0).
				WithOutput(lpg),
			"f", ErrSelfLoop),
	)
})

var _ = Describe("Table", func() {
	It("should keep declaration order", func() {
		t := NewTable()
		for _, name := range []string{"c", "a", "b"} {
			f, _ := MakeBuilder().WithTargetEngine("nest").WithFunc(noop).Build(name)
			Expect(t.Register(f)).To(Succeed())
		}

		names := []string{}
		for _, f := range t.Functions() {
			names = append(names, f.Name())
		}

		Expect(names).To(Equal([]string{"c", "a", "b"}))
		Expect(t.Len()).To(Equal(3))
	})

	It("should reject duplicated names", func() {
		t := NewTable()
		f, _ := MakeBuilder().WithTargetEngine("nest").WithFunc(noop).Build("f")

		Expect(t.Register(f)).To(Succeed())
		Expect(t.Register(f)).To(MatchError(ErrDuplicateFunction))
	})

	It("should check engines", func() {
		t := NewTable()
		f, _ := MakeBuilder().
			WithTargetEngine("nest").
			WithSingleSource("camera", camera).
			WithFunc(noop).
			Build("f")
		_ = t.Register(f)

		onlyNest := func(name string) bool { return name == "nest" }
		both := func(name string) bool { return name == "nest" || name == "gazebo" }

		Expect(t.CheckEngines(onlyNest)).To(MatchError(ErrInvalidDeclaration))
		Expect(t.CheckEngines(both)).To(Succeed())
	})
})
