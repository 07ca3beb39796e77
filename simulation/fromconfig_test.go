package simulation

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cosim/config"
	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/engine"
	"github.com/sarchlab/cosim/transceiver"
)

var _ = Describe("Builder from an experiment", func() {
	var (
		catalog *engine.Catalog
		exp     config.Experiment
	)

	BeforeEach(func() {
		catalog = engine.NewCatalog()
		catalog.Register("producer", engine.ScriptFactory(
			func(cfg engine.Config) engine.Script {
				return newProducer(cfg.Params["device"])
			}))
		catalog.Register("sink", engine.ScriptFactory(
			func(engine.Config) engine.Script {
				return newSink(map[string]string{"rec": device.TypeGeneric})
			}))

		var err error
		exp, err = config.Parse([]byte(`
name: from_config
timestep: 0.02
advance_timeout: 1s
max_consecutive_tf_failures: 5
engines:
  - name: engine_1
    type: producer
    critical: true
    params:
      device: out
  - name: engine_2
    type: sink
    timestep: 0.04
transceiver_functions:
  - name: copy
    active: false
`))
		Expect(err).NotTo(HaveOccurred())
	})

	copyFunction := func() *transceiver.Function {
		return forward("copy",
			id("out", "engine_1", device.TypeGeneric),
			id("rec", "engine_2", device.TypeGeneric))
	}

	It("should configure engines and functions", func() {
		b, err := MakeBuilder().
			WithoutLogging().
			WithFunction(copyFunction()).
			WithExperiment(exp, catalog)
		Expect(err).NotTo(HaveOccurred())
		Expect(b.advanceTimeout).To(Equal(time.Second))

		s := b.Build()

		Expect(s.Name()).To(Equal("from_config"))
		Expect(float64(s.Timestep())).To(Equal(0.02))

		e1, found := s.Engine("engine_1")
		Expect(found).To(BeTrue())
		Expect(e1.Critical()).To(BeTrue())
		Expect(float64(e1.Timestep())).To(Equal(0.02))

		e2, _ := s.Engine("engine_2")
		Expect(e2.Critical()).To(BeFalse())
		Expect(float64(e2.Timestep())).To(Equal(0.04))

		Expect(s.Run(context.Background(), 1)).To(Succeed())
		defer s.Shutdown(context.Background())

		st, _ := s.Executor().Status("copy")
		Expect(st.Active).To(BeFalse())
	})

	It("should fail on unknown engine types", func() {
		exp.Engines[1].Type = "gazebo"

		_, err := MakeBuilder().WithExperiment(exp, catalog)

		Expect(err).To(MatchError(ContainSubstring(`unknown engine type "gazebo"`)))
	})

	It("should fail to set up when a listed function is missing", func() {
		b, err := MakeBuilder().
			WithoutLogging().
			WithExperiment(exp, catalog)
		Expect(err).NotTo(HaveOccurred())

		_, err = b.Build().Schedule()

		Expect(err).To(MatchError(transceiver.ErrInvalidDeclaration))
		Expect(err).To(MatchError(ContainSubstring(`"copy"`)))
	})
})
