package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cosim/config"
)

const tfExchange = `
name: tf_exchange
timestep: 0.01
steps: 100
engines:
  - name: engine_1
    type: python_json
    params:
      script: engine_1.py
      seed: 42
  - name: engine_2
    type: python_json
    timestep: 0.02
    critical: true
transceiver_functions:
  - name: transceiver_function
  - name: unused
    active: false
`

func setenv(key, value string) {
	old, had := os.LookupEnv(key)
	Expect(os.Setenv(key, value)).To(Succeed())

	DeferCleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

var _ = Describe("Parse", func() {
	It("should parse an experiment and apply defaults", func() {
		exp, err := config.Parse([]byte(tfExchange))

		Expect(err).NotTo(HaveOccurred())
		Expect(exp.Name).To(Equal("tf_exchange"))
		Expect(exp.Steps).To(Equal(uint64(100)))
		Expect(*exp.ApproximateTimeRange).To(Equal(config.DefaultApproximateTimeRange))
		Expect(*exp.AdvanceTimeout).To(Equal(config.DefaultAdvanceTimeout))
		Expect(*exp.MaxConsecutiveTFFailures).To(Equal(3))
		Expect(exp.Engines).To(HaveLen(2))
		Expect(exp.Engines[0].Timestep).To(Equal(0.01))
		Expect(exp.Engines[0].Params).To(HaveKeyWithValue("seed", "42"))
		Expect(exp.Engines[1].Timestep).To(Equal(0.02))
		Expect(exp.Engines[1].Critical).To(BeTrue())
	})

	It("should tell configured function flags", func() {
		exp, err := config.Parse([]byte(tfExchange))
		Expect(err).NotTo(HaveOccurred())

		_, set := exp.FunctionActive("transceiver_function")
		Expect(set).To(BeFalse())

		active, set := exp.FunctionActive("unused")
		Expect(set).To(BeTrue())
		Expect(active).To(BeFalse())
	})

	It("should parse durations", func() {
		exp, err := config.Parse([]byte(`
simulation_timeout: 2m
advance_timeout: 500ms
engines: [{name: e, type: t}]
`))

		Expect(err).NotTo(HaveOccurred())
		Expect(exp.SimulationTimeout).To(Equal(2 * time.Minute))
		Expect(*exp.AdvanceTimeout).To(Equal(500 * time.Millisecond))
	})

	It("should expand environment variables", func() {
		setenv("COSIM_TEST_ENGINE_TYPE", "nest_json")

		exp, err := config.Parse([]byte(`
engines:
  - name: nest
    type: ${COSIM_TEST_ENGINE_TYPE}
`))

		Expect(err).NotTo(HaveOccurred())
		Expect(exp.Engines[0].Type).To(Equal("nest_json"))
	})

	It("should let the environment override monitoring and recording", func() {
		setenv(config.EnvMonitorPort, "8080")
		setenv(config.EnvRecordingOutput, "run1")

		exp, err := config.Parse([]byte(tfExchange))

		Expect(err).NotTo(HaveOccurred())
		Expect(exp.Monitoring.Enabled).To(BeTrue())
		Expect(exp.Monitoring.Port).To(Equal(8080))
		Expect(exp.Recording.Enabled).To(BeTrue())
		Expect(exp.Recording.Output).To(Equal("run1"))
	})

	It("should reject unknown fields", func() {
		_, err := config.Parse([]byte(`
engines: [{name: e, type: t}]
timestpe: 0.1
`))

		var configErr *config.ConfigError
		Expect(errors.As(err, &configErr)).To(BeTrue())
	})

	It("should list every problem", func() {
		_, err := config.Parse([]byte(`
timestep: -1
approximate_time_range: 0.5
monitoring: {port: 80}
engines:
  - name: a
    type: t
  - name: a
  - type: t
transceiver_functions:
  - name: f
  - name: f
`))

		var configErr *config.ConfigError
		Expect(errors.As(err, &configErr)).To(BeTrue())
		Expect(configErr.Problems).To(ContainElements(
			"timestep must be positive, got -1",
			"approximate_time_range must be in [0, timestep), got 0.5",
			"monitoring port 80 is not in [1000, 65535]",
			`engines[1]: duplicate engine name "a"`,
			"engines[1]: type is empty",
			"engines[2]: name is empty",
			`transceiver_functions[1]: duplicate function "f"`,
		))
	})

	It("should require engines", func() {
		_, err := config.Parse([]byte(`name: empty`))

		Expect(err).To(MatchError(ContainSubstring("no engines configured")))
	})
})

var _ = Describe("Load", func() {
	It("should load the .env next to the file", func() {
		dir := GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, ".env"),
			[]byte("COSIM_TEST_STEPS=7\n"), 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "exp.yaml"), []byte(`
steps: ${COSIM_TEST_STEPS}
engines: [{name: e, type: t}]
`), 0o644)).To(Succeed())
		DeferCleanup(os.Unsetenv, "COSIM_TEST_STEPS")

		exp, err := config.Load(filepath.Join(dir, "exp.yaml"))

		Expect(err).NotTo(HaveOccurred())
		Expect(exp.Steps).To(Equal(uint64(7)))
	})

	It("should fail on missing files", func() {
		_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "nope.yaml"))

		Expect(errors.Is(err, os.ErrNotExist)).To(BeTrue())
	})
})
