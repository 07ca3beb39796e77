package simulation

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/engine"
	"github.com/sarchlab/cosim/registry"
	"github.com/sarchlab/cosim/sim"
	"github.com/sarchlab/cosim/tracing"
	"github.com/sarchlab/cosim/transceiver"
)

type stepCollector struct {
	lock      sync.Mutex
	summaries []StepSummary
	invoked   []string
	faulted   []string
}

func (c *stepCollector) Func(ctx sim.HookCtx) {
	c.lock.Lock()
	defer c.lock.Unlock()

	switch ctx.Pos {
	case HookPosStepEnd:
		c.summaries = append(c.summaries, ctx.Item.(StepSummary))
	case HookPosEngineFaulted:
		c.faulted = append(c.faulted, ctx.Item.(string))
	case transceiver.HookPosInvokeStart:
		c.invoked = append(c.invoked, ctx.Item.(string))
	}
}

func (c *stepCollector) skipsOf(function string) []transceiver.SkipReason {
	c.lock.Lock()
	defer c.lock.Unlock()

	var reasons []transceiver.SkipReason
	for _, s := range c.summaries {
		for _, skip := range s.Functions.Skipped {
			if skip.Function == function {
				reasons = append(reasons, skip.Reason)
			}
		}
	}

	return reasons
}

var _ = Describe("Simulation", func() {
	var (
		ctx       context.Context
		collector *stepCollector
	)

	BeforeEach(func() {
		ctx = context.Background()
		collector = &stepCollector{}
	})

	Context("braitenberg motor command", func() {
		var (
			robot *sinkScript
			s     *Simulation
		)

		joints := []string{"back_left", "back_right", "front_left", "front_right"}

		BeforeEach(func() {
			lwn := id("lwn", "nest", device.TypeSpiking)
			rwn := id("rwn", "nest", device.TypeSpiking)

			robot = newSink(map[string]string{
				"back_left":   device.TypeJoint,
				"back_right":  device.TypeJoint,
				"front_left":  device.TypeJoint,
				"front_right": device.TypeJoint,
			})

			b := transceiver.MakeBuilder().
				WithTargetEngine("gazebo").
				WithSingleSource("lwn", lwn).
				WithSingleSource("rwn", rwn)
			for _, j := range joints {
				b = b.WithOutput(id(j, "gazebo", device.TypeJoint))
			}

			mot := mustFunction(b.WithFunc(
				func(in transceiver.Inputs) ([]device.Device, error) {
					left, err := in.MustSingle("lwn").Scalar("E_L")
					if err != nil {
						return nil, err
					}

					right, err := in.MustSingle("rwn").Scalar("E_L")
					if err != nil {
						return nil, err
					}

					forward := min(left, right)
					rot := right - left

					velocities := map[string]float64{
						"back_left":   forward - rot,
						"back_right":  -forward - rot,
						"front_left":  forward - rot,
						"front_right": -forward - rot,
					}

					var out []device.Device
					for _, j := range joints {
						out = append(out, device.MustNew(
							id(j, "gazebo", device.TypeJoint),
							device.ScalarMap{"velocity": velocities[j]}))
					}

					return out, nil
				}).Build("mot_tf"))

			s = MakeBuilder().
				WithoutLogging().
				WithEngine(engine.NewScriptAdapter(&neuronScript{}),
					engine.Config{Name: "nest"}).
				WithEngine(engine.NewScriptAdapter(robot),
					engine.Config{Name: "gazebo"}).
				WithFunction(mot).
				Build()
			s.AcceptHook(collector)
		})

		AfterEach(func() {
			s.Shutdown(ctx)
		})

		It("should deliver the joint velocities to the robot", func() {
			Expect(s.Run(ctx, 2)).To(Succeed())

			expected := map[string]float64{
				"back_left":   2.0,
				"back_right":  -6.0,
				"front_left":  2.0,
				"front_right": -6.0,
			}

			for name, v := range expected {
				d, found := s.Registry().Lookup(id(name, "gazebo", device.TypeJoint))
				Expect(found).To(BeTrue())
				Expect(d.Scalar("velocity")).To(Equal(v))
				Expect(d.Generation()).To(Equal(uint64(1)),
					"mot_tf republishes at every step")

				received := robot.Received(name)
				Expect(received).To(HaveLen(1))
				Expect(received[0]).To(Equal(device.ScalarMap{"velocity": v}))
			}

			s.Shutdown(ctx)
			Expect(s.State()).To(Equal(Stopped))
			Expect(robot.shutdowns).To(Equal(1))
		})

		It("should trace invocations and their outputs", func() {
			counts := tracing.NewStepCountTracer(
				tracing.KindIs(tracing.KindFunction))
			tracing.CollectTrace(s, counts)

			Expect(s.Run(ctx, 2)).To(Succeed())

			Expect(counts.Names()).To(Equal([]string{"mot_tf"}))
			Expect(counts.TaskCount("mot_tf")).To(Equal(uint64(2)))
			Expect(counts.StepCount("mot_tf", MilestoneOutput)).
				To(Equal(uint64(8)))
			Expect(counts.TaskCountWithStep("mot_tf", MilestoneOutput)).
				To(Equal(uint64(2)))
			Expect(counts.StepCount("mot_tf", MilestoneFailed)).To(BeZero())
		})

		It("should report the step results", func() {
			Expect(s.Run(ctx, 2)).To(Succeed())

			Expect(collector.summaries).To(HaveLen(2))
			Expect(collector.summaries[0].Advanced).To(Equal([]string{"nest", "gazebo"}))
			Expect(collector.summaries[0].Functions.Invoked).To(Equal([]string{"mot_tf"}))
			Expect(collector.summaries[1].Functions.Invoked).To(Equal([]string{"mot_tf"}))
			Expect(s.CurrentStep()).To(Equal(uint64(2)))
			Expect(float64(s.CurrentTime())).To(BeNumerically("~", 0.02, 1e-12))
		})
	})

	It("should forward payloads bit-identically", func() {
		value := 0.1 + 0.2
		src := newProducer("device1")
		src.value = func(int) device.Payload {
			return device.ScalarMap{"x": value, "y": math.SmallestNonzeroFloat64}
		}
		dst := newSink(map[string]string{"rec_device1": device.TypeGeneric})

		s := MakeBuilder().
			WithoutLogging().
			WithEngine(engine.NewScriptAdapter(src), engine.Config{Name: "engine_1"}).
			WithEngine(engine.NewScriptAdapter(dst), engine.Config{Name: "engine_2"}).
			WithFunction(forward("transceiver_function",
				id("device1", "engine_1", device.TypeGeneric),
				id("rec_device1", "engine_2", device.TypeGeneric))).
			Build()

		Expect(s.Run(ctx, 2)).To(Succeed())

		received := dst.Received("rec_device1")
		Expect(received).To(HaveLen(1))

		m := received[0].(device.ScalarMap)
		Expect(math.Float64bits(m["x"])).To(Equal(math.Float64bits(value)))
		Expect(math.Float64bits(m["y"])).
			To(Equal(math.Float64bits(math.SmallestNonzeroFloat64)))
	})

	It("should skip functions with a missing source", func() {
		src := newProducer("out")
		dst := newSink(map[string]string{"in": device.TypeGeneric})

		f := mustFunction(transceiver.MakeBuilder().
			WithTargetEngine("engine_2").
			WithSingleSource("out", id("out", "engine_1", device.TypeGeneric)).
			WithSingleSource("ghost", id("ghost", "engine_2", device.TypeGeneric)).
			WithOutput(id("in", "engine_2", device.TypeGeneric)).
			WithFunc(func(transceiver.Inputs) ([]device.Device, error) {
				Fail("must not be invoked")
				return nil, nil
			}).
			Build("needs_ghost"))

		s := MakeBuilder().
			WithoutLogging().
			WithEngine(engine.NewScriptAdapter(src), engine.Config{Name: "engine_1"}).
			WithEngine(engine.NewScriptAdapter(dst), engine.Config{Name: "engine_2"}).
			WithFunction(f).
			Build()
		s.AcceptHook(collector)

		Expect(s.Run(ctx, 3)).To(Succeed())

		Expect(collector.invoked).To(BeEmpty())
		Expect(collector.skipsOf("needs_ghost")).To(Equal([]transceiver.SkipReason{
			transceiver.SkipMissing,
			transceiver.SkipMissing,
			transceiver.SkipMissing,
		}))
	})

	It("should run functions in the same order every time", func() {
		run := func() []string {
			c := &stepCollector{}
			a := id("a", "engine_1", device.TypeGeneric)
			b := id("b", "engine_2", device.TypeGeneric)
			x := id("x", "engine_2", device.TypeGeneric)
			z := id("z", "engine_2", device.TypeGeneric)

			s := MakeBuilder().
				WithoutLogging().
				WithEngine(engine.NewScriptAdapter(newProducer("a")),
					engine.Config{Name: "engine_1"}).
				WithEngine(engine.NewScriptAdapter(newSink(map[string]string{
					"b": device.TypeGeneric,
					"x": device.TypeGeneric,
					"z": device.TypeGeneric,
				})), engine.Config{Name: "engine_2"}).
				WithFunction(forward("second", b, z)).
				WithFunction(forward("independent", a, x)).
				WithFunction(forward("first", a, b)).
				Build()
			s.AcceptHook(c)

			Expect(s.Run(ctx, 3)).To(Succeed())
			s.Shutdown(ctx)

			return c.invoked
		}

		first := run()
		Expect(first[:3]).To(Equal([]string{"independent", "first", "second"}))

		for i := 0; i < 5; i++ {
			Expect(run()).To(Equal(first))
		}
	})

	It("should advance coarse engines less often", func() {
		coarse := newProducer("out")

		s := MakeBuilder().
			WithoutLogging().
			WithTimestep(0.01).
			WithEngine(engine.NewScriptAdapter(coarse),
				engine.Config{Name: "coarse", Timestep: 0.02}).
			Build()

		Expect(s.Run(ctx, 4)).To(Succeed())

		Expect(coarse.Loops()).To(Equal(2))
	})

	It("should not start functions that are inactive", func() {
		s := MakeBuilder().
			WithoutLogging().
			WithEngine(engine.NewScriptAdapter(newProducer("a")),
				engine.Config{Name: "engine_1"}).
			WithEngine(engine.NewScriptAdapter(
				newSink(map[string]string{"b": device.TypeGeneric})),
				engine.Config{Name: "engine_2"}).
			WithFunction(forward("f", id("a", "engine_1", device.TypeGeneric),
				id("b", "engine_2", device.TypeGeneric))).
			WithFunctionActive("f", false).
			Build()
		s.AcceptHook(collector)

		Expect(s.Run(ctx, 1)).To(Succeed())
		Expect(collector.skipsOf("f")).To(Equal(
			[]transceiver.SkipReason{transceiver.SkipInactive}))

		Expect(s.SetFunctionActive("f", true)).To(Succeed())
		Expect(s.Run(ctx, 1)).To(Succeed())
		Expect(collector.invoked).To(Equal([]string{"f"}))
	})

	Context("setup", func() {
		var mockCtrl *gomock.Controller

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should reject cyclic functions before any engine starts", func() {
			e1 := NewMockAdapter(mockCtrl)
			e2 := NewMockAdapter(mockCtrl)
			a := id("a", "engine_1", device.TypeGeneric)
			b := id("b", "engine_2", device.TypeGeneric)

			s := MakeBuilder().
				WithoutLogging().
				WithEngine(e1, engine.Config{Name: "engine_1"}).
				WithEngine(e2, engine.Config{Name: "engine_2"}).
				WithFunction(forward("ab", a, b)).
				WithFunction(forward("ba", b, a)).
				Build()

			err := s.Run(ctx, 10)

			var fatal *FatalError
			Expect(errors.As(err, &fatal)).To(BeTrue())
			Expect(fatal.Reason).To(Equal(SetupFailed))
			Expect(errors.Is(err, transceiver.ErrCyclicDependency)).To(BeTrue())
			Expect(s.State()).To(Equal(Stopped))
			Expect(s.CurrentStep()).To(Equal(uint64(0)))
		})

		It("should shut down started engines when one fails to start", func() {
			good := newProducer("out")
			bad := NewMockAdapter(mockCtrl)
			bad.EXPECT().
				Initialize(gomock.Any(), gomock.Any()).
				Return(errors.New("connection refused"))
			bad.EXPECT().Shutdown(gomock.Any()).Return(nil)

			s := MakeBuilder().
				WithoutLogging().
				WithEngine(engine.NewScriptAdapter(good), engine.Config{Name: "good"}).
				WithEngine(bad, engine.Config{Name: "bad"}).
				Build()

			err := s.Setup(ctx)

			var fatal *FatalError
			Expect(errors.As(err, &fatal)).To(BeTrue())
			Expect(fatal.Reason).To(Equal(SetupFailed))
			Expect(errors.Is(err, engine.ErrStartupFailed)).To(BeTrue())
			Expect(good.shutdowns).To(Equal(1))
			Expect(s.State()).To(Equal(Stopped))
			Expect(s.Run(ctx, 1)).To(MatchError(ErrNotRunning))
		})

		It("should reject duplicated engines", func() {
			s := MakeBuilder().
				WithoutLogging().
				WithEngine(NewMockAdapter(mockCtrl), engine.Config{Name: "e"}).
				WithEngine(NewMockAdapter(mockCtrl), engine.Config{Name: "e"}).
				Build()

			Expect(s.Setup(ctx)).To(MatchError(ContainSubstring("declared twice")))
		})

		It("should reject functions on unknown engines", func() {
			s := MakeBuilder().
				WithoutLogging().
				WithEngine(NewMockAdapter(mockCtrl), engine.Config{Name: "engine_1"}).
				WithFunction(forward("f", id("a", "engine_1", device.TypeGeneric),
					id("b", "nowhere", device.TypeGeneric))).
				Build()

			err := s.Setup(ctx)

			Expect(errors.Is(err, transceiver.ErrInvalidDeclaration)).To(BeTrue())
		})
	})

	Context("faults", func() {
		var (
			mockCtrl *gomock.Controller
			sensorID device.Identifier
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			sensorID = id("sensor", "flaky", device.TypeGeneric)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should retry a timed out advance without publishing twice", func() {
			flaky := NewMockAdapter(mockCtrl)
			flaky.EXPECT().Initialize(gomock.Any(), gomock.Any()).Return(nil)
			flaky.EXPECT().PushDevices(gomock.Any(), gomock.Len(0)).
				Return(nil).Times(2)
			gomock.InOrder(
				flaky.EXPECT().Advance(gomock.Any(), gomock.Any()).
					Return(engine.AdvanceReport{},
						engine.NewError("flaky", engine.Timeout, errors.New("slow"))),
				flaky.EXPECT().Advance(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, target sim.VTimeInSec) (
						engine.AdvanceReport, error,
					) {
						return engine.AdvanceReport{
							Time:    target,
							Changed: []device.Identifier{sensorID},
						}, nil
					}).Times(2),
			)
			flaky.EXPECT().PullDevices(gomock.Any(), []device.Identifier{sensorID}).
				Return([]device.Device{
					device.MustNew(sensorID, device.ScalarMap{"v": 1}),
				}, nil).Times(2)
			flaky.EXPECT().Shutdown(gomock.Any()).Return(nil)

			var publications []uint64
			s := MakeBuilder().
				WithoutLogging().
				WithEngine(flaky, engine.Config{Name: "flaky"}).
				Build()
			s.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
				if ctx.Pos == registry.HookPosPublished {
					publications = append(publications,
						ctx.Item.(device.Device).Generation())
				}
			}))

			Expect(s.Run(ctx, 2)).To(Succeed())
			s.Shutdown(ctx)

			h, _ := s.Engine("flaky")
			Expect(h.Retries()).To(Equal(uint64(1)))
			Expect(publications).To(Equal([]uint64{0, 1}))
		})

		It("should keep running without a diverged engine", func() {
			flaky := newProducer("sensor")
			flaky.failAt = 3
			steady := newProducer("out")
			sink := newSink(map[string]string{
				"from_flaky":  device.TypeGeneric,
				"from_steady": device.TypeGeneric,
			})

			var s *Simulation
			s = MakeBuilder().
				WithoutLogging().
				WithEngine(engine.NewScriptAdapter(flaky), engine.Config{Name: "flaky"}).
				WithEngine(engine.NewScriptAdapter(steady), engine.Config{Name: "steady"}).
				WithEngine(engine.NewScriptAdapter(sink), engine.Config{Name: "sink"}).
				WithFunction(forward("dependent", sensorID,
					id("from_flaky", "sink", device.TypeGeneric))).
				WithFunction(forward("independent",
					id("out", "steady", device.TypeGeneric),
					id("from_steady", "sink", device.TypeGeneric))).
				Build()
			s.AcceptHook(collector)
			s.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
				if ctx.Pos == HookPosStepEnd && ctx.Item.(StepSummary).Step == 6 {
					s.Stop()
				}
			}))

			Expect(s.RunUntilStopped(ctx)).To(Succeed())

			Expect(s.State()).To(Equal(Stopped))
			Expect(s.CurrentStep()).To(Equal(uint64(7)))
			Expect(collector.faulted).To(Equal([]string{"flaky"}))
			Expect(s.Registry().IsStale("flaky")).To(BeTrue())

			dependent, _ := s.Executor().Status("dependent")
			independent, _ := s.Executor().Status("independent")
			Expect(dependent.Invocations).To(Equal(uint64(2)))
			Expect(independent.Invocations).To(Equal(uint64(7)))
			Expect(collector.skipsOf("dependent")).To(HaveLen(5))

			Expect(sink.Received("from_flaky")).To(HaveLen(2))
			Expect(sink.Received("from_steady")).To(HaveLen(6))
			Expect(steady.shutdowns).To(Equal(1))
			Expect(flaky.shutdowns).To(Equal(1))
		})

		It("should drain when a critical engine diverges", func() {
			flaky := newProducer("sensor")
			flaky.failAt = 3
			steady := newProducer("out")

			s := MakeBuilder().
				WithoutLogging().
				WithCriticalEngine(engine.NewScriptAdapter(flaky),
					engine.Config{Name: "flaky"}).
				WithEngine(engine.NewScriptAdapter(steady),
					engine.Config{Name: "steady"}).
				Build()

			err := s.Run(ctx, 10)

			var fatal *FatalError
			Expect(errors.As(err, &fatal)).To(BeTrue())
			Expect(fatal.Reason).To(Equal(CriticalEngineFaulted))
			Expect(errors.Is(err, engine.ErrDiverged)).To(BeTrue())
			Expect(s.State()).To(Equal(Stopped))
			Expect(s.CurrentStep()).To(Equal(uint64(2)))
			Expect(steady.shutdowns).To(Equal(1))
		})

		It("should log faults", func() {
			buf := bytes.NewBuffer(nil)
			flaky := newProducer("sensor")
			flaky.failAt = 1

			s := MakeBuilder().
				WithLogger(log.New(buf, "", 0)).
				WithEngine(engine.NewScriptAdapter(flaky), engine.Config{Name: "flaky"}).
				Build()

			Expect(s.Run(ctx, 1)).To(Succeed())
			s.Shutdown(ctx)

			Expect(buf.String()).To(ContainSubstring("flaky, engine faulted"))
			Expect(buf.String()).To(ContainSubstring("simulation, Draining -> Stopped"))
		})
	})

	Context("control", func() {
		It("should pause and continue", func() {
			s := MakeBuilder().
				WithoutLogging().
				WithEngine(engine.NewScriptAdapter(newProducer("out")),
					engine.Config{Name: "engine_1"}).
				Build()

			s.Pause()

			done := make(chan error)
			go func() {
				done <- s.Run(ctx, 5)
			}()

			Consistently(s.CurrentStep, 50*time.Millisecond).Should(BeZero())

			s.Continue()

			Eventually(done).Should(Receive(BeNil()))
			Expect(s.CurrentStep()).To(Equal(uint64(5)))
		})

		It("should stop after the simulation timeout", func() {
			slow := newProducer("out")
			slow.delay = 5 * time.Millisecond

			s := MakeBuilder().
				WithoutLogging().
				WithSimulationTimeout(30 * time.Millisecond).
				WithEngine(engine.NewScriptAdapter(slow), engine.Config{Name: "slow"}).
				Build()

			Expect(s.RunUntilStopped(ctx)).To(Succeed())

			Expect(s.State()).To(Equal(Stopped))
			Expect(s.CurrentStep()).To(BeNumerically(">", 0))
			Expect(slow.shutdowns).To(Equal(1))
		})

		It("should drain when the context is cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			s := MakeBuilder().
				WithoutLogging().
				WithEngine(engine.NewScriptAdapter(newProducer("out")),
					engine.Config{Name: "engine_1"}).
				Build()

			Expect(s.Run(cancelled, 5)).To(MatchError(context.Canceled))
			Expect(s.State()).To(Equal(Stopped))
			Expect(s.CurrentStep()).To(BeZero())
		})

		It("should advance engines concurrently", func() {
			a := newProducer("out")
			a.delay = 40 * time.Millisecond
			b := newProducer("out")
			b.delay = 40 * time.Millisecond

			s := MakeBuilder().
				WithoutLogging().
				WithParallelAdvance().
				WithEngine(engine.NewScriptAdapter(a), engine.Config{Name: "a"}).
				WithEngine(engine.NewScriptAdapter(b), engine.Config{Name: "b"}).
				Build()
			s.AcceptHook(collector)

			start := time.Now()
			Expect(s.Run(ctx, 3)).To(Succeed())

			Expect(time.Since(start)).To(BeNumerically("<", 200*time.Millisecond))
			Expect(collector.summaries[2].Advanced).To(Equal([]string{"a", "b"}))
		})
	})
})

// neuronScript keeps constant firing rates on the two wheel neurons.
type neuronScript struct{}

func (neuronScript) Initialize(ctx *engine.ScriptContext) error {
	if err := ctx.RegisterDevice("lwn", device.TypeSpiking); err != nil {
		return err
	}

	return ctx.RegisterDevice("rwn", device.TypeSpiking)
}

func (neuronScript) RunLoop(ctx *engine.ScriptContext, _ sim.VTimeInSec) error {
	if err := ctx.SetDevice("lwn", device.ScalarMap{"E_L": 4.0}); err != nil {
		return err
	}

	return ctx.SetDevice("rwn", device.ScalarMap{"E_L": 6.0})
}

func (neuronScript) Shutdown(_ *engine.ScriptContext) error {
	return nil
}
