//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
	"github.com/eliteGoblin/focusd/govd/internal/infra"
	"github.com/eliteGoblin/focusd/govd/internal/policy"
	"github.com/eliteGoblin/focusd/govd/internal/usecase"
	"github.com/eliteGoblin/focusd/govd/test/fixtures"
)

// pipeline is the real target pipeline over the live process table.
type pipeline struct {
	procs    *infra.ProcessController
	sampler  *usecase.SnapshotReader
	executor *usecase.Executor
	monitor  *usecase.Monitor
	registry *policy.Registry
}

func newPipeline(targets ...domain.MonitorTarget) *pipeline {
	logger := zap.NewNop()
	registry, err := policy.NewRegistryWithTargets(targets...)
	Expect(err).NotTo(HaveOccurred())

	procs := infra.NewProcessController()
	sampler := usecase.NewSnapshotReader(infra.NewProcessTable(), procs.Self(), logger)
	executor := usecase.NewExecutor(
		usecase.ExecutorConfig{KillGrace: 300 * time.Millisecond, ServiceTimeout: time.Second},
		procs, nil, usecase.NewScheduler(), usecase.NewAuditor(logger, nil, nil), logger)

	return &pipeline{
		procs:    procs,
		sampler:  sampler,
		executor: executor,
		monitor:  usecase.NewMonitor(registry, sampler, executor, nil, logger),
		registry: registry,
	}
}

// check runs a baseline pass, waits for CPU time to accrue and runs the
// pass that is evaluated.
func (p *pipeline) check(ctx context.Context) domain.TargetResult {
	_, err := p.monitor.CheckTargets(ctx)
	Expect(err).NotTo(HaveOccurred())
	time.Sleep(500 * time.Millisecond)

	results, err := p.monitor.CheckTargets(ctx)
	Expect(err).NotTo(HaveOccurred())
	Expect(results).To(HaveLen(1))
	return results[0]
}

func spinnerTarget(marker string, action domain.ActionPolicy) domain.MonitorTarget {
	return domain.MonitorTarget{
		Name:          "spinner",
		Match:         domain.PathContains(marker),
		Thresholds:    domain.Thresholds{CPUPercent: 40},
		Action:        action,
		MaxViolations: 1,
	}
}

var _ = Describe("Governor against live processes", func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		spinner *fixtures.Process
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		var err error
		spinner, err = fixtures.StartSpinner()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		spinner.Cleanup()
		cancel()
	})

	Describe("SnapshotReader", func() {
		It("reports a baseline first and a CPU delta afterwards", func() {
			target := spinnerTarget(spinner.Marker, domain.ActionPolicy{Kind: domain.ActionKill})
			p := newPipeline(target)

			first, err := p.sampler.Sample(ctx, p.registry)
			Expect(err).NotTo(HaveOccurred())
			Expect(first["spinner"]).To(HaveLen(1))
			Expect(first["spinner"][0].Baseline).To(BeTrue())
			Expect(first["spinner"][0].PID).To(Equal(spinner.PID()))

			time.Sleep(500 * time.Millisecond)

			second, err := p.sampler.Sample(ctx, p.registry)
			Expect(err).NotTo(HaveOccurred())
			Expect(second["spinner"]).To(HaveLen(1))
			snap := second["spinner"][0]
			Expect(snap.Baseline).To(BeFalse())
			Expect(snap.CPUPercent).To(BeNumerically(">", 40))
			Expect(snap.MemoryMB).To(BeNumerically("<", 1024))
		})

		It("never reports the daemon itself", func() {
			self := domain.MonitorTarget{
				Name:       "self",
				Match:      domain.AnyOf(domain.ExactName("integration.test"), domain.PathContains(os.Args[0])),
				Thresholds: domain.Thresholds{MemoryMB: 1},
				Action:     domain.ActionPolicy{Kind: domain.ActionKill},
			}
			p := newPipeline(self)

			families, err := p.sampler.Sample(ctx, p.registry)
			Expect(err).NotTo(HaveOccurred())
			for _, s := range families["self"] {
				Expect(s.PID).NotTo(Equal(os.Getpid()))
			}
		})
	})

	Describe("suspend policy", func() {
		It("stops the process and resumes it when the follow-up runs", func() {
			target := spinnerTarget(spinner.Marker, domain.ActionPolicy{
				Kind:       domain.ActionSuspend,
				SuspendFor: 500 * time.Millisecond,
			})
			p := newPipeline(target)

			result := p.check(ctx)
			Expect(result.Violation).To(BeTrue())
			Expect(result.Action).To(Equal(domain.ActionSuspend))
			Expect(result.Outcomes).To(HaveLen(1))
			Expect(result.Outcomes[0].Status).To(Equal(domain.OutcomeApplied))

			Eventually(spinner.State).WithTimeout(2 * time.Second).Should(Equal("T"))
			Expect(p.executor.IsSuspended(spinner.PID())).To(BeTrue())

			outcomes := p.executor.Drain(ctx)
			Expect(outcomes).To(HaveLen(1))
			Expect(outcomes[0].Action).To(Equal(domain.ActionResume))
			Eventually(spinner.State).WithTimeout(2 * time.Second).ShouldNot(Equal("T"))
			Expect(p.executor.Pending()).To(BeZero())
		})

		It("resumes stopped processes immediately on flush", func() {
			target := spinnerTarget(spinner.Marker, domain.ActionPolicy{
				Kind:       domain.ActionSuspend,
				SuspendFor: time.Hour,
			})
			p := newPipeline(target)

			p.check(ctx)
			Eventually(spinner.State).WithTimeout(2 * time.Second).Should(Equal("T"))

			start := time.Now()
			p.executor.Flush(ctx)
			Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
			Eventually(spinner.State).WithTimeout(2 * time.Second).ShouldNot(Equal("T"))
		})
	})

	Describe("kill policy", func() {
		It("terminates the offender and treats a repeat kill as a no-op", func() {
			target := spinnerTarget(spinner.Marker, domain.ActionPolicy{Kind: domain.ActionKill})
			p := newPipeline(target)

			result := p.check(ctx)
			Expect(result.ViolationCount).To(BeNil())
			Expect(result.Outcomes).To(HaveLen(1))
			Expect(result.Outcomes[0].Succeeded()).To(BeTrue())

			again := p.executor.Kill(usecase.Subject{
				Source:  "spinner",
				Process: domain.ProcessSnapshot{PID: spinner.PID()},
			})
			Expect(again.Succeeded() || again.Status == domain.OutcomeSkipped).To(BeTrue())

			Expect(spinner.WaitExit(5 * time.Second)).To(BeTrue())
			for _, o := range p.executor.Drain(ctx) {
				Expect(o.Status).To(BeElementOf(domain.OutcomeApplied, domain.OutcomeGone))
			}
		})
	})

	Describe("deprioritize policy", func() {
		It("raises the nice level", func() {
			target := spinnerTarget(spinner.Marker, domain.ActionPolicy{
				Kind:      domain.ActionDeprioritize,
				NiceLevel: 10,
			})
			p := newPipeline(target)

			result := p.check(ctx)
			Expect(result.Outcomes).To(HaveLen(1))
			Expect(result.Outcomes[0].Status).To(Equal(domain.OutcomeApplied))

			nice, err := spinner.Nice()
			Expect(err).NotTo(HaveOccurred())
			Expect(nice).To(Equal(10))
		})
	})

	Describe("ProcessController", func() {
		It("refuses pid 0 and reports exited processes as gone", func() {
			procs := infra.NewProcessController()
			Expect(procs.Terminate(0)).To(HaveOccurred())

			sleeper, err := fixtures.StartSleeper()
			Expect(err).NotTo(HaveOccurred())
			pid := sleeper.PID()
			sleeper.Cleanup()

			Expect(procs.Exists(pid)).To(BeFalse())
			err = procs.Suspend(pid)
			Expect(errors.Is(err, domain.ErrProcessGone)).To(BeTrue())
		})
	})
})

var _ = Describe("PSIReader", func() {
	It("reads the host's memory pressure", func() {
		if _, err := os.Stat(infra.DefaultPSIPath); err != nil {
			Skip("kernel without PSI")
		}
		sample, err := infra.NewPSIReader("").Read()
		if errors.Is(err, domain.ErrPressureUnavailable) {
			Skip("PSI not enabled")
		}
		Expect(err).NotTo(HaveOccurred())
		Expect(sample.Some.Avg10).To(BeNumerically(">=", 0))
		Expect(sample.SampledAt).NotTo(BeZero())
	})
})
