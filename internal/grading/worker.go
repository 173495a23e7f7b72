package grading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// GradeArgs wakes a processor for one queued job. Inserted in the same
// transaction as the reservation and the job row, so a committed job always
// has a pending wake-up.
type GradeArgs struct {
	JobID uuid.UUID `json:"job_id"`
}

func (GradeArgs) Kind() string { return "grade_submission" }

// SweepArgs triggers a reconciliation pass. Deduplicated per period so
// multiple API instances don't stack sweeps.
type SweepArgs struct{}

func (SweepArgs) Kind() string { return "grading_sweep" }

func (SweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		UniqueOpts: river.UniqueOpts{ByPeriod: time.Minute},
	}
}

// Processor is the engine surface the workers drive.
type Processor interface {
	Process(ctx context.Context, jobID uuid.UUID) error
	Sweep(ctx context.Context) error
}

type GradeWorker struct {
	river.WorkerDefaults[GradeArgs]
	processor Processor
}

func NewGradeWorker(p Processor) *GradeWorker {
	return &GradeWorker{processor: p}
}

func (w *GradeWorker) Work(ctx context.Context, job *river.Job[GradeArgs]) error {
	return w.processor.Process(ctx, job.Args.JobID)
}

// Timeout leaves headroom over the 5-minute grading wall clock; the engine
// enforces the real deadline itself.
func (w *GradeWorker) Timeout(*river.Job[GradeArgs]) time.Duration {
	return WallClockTimeout + time.Minute
}

type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	processor Processor
}

func NewSweepWorker(p Processor) *SweepWorker {
	return &SweepWorker{processor: p}
}

func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	return w.processor.Sweep(ctx)
}

// PeriodicJobs schedules the sweep every two minutes, plus once immediately
// at startup to catch anything queued before this process existed.
func PeriodicJobs() []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(2*time.Minute),
			func() (river.JobArgs, *river.InsertOpts) {
				return SweepArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
