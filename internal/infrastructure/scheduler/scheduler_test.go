package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job " + j.name }
func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
		}
	}
	return j.err
}

type panicJob struct{}

func (panicJob) Name() string                  { return "panics" }
func (panicJob) Description() string           { return "" }
func (panicJob) Run(ctx context.Context) error { panic("boom") }

type recorder struct {
	mu   sync.Mutex
	runs map[string][]error
}

func (r *recorder) JobRun(job string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = map[string][]error{}
	}
	r.runs[job] = append(r.runs[job], err)
}

type fakeLocker struct {
	held     bool
	released atomic.Int32
}

func (l *fakeLocker) TryLock(ctx context.Context, resource, owner string, ttl time.Duration) (func(context.Context) error, error) {
	if l.held {
		return nil, errors.New("lock held")
	}
	return func(context.Context) error {
		l.released.Add(1)
		return nil
	}, nil
}

func TestScheduler_RegisterErrors(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})
	job := &countingJob{name: "a"}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Second)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Second)), ErrJobAlreadyExists)

	assert.ErrorIs(t, s.Unregister("missing"), ErrJobNotFound)
	assert.ErrorIs(t, s.DisableJob("missing"), ErrJobNotFound)
	assert.ErrorIs(t, s.EnableJob("missing"), ErrJobNotFound)
	require.NoError(t, s.Unregister("a"))
	assert.Empty(t, s.ListJobs())
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(SchedulerConfig{TickInterval: 5 * time.Millisecond, Recorder: rec})
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	assert.False(t, s.IsRunning())

	info, err := s.GetJobInfo("tick")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.RunCount, int64(2))
	assert.Equal(t, "@every 10ms", info.Schedule)
	assert.NotEmpty(t, s.GetHistory(0))

	rec.mu.Lock()
	assert.NotEmpty(t, rec.runs["tick"])
	rec.mu.Unlock()
}

func TestScheduler_DoesNotOverlapRuns(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: 2 * time.Millisecond})
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 1, job.runs.Load())

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(job.block)
	require.NoError(t, s.Stop())
}

func TestScheduler_RunNow(t *testing.T) {
	rec := &recorder{}
	s := NewScheduler(SchedulerConfig{Recorder: rec})
	failing := &countingJob{name: "failing", err: errors.New("db down")}
	require.NoError(t, s.Register(failing, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(panicJob{}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "failing")
	require.Error(t, err)
	assert.False(t, res.Success)

	_, err = s.RunNow(context.Background(), "panics")
	assert.ErrorIs(t, err, ErrJobPanicked)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	info, err := s.GetJobInfo("failing")
	require.NoError(t, err)
	assert.EqualValues(t, 1, info.FailCount)
	require.NotNil(t, info.LastResult)
	assert.EqualError(t, info.LastResult.Error, "db down")

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "failing", jobs[0].Name)
	assert.Equal(t, "panics", jobs[1].Name)
	assert.Len(t, rec.runs["failing"], 1)
}

func TestScheduler_Locker(t *testing.T) {
	locker := &fakeLocker{}
	s := NewScheduler(SchedulerConfig{Locker: locker})
	job := &countingJob{name: "exclusive"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "exclusive")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.EqualValues(t, 1, locker.released.Load())

	locker.held = true
	res, err = s.RunNow(context.Background(), "exclusive")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.EqualValues(t, 1, job.runs.Load())
}

func TestCronExpression_Next(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 17, 30, 0, time.UTC) // Tuesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/5 * * * *", time.Date(2026, 3, 10, 9, 20, 0, 0, time.UTC)},
		{"30 3 * * *", time.Date(2026, 3, 11, 3, 30, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"0 12 1 * *", time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)},
		{"15,45 9-10 * * *", time.Date(2026, 3, 10, 9, 45, 0, 0, time.UTC)},
		{"0 0 1 * 5", time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		ce, err := ParseCronExpression(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, ce.Next(base), tt.expr)
		assert.Equal(t, tt.expr, ce.String())
	}

	assert.True(t, MustParseCronExpression("0 0 31 2 *").Next(base).IsZero())
}

func TestCronExpression_Invalid(t *testing.T) {
	for _, expr := range []string{
		"* * * *",
		"60 * * * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * * 7",
	} {
		_, err := ParseCronExpression(expr)
		assert.Error(t, err, expr)
	}
	assert.Panics(t, func() { MustParseCronExpression("bad") })
}

func TestIntervalSchedule(t *testing.T) {
	s := NewIntervalSchedule(time.Minute)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(time.Minute), s.Next(base))
	assert.True(t, NewIntervalSchedule(0).Next(base).IsZero())
}
