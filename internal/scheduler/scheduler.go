// Package scheduler runs the background-sync and retry job loop as a
// message-driven service: commands arrive on a channel, and a single
// goroutine's ticker loop is the sole mutator of job state, per
// DESIGN NOTES' "no shared mutable iterator" guidance.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/syncforge/erpsync/internal/errkind"
)

// JobKind enumerates spec.md §4.8's three trigger kinds.
type JobKind string

const (
	KindDailyWindowed JobKind = "daily_windowed"
	KindInterval      JobKind = "interval"
	KindOneShot       JobKind = "one_shot"
)

// JobFunc is the work a job performs when triggered. force is true
// for a manual trigger_sync(force=true) call, which skips the window check.
type JobFunc func(ctx context.Context, force bool) error

// JobSpec declares one job at registration time.
type JobSpec struct {
	Name        string
	Kind        JobKind
	WindowStart TimeOfDay     // KindDailyWindowed
	WindowEnd   TimeOfDay     // KindDailyWindowed
	Interval    time.Duration // KindInterval
	At          time.Time     // KindOneShot
	Fn          JobFunc
}

// JobStatus is the read-only snapshot list_jobs()/get_job_status() return.
type JobStatus struct {
	Name        string
	Kind        JobKind
	Paused      bool
	LastRunAt   *time.Time
	LastError   string
	NextRunAt   time.Time
}

type jobState struct {
	spec      JobSpec
	paused    bool
	nextRun   time.Time
	lastRun   *time.Time
	lastError string
	fired     bool // for one-shot: true once consumed
}

// command is the internal message type the single consuming goroutine
// processes; replyCh, when non-nil, receives the command's result.
type command struct {
	kind    string
	name    string
	spec    JobSpec
	force   bool
	replyCh chan any
}

// Scheduler is the message-driven job runner.
type Scheduler struct {
	cmd  chan command
	done chan struct{}
	tick time.Duration
}

// New constructs a Scheduler. tick is the polling granularity of the
// internal timing loop (spec.md's illustrative examples use minute
// resolution; tests pass something much shorter).
func New(tick time.Duration) *Scheduler {
	return &Scheduler{cmd: make(chan command), done: make(chan struct{}), tick: tick}
}

// Start begins the timing loop in a background goroutine. Cancel ctx
// to end it; Stop then waits for the loop to exit.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop blocks until the timing loop has exited.
func (s *Scheduler) Stop() {
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	jobs := make(map[string]*jobState)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-s.cmd:
			s.handleCommand(ctx, jobs, cmd)

		case now := <-ticker.C:
			for _, job := range jobs {
				s.maybeFire(ctx, job, now, false, false)
			}
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, jobs map[string]*jobState, cmd command) {
	switch cmd.kind {
	case "add":
		js := &jobState{spec: cmd.spec}
		js.nextRun = computeNextRun(cmd.spec, time.Now())
		jobs[cmd.spec.Name] = js
		if cmd.replyCh != nil {
			cmd.replyCh <- nil
		}

	case "remove":
		delete(jobs, cmd.name)
		if cmd.replyCh != nil {
			cmd.replyCh <- nil
		}

	case "pause":
		if j, ok := jobs[cmd.name]; ok {
			j.paused = true
		}
		if cmd.replyCh != nil {
			cmd.replyCh <- nil
		}

	case "resume":
		if j, ok := jobs[cmd.name]; ok {
			j.paused = false
		}
		if cmd.replyCh != nil {
			cmd.replyCh <- nil
		}

	case "trigger_now":
		j, ok := jobs[cmd.name]
		if !ok {
			if cmd.replyCh != nil {
				cmd.replyCh <- errkind.New(errkind.NotFound, "job not registered: "+cmd.name)
			}
			return
		}
		err := s.maybeFire(ctx, j, time.Now(), cmd.force, true)
		if cmd.replyCh != nil {
			cmd.replyCh <- err
		}

	case "status":
		j, ok := jobs[cmd.name]
		if !ok {
			cmd.replyCh <- (*JobStatus)(nil)
			return
		}
		cmd.replyCh <- snapshotStatus(j)

	case "list":
		out := make([]JobStatus, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, *snapshotStatus(j))
		}
		cmd.replyCh <- out
	}
}

// maybeFire runs the job's function if it's due (or the call is a
// manual trigger_now, or force is true), updating job state. Returns an
// error when a daily-windowed job is triggered with force=false outside
// its window (spec.md §4.8's trigger_sync(force=false) "returns 400"
// contract, surfaced here as an errkind.Validation error for the HTTP
// layer to translate).
func (s *Scheduler) maybeFire(ctx context.Context, j *jobState, now time.Time, force, manual bool) error {
	if j.paused {
		return nil
	}
	if j.spec.Kind == KindOneShot && j.fired {
		return nil
	}

	due := manual || force || !now.Before(j.nextRun)
	if !due {
		return nil
	}

	if j.spec.Kind == KindDailyWindowed && !force {
		if !InWindow(now, j.spec.WindowStart, j.spec.WindowEnd) {
			return errkind.New(errkind.Validation, "outside sync window")
		}
	}

	err := j.spec.Fn(ctx, force)
	runAt := now
	j.lastRun = &runAt
	if err != nil {
		j.lastError = err.Error()
		slog.Error("scheduled job failed", "job", j.spec.Name, "err", err)
	} else {
		j.lastError = ""
	}

	switch j.spec.Kind {
	case KindOneShot:
		j.fired = true
	case KindDailyWindowed:
		j.nextRun = NextDailyFire(now, j.spec.WindowStart)
	case KindInterval:
		j.nextRun = now.Add(j.spec.Interval)
	}
	return err
}

func computeNextRun(spec JobSpec, now time.Time) time.Time {
	switch spec.Kind {
	case KindOneShot:
		return spec.At
	case KindInterval:
		return now.Add(spec.Interval)
	case KindDailyWindowed:
		return NextDailyFire(now, spec.WindowStart)
	default:
		return now
	}
}

func snapshotStatus(j *jobState) *JobStatus {
	return &JobStatus{
		Name:      j.spec.Name,
		Kind:      j.spec.Kind,
		Paused:    j.paused,
		LastRunAt: j.lastRun,
		LastError: j.lastError,
		NextRunAt: j.nextRun,
	}
}

// --- public command API, all routed through the single consuming goroutine ---

func (s *Scheduler) send(cmd command) any {
	if cmd.replyCh == nil {
		cmd.replyCh = make(chan any, 1)
	}
	s.cmd <- cmd
	return <-cmd.replyCh
}

// AddJob registers a new job (add_sync_job/add_interval_job/add_one_time_job).
func (s *Scheduler) AddJob(spec JobSpec) {
	s.send(command{kind: "add", spec: spec})
}

// RemoveJob unregisters a job by name.
func (s *Scheduler) RemoveJob(name string) {
	s.send(command{kind: "remove", name: name})
}

// PauseJob suspends firing for a job without removing it.
func (s *Scheduler) PauseJob(name string) {
	s.send(command{kind: "pause", name: name})
}

// ResumeJob re-enables a paused job.
func (s *Scheduler) ResumeJob(name string) {
	s.send(command{kind: "resume", name: name})
}

// TriggerNow implements trigger_sync(force): runs the job immediately,
// honoring the window check unless force is true.
func (s *Scheduler) TriggerNow(name string, force bool) error {
	result := s.send(command{kind: "trigger_now", name: name, force: force})
	if result == nil {
		return nil
	}
	return result.(error)
}

// GetJobStatus returns a snapshot of one job's state, or nil if unregistered.
func (s *Scheduler) GetJobStatus(name string) *JobStatus {
	result := s.send(command{kind: "status", name: name})
	return result.(*JobStatus)
}

// ListJobs returns a snapshot of every registered job. Consumers read
// this value only — it is never the scheduler's live map.
func (s *Scheduler) ListJobs() []JobStatus {
	result := s.send(command{kind: "list"})
	return result.([]JobStatus)
}
