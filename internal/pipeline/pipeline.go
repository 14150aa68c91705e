// Package pipeline runs install steps strictly in order and stops at the
// first failure. Nothing already applied is undone.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"personactl/internal/host"
)

// Step is one named unit of work.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result records how a step went.
type Result struct {
	Step     string
	Duration time.Duration
	Err      error
}

// Failure describes the step that halted a run, with enough ambient
// context for an operator to reproduce it.
type Failure struct {
	RunID      string
	Step       string
	Index      int
	ExitStatus int
	Command    string
	Dir        string
	User       string
	Time       time.Time
	Args       []string
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("step %d (%s) failed with status %d: %v", f.Index+1, f.Step, f.ExitStatus, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Log writes every failure field as one error event.
func (f *Failure) Log(log zerolog.Logger) {
	log.Error().
		Str("run_id", f.RunID).
		Str("step", f.Step).
		Int("step_index", f.Index+1).
		Int("exit_status", f.ExitStatus).
		Str("command", f.Command).
		Str("dir", f.Dir).
		Str("user", f.User).
		Time("at", f.Time).
		Str("args", strings.Join(f.Args, " ")).
		Err(f.Err).
		Msg("install halted; already-applied changes were left in place, fix the cause and re-run")
}

// Runner executes steps.
type Runner struct {
	RunID   string
	Args    []string
	Log     zerolog.Logger
	Metrics *Metrics
	now     func() time.Time
}

// Run executes steps in order. It returns the results of every step that
// ran and a *Failure for the first one that failed.
func (r *Runner) Run(ctx context.Context, steps []Step) ([]Result, error) {
	now := r.now
	if now == nil {
		now = time.Now
	}
	results := make([]Result, 0, len(steps))
	for i, s := range steps {
		log := r.Log.With().Str("step", s.Name).Logger()
		log.Info().Msgf("[%d/%d] %s", i+1, len(steps), s.Name)
		start := now()
		err := ctx.Err()
		if err == nil {
			err = s.Run(ctx)
		}
		res := Result{Step: s.Name, Duration: now().Sub(start), Err: err}
		results = append(results, res)
		r.Metrics.observe(res)
		if err != nil {
			return results, r.failure(i, s.Name, err, now())
		}
		log.Debug().Dur("took", res.Duration).Msg("step done")
	}
	return results, nil
}

func (r *Runner) failure(i int, name string, err error, at time.Time) *Failure {
	f := &Failure{
		RunID:      r.RunID,
		Step:       name,
		Index:      i,
		ExitStatus: host.ExitStatusOf(err),
		Command:    host.CommandOf(err),
		Time:       at,
		Args:       append([]string(nil), r.Args...),
		Err:        err,
	}
	f.Dir, _ = os.Getwd()
	if u, uerr := user.Current(); uerr == nil {
		f.User = u.Username
	} else {
		f.User = os.Getenv("USER")
	}
	return f
}
