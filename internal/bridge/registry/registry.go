// Package registry tracks the judges currently connected to the bridge
// and routes submissions to them.
package registry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ojbridge/internal/bridge/model"
	appErr "ojbridge/pkg/errors"
	"ojbridge/pkg/utils/logger"
)

// Judge is one authenticated judge connection. Sessions implement it;
// the registry only ever sees this surface.
type Judge interface {
	// Name is the judge's unique identifier.
	Name() string

	// CanGrade reports whether the judge has the problem and an
	// executor for the language.
	CanGrade(problem, language string) bool

	// Load counts the submissions the judge is grading right now.
	Load() int

	// Grading reports whether the judge is grading the submission.
	Grading(submissionID int64) bool

	// Grade hands the submission to the judge. It blocks until the
	// judge acknowledges receipt or refuses.
	Grade(ctx context.Context, sub *model.Submission, limits model.Limits) error

	// Abort asks the judge to stop grading the submission. Best
	// effort; the terminated packet confirms.
	Abort(ctx context.Context, submissionID int64) error

	// Disconnect closes the judge's connection.
	Disconnect()
}

// Registry is the shared table of connected judges. Concurrent
// register, unregister and pick are all safe.
type Registry struct {
	mu     sync.RWMutex
	judges map[string]Judge
}

func New() *Registry {
	return &Registry{judges: make(map[string]Judge)}
}

// Register adds the judge. A name already connected is refused so a
// flapping judge cannot shadow a live session.
func (r *Registry) Register(j Judge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.judges[j.Name()]; ok {
		return appErr.Newf(appErr.DuplicateJudge, "judge %q is already connected", j.Name())
	}
	r.judges[j.Name()] = j
	return nil
}

// Unregister removes the judge if the registered session is this one.
// A session replaced by a reconnect must not evict its successor.
func (r *Registry) Unregister(j Judge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.judges[j.Name()]; ok && cur == j {
		delete(r.judges, j.Name())
	}
}

// Get returns the connected judge by name.
func (r *Registry) Get(name string) (Judge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.judges[name]
	if !ok {
		return nil, appErr.Newf(appErr.JudgeNotFound, "judge %q is not connected", name)
	}
	return j, nil
}

// Names lists the connected judges.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.judges))
	for name := range r.judges {
		names = append(names, name)
	}
	return names
}

// Count returns the number of connected judges.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.judges)
}

// Eligible returns the judges able to grade the (problem, language)
// pair.
func (r *Registry) Eligible(problem, language string) []Judge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Judge
	for _, j := range r.judges {
		if j.CanGrade(problem, language) {
			out = append(out, j)
		}
	}
	return out
}

// Pick selects the least-loaded judge able to grade the pair. Ties
// break on map iteration order, which spreads repeated picks.
func (r *Registry) Pick(problem, language string) (Judge, error) {
	var best Judge
	for _, j := range r.Eligible(problem, language) {
		if best == nil || j.Load() < best.Load() {
			best = j
		}
	}
	if best == nil {
		return nil, appErr.Newf(appErr.NoEligibleJudge,
			"no connected judge can grade problem %q in language %q", problem, language)
	}
	return best, nil
}

// AbortSubmission routes an abort to whichever judge is grading the
// submission. Unknown submissions are ignored: the grading may have
// finished between the request and the lookup.
func (r *Registry) AbortSubmission(ctx context.Context, submissionID int64) {
	r.mu.RLock()
	var target Judge
	for _, j := range r.judges {
		if j.Grading(submissionID) {
			target = j
			break
		}
	}
	r.mu.RUnlock()

	if target == nil {
		logger.Warn(ctx, "abort for submission no judge is grading",
			zap.Int64("submission_id", submissionID))
		return
	}
	if err := target.Abort(ctx, submissionID); err != nil {
		logger.Warn(ctx, "abort request failed", zap.Error(err),
			zap.String("judge", target.Name()),
			zap.Int64("submission_id", submissionID))
	}
}

// DisconnectAll closes every connected session; used at shutdown.
func (r *Registry) DisconnectAll() {
	r.mu.RLock()
	judges := make([]Judge, 0, len(r.judges))
	for _, j := range r.judges {
		judges = append(judges, j)
	}
	r.mu.RUnlock()

	for _, j := range judges {
		j.Disconnect()
	}
}
