package model

// Submission is one graded attempt. The grading state machine mutates
// it in place as packets arrive; the repository persists the mutated
// fields. Problem and user columns the bridge needs are denormalized
// into the struct so packet handlers never join mid-stream.
type Submission struct {
	ID         int64  `db:"id"`
	ProblemID  int64  `db:"problem_id"`
	LanguageID int64  `db:"language_id"`
	UserID     int64  `db:"user_id"`
	Source     string `db:"source"`

	Status Status `db:"status"`
	Result Result `db:"result"`

	Time            float64 `db:"time"`
	Memory          int64   `db:"memory"`
	Points          float64 `db:"points"`
	CasePoints      float64 `db:"case_points"`
	CaseTotal       float64 `db:"case_total"`
	CurrentTestcase int     `db:"current_testcase"`

	IsPretested bool   `db:"is_pretested"`
	Batch       bool   `db:"batch"`
	Error       string `db:"error"`
	JudgedOn    string `db:"judged_on"`

	// Denormalized problem fields.
	ProblemCode    string  `db:"problem_code"`
	ProblemPoints  float64 `db:"problem_points"`
	ProblemPartial bool    `db:"problem_partial"`
	ProblemPublic  bool    `db:"problem_public"`
	LanguageKey    string  `db:"language_key"`

	// Contest is nil for practice submissions.
	Contest *ContestSubmission `db:"-"`
}

// ContestKey returns the contest identifier for feed events, empty for
// practice submissions.
func (s *Submission) ContestKey() string {
	if s.Contest == nil {
		return ""
	}
	return s.Contest.ContestKey
}

// ContestSubmission carries the contest-scoped score for a submission.
type ContestSubmission struct {
	SubmissionID    int64   `db:"submission_id"`
	ContestID       int64   `db:"contest_id"`
	ContestKey      string  `db:"contest_key"`
	ParticipationID int64   `db:"participation_id"`
	Points          float64 `db:"points"`

	// Contest-problem overrides of max points and partial credit.
	ProblemPoints  float64 `db:"problem_points"`
	ProblemPartial bool    `db:"problem_partial"`

	// RunPretestsOnly seeds the speculative pretested flag at dispatch
	// time; grading-begin overrides it with the judge's answer.
	RunPretestsOnly bool `db:"run_pretests_only"`
}

// TestCaseResult is one outcome for one (submission, position) pair.
// Immutable once stored; grading restarts delete the whole run.
type TestCaseResult struct {
	SubmissionID int64   `db:"submission_id"`
	Case         int     `db:"case"` // 1-based position
	Status       Result  `db:"status"`
	Time         float64 `db:"time"`
	Memory       int64   `db:"memory"`
	Points       float64 `db:"points"`
	Total        float64 `db:"total"`
	Batch        int     `db:"batch"` // 0 = standalone case
	Feedback     string  `db:"feedback"`
	Output       string  `db:"output"`
}

// Limits are the grading constraints resolved per (problem, language),
// with a language-specific override taking precedence over the problem
// default. Read-only at grading time.
type Limits struct {
	TimeLimit    float64
	MemoryLimit  int64
	ShortCircuit bool
	IsPretested  bool
}
