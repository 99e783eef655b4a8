package model

import "time"

// Judge is the persisted record for one judge identity. A judge may be
// offline; Online and the runtime-version rows are owned by the session
// lifecycle and must never survive a dropped connection.
type Judge struct {
	Name      string    `db:"name"`
	AuthKey   string    `db:"auth_key"`
	Online    bool      `db:"online"`
	StartTime time.Time `db:"start_time"`
	LastIP    string    `db:"last_ip"`
	Ping      float64   `db:"ping"`
	Load      float64   `db:"load"`
}

// RuntimeVersion is one declared runtime for one language on one judge.
// Priority is the declared order, used to pick a display version.
type RuntimeVersion struct {
	Judge    string `db:"judge"`
	Language string `db:"language"`
	Name     string `db:"name"`
	Version  string `db:"version"`
	Priority int    `db:"priority"`
}

// Capabilities is the snapshot a judge declares at handshake: the
// problem codes it has data for and the runtimes per language key.
type Capabilities struct {
	Problems map[string]struct{}
	Runtimes map[string][]RuntimeVersion
}

// NewCapabilities builds a capability set from handshake data.
func NewCapabilities(problems []string, runtimes map[string][]RuntimeVersion) Capabilities {
	set := make(map[string]struct{}, len(problems))
	for _, p := range problems {
		set[p] = struct{}{}
	}
	return Capabilities{Problems: set, Runtimes: runtimes}
}

// HasProblem reports whether the judge declared the problem code.
func (c Capabilities) HasProblem(code string) bool {
	_, ok := c.Problems[code]
	return ok
}

// HasLanguage reports whether the judge declared the language key.
func (c Capabilities) HasLanguage(key string) bool {
	_, ok := c.Runtimes[key]
	return ok
}

// CanGrade reports whether the capability set covers both the problem
// and the language of a submission.
func (c Capabilities) CanGrade(problem, language string) bool {
	return c.HasProblem(problem) && c.HasLanguage(language)
}
