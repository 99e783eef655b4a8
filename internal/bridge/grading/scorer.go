package grading

import (
	"math"

	"ojbridge/internal/bridge/model"
)

// Tally is the aggregate of one grading run.
type Tally struct {
	// Time is the sum of per-case times, Memory the running maximum.
	Time   float64
	Memory int64

	// Points and Total are the summed case points/totals, rounded to
	// one decimal place.
	Points float64
	Total  float64

	// Result is the worst case status by severity.
	Result model.Result
}

type batchScore struct {
	points float64
	total  float64
}

// Aggregate folds all case results of a run into a Tally. Standalone
// cases sum directly. Batched cases count once per batch: the batch
// contributes min(points) and max(total) across its members. The min/max
// asymmetry is the established scoring rule; keep it.
func Aggregate(cases []model.TestCaseResult) Tally {
	var t Tally
	t.Result = model.ResultShortCircuit
	worst := 0
	batches := make(map[int]batchScore)

	for _, c := range cases {
		t.Time += c.Time
		if c.Batch == 0 {
			t.Points += c.Points
			t.Total += c.Total
		} else if b, ok := batches[c.Batch]; ok {
			b.points = math.Min(b.points, c.Points)
			b.total = math.Max(b.total, c.Total)
			batches[c.Batch] = b
		} else {
			batches[c.Batch] = batchScore{points: c.Points, total: c.Total}
		}
		if c.Memory > t.Memory {
			t.Memory = c.Memory
		}
		if s := c.Status.Severity(); s > worst {
			worst = s
			t.Result = c.Status
		}
	}

	for _, b := range batches {
		t.Points += b.points
		t.Total += b.total
	}

	t.Points = round1(t.Points)
	t.Total = round1(t.Total)
	return t
}

// FinalPoints scales the case tally to the problem's maximum. Without
// partial credit a run that does not reach full marks scores zero.
func FinalPoints(casePoints, caseTotal, maxPoints float64, partial bool) float64 {
	var points float64
	if caseTotal > 0 {
		points = round1(casePoints / caseTotal * maxPoints)
	}
	if !partial && points != maxPoints {
		points = 0
	}
	return points
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
