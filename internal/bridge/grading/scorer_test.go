package grading_test

import (
	"testing"

	"ojbridge/internal/bridge/grading"
	"ojbridge/internal/bridge/model"
)

func standalone(pos int, status model.Result, points, total float64) model.TestCaseResult {
	return model.TestCaseResult{Case: pos, Status: status, Points: points, Total: total}
}

func TestAggregateStandaloneCases(t *testing.T) {
	t.Parallel()
	tally := grading.Aggregate([]model.TestCaseResult{
		{Case: 1, Status: model.ResultAccepted, Time: 0.5, Memory: 1000, Points: 5, Total: 5},
		{Case: 2, Status: model.ResultWrongAnswer, Time: 0.25, Memory: 2500, Points: 0, Total: 5},
		{Case: 3, Status: model.ResultAccepted, Time: 0.75, Memory: 800, Points: 5, Total: 5},
	})
	if tally.Points != 10 || tally.Total != 15 {
		t.Fatalf("expected 10/15, got %v/%v", tally.Points, tally.Total)
	}
	if tally.Time != 1.5 {
		t.Fatalf("expected summed time 1.5, got %v", tally.Time)
	}
	if tally.Memory != 2500 {
		t.Fatalf("expected max memory 2500, got %d", tally.Memory)
	}
	if tally.Result != model.ResultWrongAnswer {
		t.Fatalf("expected worst status WA, got %s", tally.Result)
	}
}

func TestAggregateBatchMinPointsMaxTotal(t *testing.T) {
	t.Parallel()
	// Batch contributes min(points)=3 and max(total)=5 regardless of
	// arrival order.
	orders := [][]model.TestCaseResult{
		{
			{Case: 1, Batch: 1, Status: model.ResultAccepted, Points: 3, Total: 5},
			{Case: 2, Batch: 1, Status: model.ResultAccepted, Points: 5, Total: 5},
		},
		{
			{Case: 1, Batch: 1, Status: model.ResultAccepted, Points: 5, Total: 5},
			{Case: 2, Batch: 1, Status: model.ResultAccepted, Points: 3, Total: 5},
		},
	}
	for i, cases := range orders {
		tally := grading.Aggregate(cases)
		if tally.Points != 3 || tally.Total != 5 {
			t.Errorf("order %d: expected 3/5, got %v/%v", i, tally.Points, tally.Total)
		}
	}
}

func TestAggregateBatchTotalAsymmetry(t *testing.T) {
	t.Parallel()
	// Totals differ within the batch: points cap at the worst case but
	// the total reflects the largest declared total.
	tally := grading.Aggregate([]model.TestCaseResult{
		{Case: 1, Batch: 2, Status: model.ResultAccepted, Points: 4, Total: 4},
		{Case: 2, Batch: 2, Status: model.ResultAccepted, Points: 6, Total: 10},
	})
	if tally.Points != 4 || tally.Total != 10 {
		t.Fatalf("expected 4/10, got %v/%v", tally.Points, tally.Total)
	}
}

func TestAggregateMixedBatchesAndStandalone(t *testing.T) {
	t.Parallel()
	tally := grading.Aggregate([]model.TestCaseResult{
		standalone(1, model.ResultAccepted, 2, 2),
		{Case: 2, Batch: 1, Status: model.ResultAccepted, Points: 3, Total: 3},
		{Case: 3, Batch: 1, Status: model.ResultTimeLimitExceeded, Points: 0, Total: 3},
		{Case: 4, Batch: 2, Status: model.ResultAccepted, Points: 4, Total: 4},
		{Case: 5, Batch: 2, Status: model.ResultAccepted, Points: 4, Total: 4},
	})
	// standalone 2/2 + batch1 0/3 + batch2 4/4
	if tally.Points != 6 || tally.Total != 9 {
		t.Fatalf("expected 6/9, got %v/%v", tally.Points, tally.Total)
	}
	if tally.Result != model.ResultTimeLimitExceeded {
		t.Fatalf("expected TLE, got %s", tally.Result)
	}
}

func TestAggregateRoundsToOneDecimal(t *testing.T) {
	t.Parallel()
	tally := grading.Aggregate([]model.TestCaseResult{
		standalone(1, model.ResultAccepted, 1.11, 1.11),
		standalone(2, model.ResultAccepted, 2.22, 2.22),
	})
	if tally.Points != 3.3 || tally.Total != 3.3 {
		t.Fatalf("expected 3.3/3.3, got %v/%v", tally.Points, tally.Total)
	}
}

func TestAggregateEmptyRun(t *testing.T) {
	t.Parallel()
	tally := grading.Aggregate(nil)
	if tally.Points != 0 || tally.Total != 0 || tally.Time != 0 || tally.Memory != 0 {
		t.Fatalf("expected zero tally, got %+v", tally)
	}
}

func TestFinalPointsPartialCredit(t *testing.T) {
	t.Parallel()
	if got := grading.FinalPoints(5, 10, 100, true); got != 50 {
		t.Fatalf("expected 50, got %v", got)
	}
	if got := grading.FinalPoints(0, 0, 100, true); got != 0 {
		t.Fatalf("zero total must score zero, got %v", got)
	}
}

func TestFinalPointsAllOrNothing(t *testing.T) {
	t.Parallel()
	// Without partial credit, anything short of full marks is zero.
	if got := grading.FinalPoints(9.5, 10, 10, false); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := grading.FinalPoints(10, 10, 10, false); got != 10 {
		t.Fatalf("expected 10, got %v", got)
	}
}
