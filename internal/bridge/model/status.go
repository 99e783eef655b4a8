package model

// Status is the submission lifecycle token exposed externally.
type Status string

const (
	StatusQueued        Status = "QU"
	StatusProcessing    Status = "P"
	StatusGrading       Status = "G"
	StatusDone          Status = "D"
	StatusCompileError  Status = "CE"
	StatusInternalError Status = "IE"
	StatusAborted       Status = "AB"
)

// Terminal reports whether no further packets can change the submission.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusCompileError, StatusInternalError, StatusAborted:
		return true
	}
	return false
}

// Result is a per-case or final verdict token. ResultCodes lists them in
// ascending severity; the worst case determines the final result.
type Result string

const (
	ResultShortCircuit        Result = "SC"
	ResultAccepted            Result = "AC"
	ResultWrongAnswer         Result = "WA"
	ResultMemoryLimitExceeded Result = "MLE"
	ResultTimeLimitExceeded   Result = "TLE"
	ResultInvalidReturn       Result = "IR"
	ResultRuntimeError        Result = "RTE"
	ResultOutputLimitExceeded Result = "OLE"
)

// Failure results stored when a run never produces case verdicts.
const (
	ResultCompileError  Result = "CE"
	ResultInternalError Result = "IE"
	ResultAborted       Result = "AB"
)

// ResultCodes orders verdicts by ascending severity.
var ResultCodes = []Result{
	ResultShortCircuit,
	ResultAccepted,
	ResultWrongAnswer,
	ResultMemoryLimitExceeded,
	ResultTimeLimitExceeded,
	ResultInvalidReturn,
	ResultRuntimeError,
	ResultOutputLimitExceeded,
}

// Severity returns the index of r in ResultCodes, 0 if unknown.
func (r Result) Severity() int {
	for i, c := range ResultCodes {
		if c == r {
			return i
		}
	}
	return 0
}

// Judge-reported case status bits. Several bits may be set at once; the
// decode priority below decides which one wins.
const (
	caseBitWA  = 1
	caseBitRTE = 2
	caseBitTLE = 4
	caseBitMLE = 8
	caseBitIR  = 16
	caseBitSC  = 32
	caseBitOLE = 64
)

// DecodeCaseStatus maps a judge status bitmask to exactly one verdict.
// The priority is fixed: TLE, MLE, OLE, RTE, IR, WA, SC, then AC when
// no bit is set. A mask with both TLE and WA set is a TLE.
func DecodeCaseStatus(mask int) Result {
	switch {
	case mask&caseBitTLE != 0:
		return ResultTimeLimitExceeded
	case mask&caseBitMLE != 0:
		return ResultMemoryLimitExceeded
	case mask&caseBitOLE != 0:
		return ResultOutputLimitExceeded
	case mask&caseBitRTE != 0:
		return ResultRuntimeError
	case mask&caseBitIR != 0:
		return ResultInvalidReturn
	case mask&caseBitWA != 0:
		return ResultWrongAnswer
	case mask&caseBitSC != 0:
		return ResultShortCircuit
	default:
		return ResultAccepted
	}
}
