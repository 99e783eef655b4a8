package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 20000-20999: Wire protocol errors
// 21000-21999: Judge session errors
// 22000-22999: Grading errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10004
	Timeout             ErrorCode = 10005

	// Persistence errors (10100-10199)
	DatabaseError          ErrorCode = 10100
	RecordNotFound         ErrorCode = 10101
	PersistenceUnavailable ErrorCode = 10102

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	CacheMiss  ErrorCode = 10201

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	RequiredFieldEmpty ErrorCode = 10301

	// ========== Wire Protocol Errors (20000-20999) ==========

	// Connect/timeout/IO failures talking to a peer (20000-20099)
	TransportError ErrorCode = 20000

	// Malformed frame or payload (20100-20199)
	ProtocolError  ErrorCode = 20100
	TruncatedFrame ErrorCode = 20101
	BadPayload     ErrorCode = 20102

	// ========== Judge Session Errors (21000-21999) ==========

	AuthError       ErrorCode = 21000
	JudgeNotFound   ErrorCode = 21001
	DuplicateJudge  ErrorCode = 21002
	NoEligibleJudge ErrorCode = 21003
	JudgeBusy       ErrorCode = 21004
	SessionClosed   ErrorCode = 21005

	// ========== Grading Errors (22000-22999) ==========

	UnknownSubmission ErrorCode = 22000
	UnknownPacket     ErrorCode = 22001
	PublishFailed     ErrorCode = 22002
)

var codeMessages = map[ErrorCode]string{
	Success:             "success",
	InternalServerError: "internal server error",
	InvalidParams:       "invalid parameters",
	NotFound:            "resource not found",
	ServiceUnavailable:  "service unavailable",
	Timeout:             "operation timed out",

	DatabaseError:          "database error",
	RecordNotFound:         "record not found",
	PersistenceUnavailable: "persistence layer unavailable",

	CacheError: "cache error",
	CacheMiss:  "cache miss",

	ValidationFailed:   "validation failed",
	RequiredFieldEmpty: "required field is empty",

	TransportError: "transport failure",
	ProtocolError:  "protocol violation",
	TruncatedFrame: "truncated frame",
	BadPayload:     "malformed payload",

	AuthError:       "authentication failed",
	JudgeNotFound:   "judge not found",
	DuplicateJudge:  "judge name already connected",
	NoEligibleJudge: "no eligible judge online",
	JudgeBusy:       "judge is grading another submission",
	SessionClosed:   "judge session closed",

	UnknownSubmission: "unknown submission",
	UnknownPacket:     "unknown packet kind",
	PublishFailed:     "event publish failed",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return "unknown error"
}
