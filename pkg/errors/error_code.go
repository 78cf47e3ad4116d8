package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidDefinition    ErrorCode = 102
	ErrCodeInvalidRule          ErrorCode = 103
	ErrCodeInvalidRiskLimits    ErrorCode = 104
	ErrCodeInvalidSizing        ErrorCode = 105
	ErrCodeMissingLookback      ErrorCode = 106
	ErrCodeSchemaVersion        ErrorCode = 107

	// Data errors (200-299)
	ErrCodeEmptyCandles       ErrorCode = 200
	ErrCodeUnsortedCandles    ErrorCode = 201
	ErrCodeDuplicateTimestamp ErrorCode = 202
	ErrCodeMixedSymbols       ErrorCode = 203
	ErrCodeMixedTimeframes    ErrorCode = 204
	ErrCodeDataFetchFailed    ErrorCode = 205
	ErrCodeDataParseFailed    ErrorCode = 206

	// Strategy computation errors (400-499)
	ErrCodeComputeFailed        ErrorCode = 400
	ErrCodeComputeTimeout       ErrorCode = 401
	ErrCodeComputeBadSchema     ErrorCode = 402
	ErrCodeComputeBadLookback   ErrorCode = 403
	ErrCodeComputeBadEventIndex ErrorCode = 404
	ErrCodeModuleLoadFailed     ErrorCode = 405
	ErrCodeModuleMissingExport  ErrorCode = 406

	// Trading errors (500-599)
	ErrCodeEntryRejected    ErrorCode = 500
	ErrCodePositionNotFound ErrorCode = 501
	ErrCodeInvalidPrice     ErrorCode = 502
	ErrCodeInvalidQuantity  ErrorCode = 503

	// Backtest errors (600-699)
	ErrCodeRunCancelled   ErrorCode = 600
	ErrCodeRunNotFound    ErrorCode = 601
	ErrCodeRunNotFinished ErrorCode = 602
	ErrCodeSinkFailed     ErrorCode = 603

	// Controller errors (700-799)
	ErrCodeControllerClosed ErrorCode = 700
	ErrCodeRunRejected      ErrorCode = 701
)

// dataCodes is the half-open range of codes that classify as data errors.
const (
	dataCodeMin     ErrorCode = 200
	dataCodeMax     ErrorCode = 300
	strategyCodeMin ErrorCode = 400
	strategyCodeMax ErrorCode = 500
)
