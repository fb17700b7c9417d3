package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Configuration errors (100-199)
	ErrCodeInvalidConfiguration ErrorCode = 100
	ErrCodeInvalidDateRange     ErrorCode = 101
	ErrCodeEmptySymbolSet       ErrorCode = 102
	ErrCodeInvalidCapital       ErrorCode = 103
	ErrCodeInvalidSlippageModel ErrorCode = 104
	ErrCodeInvalidFeeModel      ErrorCode = 105
	ErrCodeMissingParameter     ErrorCode = 106

	// Signal/Execution errors (200-299)
	ErrCodeInvalidSignal       ErrorCode = 200
	ErrCodeInsufficientCapital ErrorCode = 201
	ErrCodeInvalidQuantity     ErrorCode = 202
	ErrCodeInvalidPrice        ErrorCode = 203
	ErrCodeNoPositionToClose   ErrorCode = 204

	// Ledger errors (300-399)
	ErrCodeLedgerNil        ErrorCode = 300
	ErrCodeFillFailed       ErrorCode = 301
	ErrCodeTradeNotFound    ErrorCode = 302
	ErrCodePositionNotFound ErrorCode = 303

	// Data source errors (400-499)
	ErrCodeDataSourceUnavailable ErrorCode = 400
	ErrCodeSymbolNotFound        ErrorCode = 401
	ErrCodeQueryFailed           ErrorCode = 402
	ErrCodeNoDataFound           ErrorCode = 403
	ErrCodeResultWriteFailed     ErrorCode = 404

	// Strategy errors (500-599)
	ErrCodeStrategyNotLoaded   ErrorCode = 500
	ErrCodeStrategyConfigError ErrorCode = 501
	ErrCodeStrategyFailed      ErrorCode = 502

	// Worker errors (600-699)
	ErrCodeWorkerTimeout     ErrorCode = 600
	ErrCodeWorkerFailed      ErrorCode = 601
	ErrCodeRunCancelled      ErrorCode = 602
	ErrCodeRunAlreadyStarted ErrorCode = 603
)
