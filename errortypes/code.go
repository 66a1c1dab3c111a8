package errortypes

// Error codes, as written to response.ext.errors.<bidder>[].code.
const (
	TimeoutErrorCode                = 1
	BadInputErrorCode               = 2
	BadServerResponseErrorCode      = 3
	FailedToRequestBidsErrorCode    = 4
	FatalDependencyFailureErrorCode = 5
	AccountDisabledErrorCode        = 6
	UnsupportedBidderErrorCode      = 7

	UnknownErrorCode = 999
)

// Warning codes. These share the code space with errors, offset by 10000.
const (
	InsecureMarkupWarningCode          = 10001
	InvalidPriceGranularityWarningCode = 10002
	UnsupportedMediaTypeWarningCode    = 10003

	UnknownWarningCode = 10999
)

// Coder is implemented by every error in this package.
type Coder interface {
	Code() int
	Severity() Severity
}

// ReadCode returns the code of err, or UnknownErrorCode for errors raised outside this package.
func ReadCode(err error) int {
	if coder, ok := err.(Coder); ok {
		return coder.Code()
	}
	return UnknownErrorCode
}
