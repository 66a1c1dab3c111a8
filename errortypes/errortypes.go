package errortypes

// Timeout should be used to flag that a bidder failed to return a response because the auction deadline
// expired before a result was received.
//
// Timeouts will not be written to the app log, since it's not an actionable item for the exchange host.
type Timeout struct {
	Message string
}

func (err *Timeout) Error() string {
	return err.Message
}

func (err *Timeout) Code() int {
	return TimeoutErrorCode
}

func (err *Timeout) Severity() Severity {
	return SeverityFatal
}

// BadInput should be used when returning errors which are caused by bad input.
// It should _not_ be used if the error is a server-side issue (e.g. failed to send the external request).
//
// BadInputs will not be written to the app log, since it's not an actionable item for the exchange host.
type BadInput struct {
	Message string
}

func (err *BadInput) Error() string {
	return err.Message
}

func (err *BadInput) Code() int {
	return BadInputErrorCode
}

func (err *BadInput) Severity() Severity {
	return SeverityFatal
}

// BadServerResponse should be used when returning errors which are caused by bad/unexpected behavior on the remote server.
//
// For example:
//
//   - The external server responded with a 500
//   - The external server gave a malformed or unexpected response.
//
// These should not be used to log _connection_ errors (e.g. "couldn't find host"),
// which may indicate config issues for the host company
type BadServerResponse struct {
	Message string
}

func (err *BadServerResponse) Error() string {
	return err.Message
}

func (err *BadServerResponse) Code() int {
	return BadServerResponseErrorCode
}

func (err *BadServerResponse) Severity() Severity {
	return SeverityFatal
}

// FatalDependencyFailure flags that a collaborator the whole auction depends on (the bid cache)
// failed or timed out. Unlike the bidder-scoped errors above, this one aborts the auction.
type FatalDependencyFailure struct {
	Message string
}

func (err *FatalDependencyFailure) Error() string {
	return err.Message
}

func (err *FatalDependencyFailure) Code() int {
	return FatalDependencyFailureErrorCode
}

func (err *FatalDependencyFailure) Severity() Severity {
	return SeverityFatal
}

// FailedToRequestBids is an error to cover the case where an adapter failed to generate any http requests to get bids,
// but did not generate any error messages. This should not happen in practice and will signal that an adapter is poorly
// coded. If there was something wrong with a request such that an adapter could not generate a bid, then it should
// generate an error explaining the deficiency. Otherwise it will be extremely difficult to debug the reason why an
// adapter is not bidding.
type FailedToRequestBids struct {
	Message string
}

func (err *FailedToRequestBids) Error() string {
	return err.Message
}

func (err *FailedToRequestBids) Code() int {
	return FailedToRequestBidsErrorCode
}

func (err *FailedToRequestBids) Severity() Severity {
	return SeverityFatal
}

// AccountDisabled should be used when a request references an account which the host has switched off.
//
// These errors will be written to http.ResponseWriter before canceling execution
type AccountDisabled struct {
	Message string
}

func (err *AccountDisabled) Error() string {
	return err.Message
}

func (err *AccountDisabled) Code() int {
	return AccountDisabledErrorCode
}

func (err *AccountDisabled) Severity() Severity {
	return SeverityFatal
}

// Warning is a generic non-fatal error.
type Warning struct {
	Message     string
	WarningCode int
}

func (err *Warning) Error() string {
	return err.Message
}

func (err *Warning) Code() int {
	return err.WarningCode
}

func (err *Warning) Severity() Severity {
	return SeverityWarning
}

// UnsupportedBidder marks a bidder which a request named but this host cannot run, either because
// the name is unknown or because the host disabled it. The rest of the auction goes on without it.
type UnsupportedBidder struct {
	Message string
}

func (err *UnsupportedBidder) Error() string {
	return err.Message
}

func (err *UnsupportedBidder) Code() int {
	return UnsupportedBidderErrorCode
}

func (err *UnsupportedBidder) Severity() Severity {
	return SeverityWarning
}
