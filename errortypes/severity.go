package errortypes

// Severity tells whether an error removes the thing it was raised for, or only reports on it.
type Severity int

const (
	SeverityUnknown Severity = iota

	// SeverityFatal errors drop whatever they were raised for: an imp, a bid, a bidder or the whole auction.
	SeverityFatal

	// SeverityWarning errors are reported to the caller, but the data they concern is still used.
	SeverityWarning
)

// SeverityOf reads the severity of err. Errors which don't implement Coder are fatal.
func SeverityOf(err error) Severity {
	if c, ok := err.(Coder); ok {
		return c.Severity()
	}
	return SeverityFatal
}

// IsWarning returns true if err was raised with SeverityWarning.
func IsWarning(err error) bool {
	return SeverityOf(err) == SeverityWarning
}

// FatalOnly returns the errors in errs which are not warnings, keeping their order.
func FatalOnly(errs []error) []error {
	return filterWarnings(errs, false)
}

// WarningOnly returns the warnings in errs, keeping their order.
func WarningOnly(errs []error) []error {
	return filterWarnings(errs, true)
}

func filterWarnings(errs []error, keepWarnings bool) []error {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if IsWarning(err) == keepWarnings {
			filtered = append(filtered, err)
		}
	}
	return filtered
}
