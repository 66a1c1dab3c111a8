package exchange

import (
	"context"
	"fmt"
	"strings"

	"github.com/mxmCherry/openrtb"
	goCurrency "golang.org/x/text/currency"

	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/openrtb_ext"
)

const defaultCurrency = "USD"

// ensureValidBids returns a bidder that removes invalid bids from the argument bidder's response.
// These will be converted into errors instead.
//
// The goal here is to make sure that the response contains Bids which are valid given the initial Request,
// so that Publishers can trust the Bids they get from the exchange.
func ensureValidBids(bidder adaptedBidder) adaptedBidder {
	return &validatedBidder{
		bidder: bidder,
	}
}

type validatedBidder struct {
	bidder adaptedBidder
}

func (v *validatedBidder) requestBid(ctx context.Context, request *openrtb.BidRequest, name openrtb_ext.BidderName) (*pbsOrtbSeatBid, []error) {
	seatBid, errs := v.bidder.requestBid(ctx, request, name)
	if validationErrors := removeInvalidBids(request, seatBid); len(validationErrors) > 0 {
		errs = append(errs, validationErrors...)
	}
	return seatBid, errs
}

// removeInvalidBids will run some validation checks on the returned bids and excise any invalid bids
func removeInvalidBids(request *openrtb.BidRequest, seatBid *pbsOrtbSeatBid) []error {
	// Exit early if there is nothing to do.
	if seatBid == nil || len(seatBid.bids) == 0 {
		return nil
	}

	if cerr := validateCurrency(request.Cur, seatBid.currency); cerr != nil {
		seatBid.bids = nil
		return []error{cerr}
	}

	imps := make(map[string]*openrtb.Imp, len(request.Imp))
	for i := 0; i < len(request.Imp); i++ {
		imps[request.Imp[i].ID] = &request.Imp[i]
	}

	errs := make([]error, 0, len(seatBid.bids))
	validBids := make([]*pbsOrtbBid, 0, len(seatBid.bids))
	for _, bid := range seatBid.bids {
		if ok, berr := validateBid(bid, imps); ok {
			validBids = append(validBids, bid)
			if werr := checkSecureMarkup(bid, imps[bid.bid.ImpID]); werr != nil {
				errs = append(errs, werr)
			}
		} else {
			errs = append(errs, berr)
		}
	}
	seatBid.bids = validBids
	return errs
}

// validateCurrency checks that the bid currency is a real ISO code which the request accepts.
// A request with no "cur" accepts USD only.
func validateCurrency(requestAllowedCurrencies []string, bidCurrency string) error {
	if bidCurrency == "" {
		bidCurrency = defaultCurrency
	}
	currencyUnit, cerr := goCurrency.ParseISO(bidCurrency)
	if cerr != nil {
		return &errortypes.BadServerResponse{
			Message: fmt.Sprintf("Bid currency '%s' is not a valid ISO 4217 code", bidCurrency),
		}
	}

	if len(requestAllowedCurrencies) == 0 {
		requestAllowedCurrencies = []string{defaultCurrency}
	}
	for _, allowedCurrency := range requestAllowedCurrencies {
		if strings.ToUpper(allowedCurrency) == currencyUnit.String() {
			return nil
		}
	}
	return &errortypes.BadServerResponse{
		Message: fmt.Sprintf(
			"Bid currency is not allowed. Was '%s', wants: ['%s']",
			currencyUnit.String(),
			strings.Join(requestAllowedCurrencies, "', '"),
		),
	}
}

// validateBid will run the supplied bid through validation checks and return true if it passes, false otherwise.
func validateBid(bid *pbsOrtbBid, imps map[string]*openrtb.Imp) (bool, error) {
	if bid == nil || bid.bid == nil {
		return false, &errortypes.BadServerResponse{Message: "Empty bid object submitted."}
	}

	if bid.bid.ID == "" {
		return false, &errortypes.BadServerResponse{Message: "Bid missing required field 'id'"}
	}
	if bid.bid.ImpID == "" {
		return false, &errortypes.BadServerResponse{Message: fmt.Sprintf("Bid \"%s\" missing required field 'impid'", bid.bid.ID)}
	}
	if _, ok := imps[bid.bid.ImpID]; !ok {
		return false, &errortypes.BadServerResponse{Message: fmt.Sprintf("Bid \"%s\" has an 'impid' of \"%s\" which is not in the request", bid.bid.ID, bid.bid.ImpID)}
	}
	if bid.bid.Price <= 0.0 {
		return false, &errortypes.BadServerResponse{Message: fmt.Sprintf("Bid \"%s\" does not contain a positive 'price'", bid.bid.ID)}
	}
	if bid.bid.CrID == "" {
		return false, &errortypes.BadServerResponse{Message: fmt.Sprintf("Bid \"%s\" missing creative ID", bid.bid.ID)}
	}

	return true, nil
}

// checkSecureMarkup warns when a secure imp got markup which loads insecure resources.
func checkSecureMarkup(bid *pbsOrtbBid, imp *openrtb.Imp) error {
	if imp == nil || imp.Secure == nil || *imp.Secure != 1 {
		return nil
	}
	if isSecureMarkup(bid.bid.AdM) {
		return nil
	}
	return &errortypes.Warning{
		WarningCode: errortypes.InsecureMarkupWarningCode,
		Message:     fmt.Sprintf("Bid \"%s\" was made on a secure imp but its markup contains insecure resources", bid.bid.ID),
	}
}

// isSecureMarkup reports false only when the markup references http: and never https:.
func isSecureMarkup(adm string) bool {
	return !(strings.Contains(adm, "http:") && !strings.Contains(adm, "https:"))
}
