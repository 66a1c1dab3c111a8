package exchange

import (
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
	"github.com/mxmCherry/openrtb"

	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/openrtb_ext"
)

// bidderRequests is the result of splitting one BidRequest per bidder.
type bidderRequests struct {
	// requests holds one request per runnable bidder, keyed by the name the request used for it.
	requests map[openrtb_ext.BidderName]*openrtb.BidRequest
	// coreBidders maps each key of requests onto the bidder which will run it.
	// Aliases map onto their core bidder and core bidders onto themselves.
	coreBidders map[openrtb_ext.BidderName]openrtb_ext.BidderName
	// rejected holds the names which this host cannot run.
	rejected map[openrtb_ext.BidderName]error
	// order lists every referenced name, runnable or not, in order of first appearance.
	order []openrtb_ext.BidderName
	// errs holds problems with individual imps.
	errs []error
}

// cleanOpenRTBRequests splits the BidRequest into separate requests, one for each bidder it names.
//
// Each bidder sees only the imps which name it, and each of those imps carries only that bidder's
// params, in the shape {"bidder": params}. The original request is never modified.
func cleanOpenRTBRequests(orig *openrtb.BidRequest, aliases map[string]string, adapterMap map[openrtb_ext.BidderName]adaptedBidder, disabled map[openrtb_ext.BidderName]bool) *bidderRequests {
	split := &bidderRequests{
		requests:    make(map[openrtb_ext.BidderName]*openrtb.BidRequest),
		coreBidders: make(map[openrtb_ext.BidderName]openrtb_ext.BidderName),
		rejected:    make(map[openrtb_ext.BidderName]error),
	}

	impsByBidder := make(map[openrtb_ext.BidderName][]openrtb.Imp)
	for i := 0; i < len(orig.Imp); i++ {
		names, params, err := extractBidderExts(orig.Imp[i].Ext)
		if err != nil {
			split.errs = append(split.errs, &errortypes.BadInput{
				Message: fmt.Sprintf("imp[%d].ext is invalid: %v", i, err),
			})
			continue
		}

		for _, name := range names {
			bidder := openrtb_ext.BidderName(name)
			if _, seen := split.coreBidders[bidder]; !seen {
				if _, seen := split.rejected[bidder]; !seen {
					split.order = append(split.order, bidder)
					if coreBidder, err := resolveBidder(name, aliases, adapterMap, disabled); err != nil {
						split.rejected[bidder] = err
					} else {
						split.coreBidders[bidder] = coreBidder
					}
				}
			}
			if _, ok := split.coreBidders[bidder]; !ok {
				continue
			}

			impExt, err := json.Marshal(openrtb_ext.ExtImpBidder{Bidder: params[name]})
			if err != nil {
				split.errs = append(split.errs, &errortypes.BadInput{
					Message: fmt.Sprintf("imp[%d].ext.%s is invalid: %v", i, name, err),
				})
				continue
			}
			imp := orig.Imp[i]
			imp.Ext = impExt
			impsByBidder[bidder] = append(impsByBidder[bidder], imp)
		}
	}

	for bidder, imps := range impsByBidder {
		reqCopy := *orig
		reqCopy.Imp = imps
		split.requests[bidder] = &reqCopy
	}
	return split
}

// resolveBidder finds the core bidder which will serve the name an imp used.
func resolveBidder(name string, aliases map[string]string, adapterMap map[openrtb_ext.BidderName]adaptedBidder, disabled map[openrtb_ext.BidderName]bool) (openrtb_ext.BidderName, error) {
	coreBidder, ok := openrtb_ext.GetBidderName(name)
	if !ok {
		if aliasOf, isAlias := aliases[name]; isAlias {
			coreBidder, ok = openrtb_ext.GetBidderName(aliasOf)
		}
	}
	if !ok {
		return "", &errortypes.UnsupportedBidder{Message: "Unsupported bidder"}
	}
	if disabled[coreBidder] {
		return "", &errortypes.UnsupportedBidder{
			Message: fmt.Sprintf("Bidder \"%s\" has been disabled on this exchange. Please work with the exchange host to enable this bidder again.", coreBidder),
		}
	}
	if _, ok := adapterMap[coreBidder]; !ok {
		return "", &errortypes.UnsupportedBidder{Message: "Unsupported bidder"}
	}
	return coreBidder, nil
}

// extractBidderExts reads the bidder params out of an imp.ext.
//
// Params may sit under imp.ext.prebid.bidder.{bidder} or, for older clients, directly under imp.ext.{bidder}.
// When a bidder appears in both places, imp.ext.prebid.bidder wins. Names come back in order of appearance.
func extractBidderExts(impExt json.RawMessage) ([]string, map[string]json.RawMessage, error) {
	names := make([]string, 0, 2)
	params := make(map[string]json.RawMessage, 2)
	if len(impExt) == 0 {
		return names, params, nil
	}

	add := func(name string, value []byte, preferred bool) {
		if _, ok := params[name]; !ok {
			names = append(names, name)
		} else if !preferred {
			return
		}
		params[name] = json.RawMessage(value)
	}

	var innerErr error
	err := jsonparser.ObjectEach(impExt, func(key []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		name := string(key)
		if name != string(openrtb_ext.BidderReservedPrebid) {
			if !openrtb_ext.IsBidderNameReserved(name) {
				add(name, value, false)
			}
			return nil
		}

		prebidBidders, bidderType, _, err := jsonparser.Get(value, "bidder")
		if err == jsonparser.KeyPathNotFoundError {
			return nil
		}
		if err != nil || bidderType != jsonparser.Object {
			innerErr = fmt.Errorf("prebid.bidder must be an object")
			return innerErr
		}
		return jsonparser.ObjectEach(prebidBidders, func(key []byte, value []byte, _ jsonparser.ValueType, _ int) error {
			add(string(key), value, true)
			return nil
		})
	})
	if innerErr != nil {
		return nil, nil, innerErr
	}
	if err != nil {
		return nil, nil, err
	}
	return names, params, nil
}

// parseRequestExt decodes bidrequest.ext. An empty ext is valid.
func parseRequestExt(ext json.RawMessage) (*openrtb_ext.ExtRequest, error) {
	requestExt := &openrtb_ext.ExtRequest{}
	if len(ext) == 0 {
		return requestExt, nil
	}
	if err := json.Unmarshal(ext, requestExt); err != nil {
		return nil, &errortypes.BadInput{Message: fmt.Sprintf("request.ext is invalid: %v", err)}
	}
	return requestExt, nil
}

// hasRequestGranularity reports whether the request itself chose a price granularity.
func hasRequestGranularity(ext json.RawMessage) bool {
	if len(ext) == 0 {
		return false
	}
	_, _, _, err := jsonparser.Get(ext, "prebid", "targeting", "pricegranularity")
	return err == nil
}
