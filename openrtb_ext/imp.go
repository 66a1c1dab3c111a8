package openrtb_ext

import (
	"encoding/json"
)

// ExtImp defines the contract for bidrequest.imp[i].ext
type ExtImp struct {
	Prebid *ExtImpPrebid `json:"prebid,omitempty"`
}

// ExtImpPrebid defines the contract for bidrequest.imp[i].ext.prebid
type ExtImpPrebid struct {
	// Bidder is the preferred approach for providing parameters to be interpreted by the bidder's adapter.
	// Older clients put the same objects directly under bidrequest.imp[i].ext.{bidder}.
	Bidder map[string]json.RawMessage `json:"bidder"`
}

// ExtImpBidder is the shape each adapter receives in its copy of bidrequest.imp[i].ext.
// The bidder sees only its own params, never the params of other bidders.
type ExtImpBidder struct {
	// Bidder will contain the data for the bidder-specific extension.
	// Bidders should unmarshal this using their corresponding openrtb_ext.ExtImp{Bidder} struct.
	Bidder json.RawMessage `json:"bidder"`
}
