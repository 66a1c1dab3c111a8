package adapters

import (
	"github.com/mxmCherry/openrtb"
)

// MisconfiguredBidder stands in for a bidder whose host config is incomplete.
// Every call fails with Error, so the bidder shows up in the auction as a per-bidder error.
type MisconfiguredBidder struct {
	Name  string
	Error error
}

func (b *MisconfiguredBidder) MakeRequests(request *openrtb.BidRequest) ([]*RequestData, []error) {
	return nil, []error{b.Error}
}

func (b *MisconfiguredBidder) MakeBids(internalRequest *openrtb.BidRequest, externalRequest *RequestData, response *ResponseData) (*BidderResponse, []error) {
	return nil, []error{b.Error}
}
