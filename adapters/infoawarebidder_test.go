package adapters

import (
	"errors"
	"testing"

	"github.com/mxmCherry/openrtb"
	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/openrtb_ext"
	"github.com/stretchr/testify/assert"
)

func TestAppNotSupported(t *testing.T) {
	bidder := &mockBidder{}
	info := BidderInfo{
		Capabilities: &CapabilitiesInfo{
			Site: &PlatformInfo{
				MediaTypes: []openrtb_ext.BidType{openrtb_ext.BidTypeBanner},
			},
		},
	}
	constrained := BuildInfoAwareBidder(bidder, info)
	bids, errs := constrained.MakeRequests(&openrtb.BidRequest{
		Imp: []openrtb.Imp{{ID: "imp-1", Banner: &openrtb.Banner{}}},
		App: &openrtb.App{},
	})
	if !assert.Len(t, errs, 1) {
		return
	}
	assert.EqualError(t, errs[0], "this bidder does not support app requests")
	assert.IsType(t, &errortypes.BadInput{}, errs[0])
	assert.Len(t, bids, 0)
	assert.Nil(t, bidder.gotRequest)
}

func TestSiteNotSupported(t *testing.T) {
	bidder := &mockBidder{}
	info := BidderInfo{
		Capabilities: &CapabilitiesInfo{
			App: &PlatformInfo{
				MediaTypes: []openrtb_ext.BidType{openrtb_ext.BidTypeBanner},
			},
		},
	}
	constrained := BuildInfoAwareBidder(bidder, info)
	bids, errs := constrained.MakeRequests(&openrtb.BidRequest{
		Imp:  []openrtb.Imp{{ID: "imp-1", Banner: &openrtb.Banner{}}},
		Site: &openrtb.Site{},
	})
	if !assert.Len(t, errs, 1) {
		return
	}
	assert.EqualError(t, errs[0], "this bidder does not support site requests")
	assert.IsType(t, &errortypes.BadInput{}, errs[0])
	assert.Len(t, bids, 0)
}

func TestImpFiltering(t *testing.T) {
	info := BidderInfo{
		Capabilities: &CapabilitiesInfo{
			Site: &PlatformInfo{
				MediaTypes: []openrtb_ext.BidType{openrtb_ext.BidTypeVideo},
			},
			App: &PlatformInfo{
				MediaTypes: []openrtb_ext.BidType{openrtb_ext.BidTypeBanner},
			},
		},
	}

	testCases := []struct {
		description    string
		inBidRequest   *openrtb.BidRequest
		expectedErrors []error
		expectedImpLen int
	}{
		{
			description: "Empty Imp array. MakeRequest() call not expected",
			inBidRequest: &openrtb.BidRequest{
				Imp:  []openrtb.Imp{},
				Site: &openrtb.Site{},
			},
			expectedErrors: []error{
				&errortypes.BadInput{Message: "Bid request didn't contain media types supported by the bidder"},
			},
			expectedImpLen: 0,
		},
		{
			description: "All imps in bid request of wrong media type, MakeRequest() call not expected",
			inBidRequest: &openrtb.BidRequest{
				Imp: []openrtb.Imp{
					{ID: "imp-1", Video: &openrtb.Video{}},
					{ID: "imp-2", Native: &openrtb.Native{}},
					{ID: "imp-3", Audio: &openrtb.Audio{}},
				},
				App: &openrtb.App{},
			},
			expectedErrors: []error{
				&errortypes.Warning{Message: "request.imp[0] uses video, but this bidder doesn't support it"},
				&errortypes.BadInput{Message: "request.imp[0] has no supported MediaTypes. It will be ignored"},
				&errortypes.Warning{Message: "request.imp[1] uses native, but this bidder doesn't support it"},
				&errortypes.BadInput{Message: "request.imp[1] has no supported MediaTypes. It will be ignored"},
				&errortypes.Warning{Message: "request.imp[2] uses audio, but this bidder doesn't support it"},
				&errortypes.BadInput{Message: "request.imp[2] has no supported MediaTypes. It will be ignored"},
				&errortypes.BadInput{Message: "Bid request didn't contain media types supported by the bidder"},
			},
			expectedImpLen: 0,
		},
		{
			description: "Some imps with correct media type, MakeRequest() call expected",
			inBidRequest: &openrtb.BidRequest{
				Imp: []openrtb.Imp{
					{ID: "imp-1", Video: &openrtb.Video{}},
					{ID: "imp-2", Native: &openrtb.Native{}},
					{ID: "imp-3", Video: &openrtb.Video{}, Native: &openrtb.Native{}},
				},
				Site: &openrtb.Site{},
			},
			expectedErrors: []error{
				&errortypes.Warning{Message: "request.imp[1] uses native, but this bidder doesn't support it"},
				&errortypes.BadInput{Message: "request.imp[1] has no supported MediaTypes. It will be ignored"},
				&errortypes.Warning{Message: "request.imp[2] uses native, but this bidder doesn't support it"},
			},
			expectedImpLen: 2,
		},
		{
			description: "All imps with correct media type, MakeRequest() call expected",
			inBidRequest: &openrtb.BidRequest{
				Imp: []openrtb.Imp{
					{ID: "imp-1", Video: &openrtb.Video{}},
					{ID: "imp-2", Video: &openrtb.Video{}},
				},
				Site: &openrtb.Site{},
			},
			expectedErrors: nil,
			expectedImpLen: 2,
		},
	}

	for _, test := range testCases {
		bidder := &mockBidder{}
		constrained := BuildInfoAwareBidder(bidder, info)
		actualAdapterRequests, actualErrs := constrained.MakeRequests(test.inBidRequest)

		if assert.Len(t, actualErrs, len(test.expectedErrors), test.description) {
			for i, expectedErr := range test.expectedErrors {
				assert.EqualError(t, actualErrs[i], expectedErr.Error(), test.description)
				assert.IsType(t, expectedErr, actualErrs[i], test.description)
			}
		}

		// Our mockBidder returns an adapter request for every imp
		assert.Len(t, actualAdapterRequests, test.expectedImpLen, "Incorrect length of filtered imps: %s", test.description)
	}
}

func TestPruningLeavesOriginalRequestAlone(t *testing.T) {
	bidder := &mockBidder{}
	info := BidderInfo{
		Capabilities: &CapabilitiesInfo{
			Site: &PlatformInfo{MediaTypes: []openrtb_ext.BidType{openrtb_ext.BidTypeBanner}},
		},
	}
	request := &openrtb.BidRequest{
		Imp:  []openrtb.Imp{{ID: "imp-1", Banner: &openrtb.Banner{}, Video: &openrtb.Video{}}},
		Site: &openrtb.Site{},
	}

	BuildInfoAwareBidder(bidder, info).MakeRequests(request)

	assert.NotNil(t, request.Imp[0].Video, "the caller's imp must not be modified")
	if assert.NotNil(t, bidder.gotRequest) {
		assert.Nil(t, bidder.gotRequest.Imp[0].Video)
		assert.NotNil(t, bidder.gotRequest.Imp[0].Banner)
	}
}

type mockBidder struct {
	gotRequest *openrtb.BidRequest
}

func (m *mockBidder) MakeRequests(request *openrtb.BidRequest) ([]*RequestData, []error) {
	m.gotRequest = request
	var adapterRequests []*RequestData

	for i := 0; i < len(request.Imp); i++ {
		adapterRequests = append(adapterRequests, &RequestData{})
	}

	return adapterRequests, nil
}

func (m *mockBidder) MakeBids(internalRequest *openrtb.BidRequest, externalRequest *RequestData, response *ResponseData) (*BidderResponse, []error) {
	return nil, []error{errors.New("mock MakeBids error")}
}
