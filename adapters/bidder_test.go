package adapters

import (
	"net/http"
	"testing"

	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/stretchr/testify/assert"
)

func TestCheckResponseStatusCodeForErrors(t *testing.T) {
	testCases := []struct {
		description string
		status      int
		expectedErr error
	}{
		{
			description: "OK",
			status:      http.StatusOK,
		},
		{
			description: "Bad request is a BadInput",
			status:      http.StatusBadRequest,
			expectedErr: &errortypes.BadInput{Message: "Unexpected status code: 400. Run with request.test = 1 for more info"},
		},
		{
			description: "Anything else is a BadServerResponse",
			status:      http.StatusInternalServerError,
			expectedErr: &errortypes.BadServerResponse{Message: "Unexpected status code: 500. Run with request.test = 1 for more info"},
		},
	}

	for _, test := range testCases {
		err := CheckResponseStatusCodeForErrors(&ResponseData{StatusCode: test.status})
		assert.Equal(t, test.expectedErr, err, test.description)
	}
}

func TestIsResponseStatusCodeNoContent(t *testing.T) {
	assert.True(t, IsResponseStatusCodeNoContent(&ResponseData{StatusCode: http.StatusNoContent}))
	assert.False(t, IsResponseStatusCodeNoContent(&ResponseData{StatusCode: http.StatusOK}))
}

func TestNewBidderResponse(t *testing.T) {
	resp := NewBidderResponseWithBidsCapacity(3)
	assert.Equal(t, "USD", resp.Currency)
	assert.Equal(t, 3, cap(resp.Bids))
	assert.Len(t, resp.Bids, 0)
}

func TestMisconfiguredBidder(t *testing.T) {
	bidder := &MisconfiguredBidder{Name: "someBidder", Error: &errortypes.BadInput{Message: "not configured"}}

	reqs, errs := bidder.MakeRequests(nil)
	assert.Nil(t, reqs)
	assert.EqualError(t, errs[0], "not configured")

	resp, errs := bidder.MakeBids(nil, nil, nil)
	assert.Nil(t, resp)
	assert.EqualError(t, errs[0], "not configured")
}
