package info

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"

	"github.com/prebid/prebid-exchange/adapters"
	"github.com/prebid/prebid-exchange/openrtb_ext"
)

func TestPrepareBiddersDetailResponse(t *testing.T) {
	infos := adapters.BidderInfos{
		"appnexus": adapters.BidderInfo{
			Maintainer: &adapters.MaintainerInfo{Email: "bidderA"},
			Capabilities: &adapters.CapabilitiesInfo{
				Site: &adapters.PlatformInfo{MediaTypes: []openrtb_ext.BidType{openrtb_ext.BidTypeBanner}},
			},
		},
		"audienceNetwork": adapters.BidderInfo{
			Maintainer: &adapters.MaintainerInfo{Email: "bidderB"},
		},
	}
	disabled := map[openrtb_ext.BidderName]bool{openrtb_ext.BidderAudienceNetwork: true}

	responses, err := prepareBiddersDetailResponse(infos, disabled)

	assert.NoError(t, err)
	assert.Len(t, responses, 2)
	assert.JSONEq(t, `{"status":"ACTIVE","maintainer":{"email":"bidderA"},"capabilities":{"app":null,"site":{"mediaTypes":["banner"]}}}`, string(responses["appnexus"]))
	assert.JSONEq(t, `{"status":"DISABLED","maintainer":{"email":"bidderB"},"capabilities":null}`, string(responses["audienceNetwork"]))
}

func TestBiddersDetailHandler(t *testing.T) {
	infos, err := adapters.LoadBidderInfo("../../static/bidder-info", openrtb_ext.BidderList())
	if err != nil {
		t.Fatalf("Failed to load the bidder info files: %v", err)
	}
	handler := NewBidderDetailsEndpoint(infos, nil)

	testCases := []struct {
		description    string
		bidder         string
		expectedStatus int
		expectedEmail  string
	}{
		{description: "core bidder", bidder: "appnexus", expectedStatus: http.StatusOK, expectedEmail: "info@prebid.org"},
		{description: "camel case bidder", bidder: "audienceNetwork", expectedStatus: http.StatusOK, expectedEmail: "info@prebid.org"},
		{description: "unknown bidder", bidder: "someone", expectedStatus: http.StatusNotFound},
	}

	for _, test := range testCases {
		responseRecorder := httptest.NewRecorder()
		handler(responseRecorder, httptest.NewRequest("GET", "/info/bidders/"+test.bidder, nil), httprouter.Params{{Key: "bidderName", Value: test.bidder}})

		assert.Equal(t, test.expectedStatus, responseRecorder.Code, test.description)
		if test.expectedStatus == http.StatusOK {
			assert.Equal(t, "application/json", responseRecorder.Header().Get("Content-Type"), test.description)
			assert.Contains(t, responseRecorder.Body.String(), `"status":"ACTIVE"`, test.description)
			assert.Contains(t, responseRecorder.Body.String(), test.expectedEmail, test.description)
		}
	}
}
