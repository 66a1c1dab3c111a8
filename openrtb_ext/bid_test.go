package openrtb_ext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBidderKey(t *testing.T) {
	apnKey := HbpbConstantKey.BidderKey(BidderAppnexus, 50)
	if apnKey != "hb_pb_appnexus" {
		t.Errorf("Bad resolved targeting key. Expected hb_pb_appnexus, got %s", apnKey)
	}
}

func TestTruncatedKey(t *testing.T) {
	apnKey := HbpbConstantKey.BidderKey(BidderAppnexus, 8)
	if apnKey != "hb_pb_ap" {
		t.Errorf("Bad truncated targeting key. Expected hb_pb_ap, got %s", apnKey)
	}
}

func TestBidderKeyTruncation(t *testing.T) {
	testCases := []struct {
		description string
		key         TargetingKey
		bidder      BidderName
		maxLength   int
		expected    string
	}{
		{
			description: "Zero max length does not truncate",
			key:         HbCacheKey,
			bidder:      BidderAudienceNetwork,
			maxLength:   0,
			expected:    "hb_cache_id_audienceNetwork",
		},
		{
			description: "Key is cut exactly to max length",
			key:         HbBidderConstantKey,
			bidder:      BidderAudienceNetwork,
			maxLength:   20,
			expected:    "hb_bidder_audienceNe",
		},
		{
			description: "Max length equal to the prefix leaves an empty suffix",
			key:         HbSizeConstantKey,
			bidder:      BidderAppnexus,
			maxLength:   8,
			expected:    "hb_size_",
		},
		{
			description: "Max length below the prefix never cuts the prefix",
			key:         HbDealIdConstantKey,
			bidder:      BidderAppnexus,
			maxLength:   3,
			expected:    "hb_deal_",
		},
	}

	for _, test := range testCases {
		assert.Equal(t, test.expected, test.key.BidderKey(test.bidder, test.maxLength), test.description)
	}
}

func TestBidParsing(t *testing.T) {
	assertBidParse(t, "banner", BidTypeBanner)
	assertBidParse(t, "video", BidTypeVideo)
	assertBidParse(t, "audio", BidTypeAudio)
	assertBidParse(t, "native", BidTypeNative)
	parsed, err := ParseBidType("unknown")
	if err == nil {
		t.Errorf("ParseBidType did not return the expected error.")
	}
	if parsed != "" {
		t.Errorf("ParseBidType should return an empty string on error. Instead got %s", parsed)
	}
}

func assertBidParse(t *testing.T, s string, bidType BidType) {
	t.Helper()

	parsed, err := ParseBidType(s)
	if err != nil {
		t.Errorf("Bid parsing failed with error: %v", err)
	}
	if parsed != bidType {
		t.Errorf("Bid types did not match. Expected %s, got %s", bidType, parsed)
	}
}
