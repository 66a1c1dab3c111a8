package openrtb_ext

import (
	"encoding/json"
	"fmt"
)

// ExtBid defines the contract for bidresponse.seatbid.bid[i].ext
type ExtBid struct {
	Prebid *ExtBidPrebid   `json:"prebid,omitempty"`
	Bidder json.RawMessage `json:"bidder,omitempty"`
}

// ExtBidPrebid defines the contract for bidresponse.seatbid.bid[i].ext.prebid
type ExtBidPrebid struct {
	Cache     *ExtBidPrebidCache `json:"cache,omitempty"`
	Targeting map[string]string  `json:"targeting,omitempty"`
	Type      BidType            `json:"type"`
	BidID     string             `json:"bidid,omitempty"`
}

// ExtBidPrebidCache defines the contract for  bidresponse.seatbid.bid[i].ext.prebid.cache
type ExtBidPrebidCache struct {
	Key string `json:"key"`
	Url string `json:"url"`
}

// BidType describes the allowed values for bidresponse.seatbid.bid[i].ext.prebid.type
type BidType string

const (
	BidTypeBanner BidType = "banner"
	BidTypeVideo  BidType = "video"
	BidTypeAudio  BidType = "audio"
	BidTypeNative BidType = "native"
)

func BidTypes() []BidType {
	return []BidType{
		BidTypeBanner,
		BidTypeVideo,
		BidTypeAudio,
		BidTypeNative,
	}
}

func ParseBidType(bidType string) (BidType, error) {
	switch bidType {
	case "banner":
		return BidTypeBanner, nil
	case "video":
		return BidTypeVideo, nil
	case "audio":
		return BidTypeAudio, nil
	case "native":
		return BidTypeNative, nil
	default:
		return "", fmt.Errorf("invalid BidType: %s", bidType)
	}
}

// TargetingKeys are used throughout Prebid as keys which can be used in an ad server like DFP.
// Clients set the values we assign on the request to the ad server, where they can be substituted like macros into
// Creatives.
//
// Removing one of these, or changing the semantics of what we store there, will probably break the
// line item setups for many publishers.
type TargetingKey string

const (
	HbpbConstantKey TargetingKey = "hb_pb"

	// HbBidderConstantKey is the name of the Bidder. For example, "appnexus" or "audienceNetwork".
	HbBidderConstantKey TargetingKey = "hb_bidder"
	HbSizeConstantKey   TargetingKey = "hb_size"
	HbDealIdConstantKey TargetingKey = "hb_deal"

	// HbCacheKey stores the UUID which can be used to fetch the bid from prebid cache.
	// Callers should *never* assume that it exists, since the call to the cache may always fail.
	HbCacheKey TargetingKey = "hb_cache_id"

	// HbCreativeLoadMethodConstantKey is only set on the winning bid of each imp.
	HbCreativeLoadMethodConstantKey TargetingKey = "hb_creative_loadtype"

	// These are not keys, but values used by HbCreativeLoadMethodConstantKey
	HbCreativeLoadMethodHTML      string = "html"
	HbCreativeLoadMethodDemandSDK string = "demand_sdk"
)

// BidderKey returns the key suffixed with "_<bidder>".
// When maxLength is positive only the bidder part is cut to fit. The "<key>_" prefix is always kept whole,
// so a maxLength shorter than the prefix leaves an empty suffix.
func (key TargetingKey) BidderKey(bidder BidderName, maxLength int) string {
	prefix := string(key) + "_"
	suffix := string(bidder)
	if maxLength > 0 {
		room := maxLength - len(prefix)
		if room < 0 {
			room = 0
		}
		if len(suffix) > room {
			suffix = suffix[:room]
		}
	}
	return prefix + suffix
}
