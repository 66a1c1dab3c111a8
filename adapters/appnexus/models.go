package appnexus

import (
	"encoding/json"
)

type impExtAppnexus struct {
	PlacementID       int             `json:"placement_id,omitempty"`
	Keywords          string          `json:"keywords,omitempty"`
	TrafficSourceCode string          `json:"traffic_source_code,omitempty"`
	UsePmtRule        *bool           `json:"use_pmt_rule,omitempty"`
	PrivateSizes      json.RawMessage `json:"private_sizes,omitempty"`
	GenerateAdPodId   bool            `json:"generate_ad_pod_id,omitempty"`
}

type impExt struct {
	Appnexus impExtAppnexus `json:"appnexus"`
}

type bidExtVideo struct {
	Duration int `json:"duration"`
}

type bidExtCreative struct {
	Video bidExtVideo `json:"video"`
}

// BidType and BrandCategory are pointers so a missing field can be told apart from zero.
type bidExtAppnexus struct {
	BidType       *int           `json:"bid_ad_type"`
	BrandId       int            `json:"brand_id"`
	BrandCategory *int           `json:"brand_category_id"`
	CreativeInfo  bidExtCreative `json:"creative_info"`
	DealPriority  int            `json:"deal_priority"`
}

type bidExt struct {
	Appnexus *bidExtAppnexus `json:"appnexus"`
}

type reqExtAppnexus struct {
	HeaderBiddingSource int `json:"hb_source,omitempty"`
}

// Full request extension including appnexus extension object
type reqExt struct {
	Prebid   json.RawMessage `json:"prebid,omitempty"`
	Appnexus *reqExtAppnexus `json:"appnexus,omitempty"`
}
