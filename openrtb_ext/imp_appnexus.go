package openrtb_ext

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// ExtImpAppnexus defines the contract for bidrequest.imp[i].ext.prebid.bidder.appnexus
//
// The snake_case fields are older spellings. They are read only when the camelCase field is empty.
type ExtImpAppnexus struct {
	PlacementId             int                    `json:"placementId"`
	LegacyPlacementId       int                    `json:"placement_id"`
	InvCode                 string                 `json:"invCode"`
	LegacyInvCode           string                 `json:"inv_code"`
	Member                  string                 `json:"member"`
	Keywords                ExtImpAppnexusKeywords `json:"keywords"`
	TrafficSourceCode       string                 `json:"trafficSourceCode"`
	LegacyTrafficSourceCode string                 `json:"traffic_source_code"`
	Reserve                 float64                `json:"reserve"`
	Position                string                 `json:"position"`
	UsePmtRule              *bool                  `json:"use_pmt_rule"`
	PrivateSizes            json.RawMessage        `json:"private_sizes"`
	GenerateAdPodId         bool                   `json:"generate_ad_pod_id"`
}

// ExtImpAppnexusKeyVal defines the contract for bidrequest.imp[i].ext.prebid.bidder.appnexus.keywords[i]
type ExtImpAppnexusKeyVal struct {
	Key    string   `json:"key,omitempty"`
	Values []string `json:"value,omitempty"`
}

// ExtImpAppnexusKeywords accepts every keyword shape publishers send and flattens it to "k=v,k=v2,k".
//
// Supported inputs are a list of {key, value}, an object of key -> []value, or an already flattened string.
type ExtImpAppnexusKeywords string

func (ks *ExtImpAppnexusKeywords) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*ks = ExtImpAppnexusKeywords(s)
	case '[':
		var list []ExtImpAppnexusKeyVal
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*ks = ExtImpAppnexusKeywords(flattenKeyVals(list))
	default:
		var byKey map[string][]string
		if err := json.Unmarshal(b, &byKey); err != nil {
			return err
		}
		keys := make([]string, 0, len(byKey))
		for k := range byKey {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		list := make([]ExtImpAppnexusKeyVal, 0, len(keys))
		for _, k := range keys {
			list = append(list, ExtImpAppnexusKeyVal{Key: k, Values: byKey[k]})
		}
		*ks = ExtImpAppnexusKeywords(flattenKeyVals(list))
	}
	return nil
}

func (ks ExtImpAppnexusKeywords) String() string {
	return string(ks)
}

func flattenKeyVals(list []ExtImpAppnexusKeyVal) string {
	parts := make([]string, 0, len(list))
	for _, kv := range list {
		if kv.Key == "" {
			continue
		}
		if len(kv.Values) == 0 {
			parts = append(parts, kv.Key)
			continue
		}
		for _, val := range kv.Values {
			parts = append(parts, kv.Key+"="+val)
		}
	}
	return strings.Join(parts, ",")
}

// ExtImpAudienceNetwork defines the contract for bidrequest.imp[i].ext.prebid.bidder.audienceNetwork
type ExtImpAudienceNetwork struct {
	PlacementId string `json:"placementId"`
	PublisherId string `json:"publisherId"`
}
