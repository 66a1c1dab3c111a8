package openrtb_ext

import (
	"encoding/json"
	"strings"
)

// ExtRequest defines the contract for bidrequest.ext
type ExtRequest struct {
	Prebid ExtRequestPrebid `json:"prebid"`
}

// ExtRequestPrebid defines the contract for bidrequest.ext.prebid
type ExtRequestPrebid struct {
	Aliases   map[string]string      `json:"aliases,omitempty"`
	Cache     *ExtRequestPrebidCache `json:"cache,omitempty"`
	Targeting *ExtRequestTargeting   `json:"targeting,omitempty"`
}

// ExtRequestPrebidCache defines the contract for bidrequest.ext.prebid.cache
//
// Caching is requested when either field is present.
type ExtRequestPrebidCache struct {
	Bids    *ExtRequestPrebidCacheBids `json:"bids,omitempty"`
	VastXML *ExtRequestPrebidCacheVAST `json:"vastxml,omitempty"`
}

// ExtRequestPrebidCacheBids defines the contract for bidrequest.ext.prebid.cache.bids
type ExtRequestPrebidCacheBids struct {
	TTLSeconds int64 `json:"ttlseconds,omitempty"`
}

// ExtRequestPrebidCacheVAST defines the contract for bidrequest.ext.prebid.cache.vastxml
type ExtRequestPrebidCacheVAST struct {
	TTLSeconds int64 `json:"ttlseconds,omitempty"`
}

// ExtRequestTargeting defines the contract for bidrequest.ext.prebid.targeting
type ExtRequestTargeting struct {
	PriceGranularity PriceGranularity `json:"pricegranularity"`
	MaxLength        int              `json:"lengthmax"`
}

// ExtRequestTargeting without Unmashall override to prevent infinite loops
type extRequestTargetingPlain struct {
	PriceGranularity *PriceGranularity `json:"pricegranularity"`
	MaxLength        int               `json:"lengthmax"`
}

// UnmarshalJSON sets the medium granularity when none was sent.
func (ert *ExtRequestTargeting) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	ertRaw := &extRequestTargetingPlain{}
	if err := json.Unmarshal(b, ertRaw); err != nil {
		return err
	}
	ert.MaxLength = ertRaw.MaxLength
	if ertRaw.PriceGranularity != nil {
		ert.PriceGranularity = *ertRaw.PriceGranularity
	} else {
		ert.PriceGranularity = PriceGranularityFromString(PriceGranularityMedium)
	}
	return nil
}

const (
	PriceGranularityLow    = "low"
	PriceGranularityMedium = "medium"
	// Older clients send "med".
	PriceGranularityMedPBS = "med"
	PriceGranularityHigh   = "high"
	PriceGranularityAuto   = "auto"
	PriceGranularityDense  = "dense"
	PriceGranularityCustom = "custom"
)

// PriceGranularity defines the allowed values for bidrequest.ext.prebid.targeting.pricegranularity.
//
// On the wire this is either one of the named values above or an object with explicit ranges.
// A name with no known table decodes to a value with no Ranges, which buckets every price to "".
type PriceGranularity struct {
	Name      string             `json:"-"`
	Precision int                `json:"precision,omitempty"`
	Ranges    []GranularityRange `json:"ranges,omitempty"`
}

// GranularityRange struct defines a range of prices used by PriceGranularity.
// Min is filled from the previous range's Max.
type GranularityRange struct {
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Increment float64 `json:"increment"`
}

type priceGranularityPlain struct {
	Precision int                `json:"precision,omitempty"`
	Ranges    []GranularityRange `json:"ranges"`
}

func (pg *PriceGranularity) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*pg = PriceGranularityFromString(name)
		return nil
	}

	var plain priceGranularityPlain
	if err := json.Unmarshal(b, &plain); err != nil {
		return err
	}
	pg.Name = PriceGranularityCustom
	pg.Precision = plain.Precision
	pg.Ranges = plain.Ranges
	var prevMax float64
	for i := range pg.Ranges {
		pg.Ranges[i].Min = prevMax
		prevMax = pg.Ranges[i].Max
	}
	return nil
}

func (pg PriceGranularity) MarshalJSON() ([]byte, error) {
	if pg.Name != "" && pg.Name != PriceGranularityCustom {
		return json.Marshal(pg.Name)
	}
	return json.Marshal(priceGranularityPlain{Precision: pg.Precision, Ranges: pg.Ranges})
}

// IsValid reports whether the granularity has a usable range table.
func (pg PriceGranularity) IsValid() bool {
	return len(pg.Ranges) > 0
}

// PriceGranularityFromString resolves one of the named granularities.
// Unknown names keep the name and carry no ranges.
func PriceGranularityFromString(name string) PriceGranularity {
	switch strings.ToLower(name) {
	case PriceGranularityLow:
		return PriceGranularity{Name: name, Precision: 2, Ranges: []GranularityRange{
			{Min: 0, Max: 5, Increment: 0.5},
		}}
	case PriceGranularityMedium, PriceGranularityMedPBS:
		return PriceGranularity{Name: name, Precision: 2, Ranges: []GranularityRange{
			{Min: 0, Max: 20, Increment: 0.1},
		}}
	case PriceGranularityHigh:
		return PriceGranularity{Name: name, Precision: 2, Ranges: []GranularityRange{
			{Min: 0, Max: 20, Increment: 0.01},
		}}
	case PriceGranularityAuto:
		return PriceGranularity{Name: name, Precision: 2, Ranges: []GranularityRange{
			{Min: 0, Max: 5, Increment: 0.05},
			{Min: 5, Max: 10, Increment: 0.1},
			{Min: 10, Max: 20, Increment: 0.5},
		}}
	case PriceGranularityDense:
		return PriceGranularity{Name: name, Precision: 2, Ranges: []GranularityRange{
			{Min: 0, Max: 3, Increment: 0.01},
			{Min: 3, Max: 8, Increment: 0.05},
			{Min: 8, Max: 20, Increment: 0.5},
		}}
	}
	return PriceGranularity{Name: name}
}
