package exchange

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prebid/prebid-exchange/adapters"
	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/openrtb_ext"
	"github.com/stretchr/testify/assert"
)

func TestNewAdapterMap(t *testing.T) {
	cfg := &config.Configuration{Adapters: blankAdapterConfig(openrtb_ext.BidderList())}
	adapterMap := newAdapterMap(nil, cfg, adapters.BidderInfos{})
	for _, bidderName := range openrtb_ext.BidderList() {
		if bidder, ok := adapterMap[bidderName]; !ok || bidder == nil {
			t.Errorf("adapterMap missing expected Bidder: %s", string(bidderName))
		}
	}
}

func TestNewAdapterMapDisabledBidders(t *testing.T) {
	cfg := &config.Configuration{Adapters: blankAdapterConfig(openrtb_ext.BidderList())}
	cfg.Adapters["audiencenetwork"] = config.Adapter{Endpoint: "http://audience.network.com", Disabled: true}

	adapterMap := newAdapterMap(http.DefaultClient, cfg, adapters.BidderInfos{})
	assert.Contains(t, adapterMap, openrtb_ext.BidderAppnexus)
	assert.NotContains(t, adapterMap, openrtb_ext.BidderAudienceNetwork)

	disabled := DisabledBidders(cfg)
	assert.Equal(t, map[openrtb_ext.BidderName]bool{openrtb_ext.BidderAudienceNetwork: true}, disabled)
}

func TestBidderInfoFiles(t *testing.T) {
	infos, err := adapters.LoadBidderInfo("../static/bidder-info", openrtb_ext.BidderList())
	if assert.NoError(t, err) {
		assert.Len(t, infos, len(openrtb_ext.BidderList()))
	}
}

func blankAdapterConfig(bidderList []openrtb_ext.BidderName) map[string]config.Adapter {
	adapters := make(map[string]config.Adapter)
	for _, b := range bidderList {
		adapters[strings.ToLower(string(b))] = config.Adapter{Endpoint: "http://" + string(b) + ".com"}
	}
	return adapters
}
