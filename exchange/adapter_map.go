package exchange

import (
	"net/http"

	"github.com/prebid/prebid-exchange/adapters"
	"github.com/prebid/prebid-exchange/adapters/appnexus"
	"github.com/prebid/prebid-exchange/adapters/audienceNetwork"
	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/openrtb_ext"
)

// The newAdapterMap function is segregated to its own file to make it a simple and clean location for each Adapter
// to register itself. No wading through Exchange code to find it.

func newAdapterMap(client *http.Client, cfg *config.Configuration, infos adapters.BidderInfos) map[openrtb_ext.BidderName]adaptedBidder {
	appnexusCfg := cfg.AdapterFor(openrtb_ext.BidderAppnexus)
	audienceNetworkCfg := cfg.AdapterFor(openrtb_ext.BidderAudienceNetwork)

	ortbBidders := map[openrtb_ext.BidderName]adapters.Bidder{
		openrtb_ext.BidderAppnexus:        appnexus.NewAppNexusBidder(appnexusCfg.Endpoint, appnexusCfg.PlatformID),
		openrtb_ext.BidderAudienceNetwork: audienceNetwork.NewAudienceNetworkBidder(audienceNetworkCfg.Endpoint, audienceNetworkCfg.PlatformID, audienceNetworkCfg.AppSecret),
	}

	allBidders := make(map[openrtb_ext.BidderName]adaptedBidder, len(ortbBidders))
	for name, bidder := range ortbBidders {
		// Clean out any disabled bidders
		if cfg.AdapterFor(name).Disabled {
			continue
		}
		// Apply any middleware used for global Bidder logic.
		allBidders[name] = ensureValidBids(adaptBidder(adapters.BuildInfoAwareBidder(bidder, infos[string(name)]), client))
	}

	return allBidders
}

// DisabledBidders lists the core bidders which the host switched off, so that requests for them
// can be answered with an explicit reason instead of silence.
func DisabledBidders(cfg *config.Configuration) map[openrtb_ext.BidderName]bool {
	disabled := make(map[openrtb_ext.BidderName]bool)
	for _, name := range openrtb_ext.BidderList() {
		if cfg.AdapterFor(name).Disabled {
			disabled[name] = true
		}
	}
	return disabled
}
