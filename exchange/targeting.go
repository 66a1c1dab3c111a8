package exchange

import (
	"strconv"

	"github.com/mxmCherry/openrtb"

	"github.com/prebid/prebid-exchange/openrtb_ext"
)

const defaultMaxKeyLength = 20

// targetData tracks information about the winning Bid in each Imp.
//
// All functions on this struct are nil-safe. If the targetData struct is nil, then they behave
// like they would if no targeting information is needed.
type targetData struct {
	priceGranularity openrtb_ext.PriceGranularity
	lengthMax        int
	// coreBidders maps alias names onto the bidder which serves them.
	coreBidders map[openrtb_ext.BidderName]openrtb_ext.BidderName
}

// setTargeting writes the targeting keys onto the top bid of each bidder on each imp.
// It must be called after the auction has been ranked and cached.
//
// Every top bid gets the bidder suffixed keys. The overall winner of each imp also gets the
// unsuffixed copies and hb_creative_loadtype.
func (targData *targetData) setTargeting(auc *auction) {
	if targData == nil || auc == nil {
		return
	}
	for impID, topBidsPerImp := range auc.winningBidsByBidder {
		overallWinner := auc.winningBids[impID]
		for bidderName, topBidPerBidder := range topBidsPerImp {
			isOverallWinner := overallWinner == topBidPerBidder
			bid := topBidPerBidder.bid

			targets := make(map[string]string, 10)
			targData.addKeys(targets, openrtb_ext.HbpbConstantKey, GetPriceBucket(bid.Price, targData.priceGranularity), bidderName, isOverallWinner)
			targData.addKeys(targets, openrtb_ext.HbBidderConstantKey, string(bidderName), bidderName, isOverallWinner)
			if hbSize := makeHbSize(bid); hbSize != "" {
				targData.addKeys(targets, openrtb_ext.HbSizeConstantKey, hbSize, bidderName, isOverallWinner)
			}
			if cacheID, ok := auc.cacheID(bid); ok {
				targData.addKeys(targets, openrtb_ext.HbCacheKey, cacheID, bidderName, isOverallWinner)
			}
			if deal := bid.DealID; len(deal) > 0 {
				targData.addKeys(targets, openrtb_ext.HbDealIdConstantKey, deal, bidderName, isOverallWinner)
			}
			if isOverallWinner {
				targets[string(openrtb_ext.HbCreativeLoadMethodConstantKey)] = creativeLoadMethod(targData.coreBidder(bidderName))
			}

			topBidPerBidder.bidTargets = targets
		}
	}
}

func (targData *targetData) addKeys(keys map[string]string, key openrtb_ext.TargetingKey, value string, bidderName openrtb_ext.BidderName, overallWinner bool) {
	keys[key.BidderKey(bidderName, targData.lengthMax)] = value
	if overallWinner {
		keys[string(key)] = value
	}
}

func (targData *targetData) coreBidder(bidderName openrtb_ext.BidderName) openrtb_ext.BidderName {
	if coreBidder, ok := targData.coreBidders[bidderName]; ok {
		return coreBidder
	}
	return bidderName
}

func makeHbSize(bid *openrtb.Bid) string {
	if bid.W != 0 && bid.H != 0 {
		return strconv.FormatUint(bid.W, 10) + "x" + strconv.FormatUint(bid.H, 10)
	}
	return ""
}

// creativeLoadMethod tells the page how to render the winner.
// Audience Network creatives must be rendered by its own SDK.
func creativeLoadMethod(bidderName openrtb_ext.BidderName) string {
	if bidderName == openrtb_ext.BidderAudienceNetwork {
		return openrtb_ext.HbCreativeLoadMethodDemandSDK
	}
	return openrtb_ext.HbCreativeLoadMethodHTML
}
