package exchange

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
	"github.com/mxmCherry/openrtb"

	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/openrtb_ext"
	"github.com/prebid/prebid-exchange/prebid_cache_client"
)

// auction ranks the bids which survived validation.
type auction struct {
	// winningBids is a map from imp.id to the highest overall bid for that imp.
	winningBids map[string]*pbsOrtbBid
	// winningBidders is a map from imp.id to the bidder which made the highest overall bid for that imp.
	winningBidders map[string]openrtb_ext.BidderName
	// winningBidsByBidder stores the highest bid on each imp by each bidder.
	winningBidsByBidder map[string]map[openrtb_ext.BidderName]*pbsOrtbBid
	// cacheIds stores the UUIDs from Prebid Cache for each bid, when its JSON was cached.
	cacheIds map[*openrtb.Bid]string
	// vastCacheIds stores the UUIDs from Prebid Cache for each video bid, when its VAST was cached.
	vastCacheIds map[*openrtb.Bid]string
}

// newAuction ranks the bids. Bidders are visited in request order.
//
// Within one bidder the first of two equal bids on an imp is kept. Across bidders the higher price
// wins, a tie goes to the bidder which answered first, and a full tie goes to the bidder named first.
func newAuction(seatBids map[openrtb_ext.BidderName]*pbsOrtbSeatBid, bidderOrder []openrtb_ext.BidderName, responseTimes map[openrtb_ext.BidderName]int) *auction {
	winningBids := make(map[string]*pbsOrtbBid)
	winningBidders := make(map[string]openrtb_ext.BidderName)
	winningBidsByBidder := make(map[string]map[openrtb_ext.BidderName]*pbsOrtbBid)

	for _, bidderName := range bidderOrder {
		seatBid, ok := seatBids[bidderName]
		if !ok || seatBid == nil {
			continue
		}
		for _, bid := range seatBid.bids {
			impID := bid.bid.ImpID

			bidMap, ok := winningBidsByBidder[impID]
			if !ok {
				bidMap = make(map[openrtb_ext.BidderName]*pbsOrtbBid)
				winningBidsByBidder[impID] = bidMap
			}
			if bestOfBidder, ok := bidMap[bidderName]; !ok || bid.bid.Price > bestOfBidder.bid.Price {
				bidMap[bidderName] = bid
			}

			if current, ok := winningBids[impID]; !ok || isNewWinningBid(bid, current, responseTimes[bidderName], responseTimes[winningBidders[impID]]) {
				winningBids[impID] = bid
				winningBidders[impID] = bidderName
			}
		}
	}

	return &auction{
		winningBids:         winningBids,
		winningBidders:      winningBidders,
		winningBidsByBidder: winningBidsByBidder,
	}
}

func isNewWinningBid(bid, current *pbsOrtbBid, bidResponseTime, currentResponseTime int) bool {
	if bid.bid.Price != current.bid.Price {
		return bid.bid.Price > current.bid.Price
	}
	return bidResponseTime < currentResponseTime
}

// cacheSettings describes what the request asked to have cached.
type cacheSettings struct {
	bids        bool
	vast        bool
	bidsTTL     int64
	vastTTL     int64
	bidderOrder []openrtb_ext.BidderName
	impOrder    []string
}

// doCache stores the top bid of each bidder on each imp in Prebid Cache.
//
// Any failure fails the whole auction, since the targeting keys would point at missing creatives.
func (a *auction) doCache(ctx context.Context, cache prebid_cache_client.Client, settings cacheSettings) error {
	if !settings.bids && !settings.vast {
		return nil
	}

	type cachedItem struct {
		bid  *openrtb.Bid
		vast bool
	}
	toCache := make([]prebid_cache_client.Cacheable, 0, len(a.winningBidsByBidder))
	items := make([]cachedItem, 0, len(a.winningBidsByBidder))

	for _, impID := range settings.impOrder {
		topBidsPerBidder, ok := a.winningBidsByBidder[impID]
		if !ok {
			continue
		}
		for _, bidderName := range settings.bidderOrder {
			topBid, ok := topBidsPerBidder[bidderName]
			if !ok {
				continue
			}
			if settings.bids {
				jsonBytes, err := json.Marshal(topBid.bid)
				if err != nil {
					glog.Errorf("Error marshalling bid %s for Prebid Cache: %v", topBid.bid.ID, err)
					continue
				}
				toCache = append(toCache, prebid_cache_client.Cacheable{
					Type:       prebid_cache_client.TypeJSON,
					Data:       jsonBytes,
					TTLSeconds: settings.bidsTTL,
				})
				items = append(items, cachedItem{bid: topBid.bid})
			}
			if settings.vast && topBid.bidType == openrtb_ext.BidTypeVideo && topBid.bid.AdM != "" {
				vastXML, err := json.Marshal(topBid.bid.AdM)
				if err != nil {
					continue
				}
				toCache = append(toCache, prebid_cache_client.Cacheable{
					Type:       prebid_cache_client.TypeXML,
					Data:       vastXML,
					TTLSeconds: settings.vastTTL,
				})
				items = append(items, cachedItem{bid: topBid.bid, vast: true})
			}
		}
	}

	if len(toCache) == 0 {
		return nil
	}

	ids, err := cache.PutJson(ctx, toCache)
	if err != nil {
		if _, isTimeout := err.(*errortypes.Timeout); isTimeout {
			return &errortypes.FatalDependencyFailure{Message: fmt.Sprintf("Prebid Cache timed out: %v", err)}
		}
		return &errortypes.FatalDependencyFailure{Message: fmt.Sprintf("Prebid Cache failed: %v", err)}
	}

	a.cacheIds = make(map[*openrtb.Bid]string, len(ids))
	a.vastCacheIds = make(map[*openrtb.Bid]string)
	for i, item := range items {
		if item.vast {
			a.vastCacheIds[item.bid] = ids[i]
		} else {
			a.cacheIds[item.bid] = ids[i]
		}
	}
	return nil
}

// cacheID returns the UUID which the targeting keys should point at for this bid.
func (a *auction) cacheID(bid *openrtb.Bid) (string, bool) {
	if id, ok := a.cacheIds[bid]; ok {
		return id, true
	}
	id, ok := a.vastCacheIds[bid]
	return id, ok
}
