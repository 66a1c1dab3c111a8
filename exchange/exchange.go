package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang/glog"
	"github.com/mxmCherry/openrtb"

	"github.com/prebid/prebid-exchange/adapters"
	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/openrtb_ext"
	"github.com/prebid/prebid-exchange/pbsmetrics"
	"github.com/prebid/prebid-exchange/prebid_cache_client"
)

// prebidErrorsKey is where response.ext.errors lists problems which belong to no bidder.
const prebidErrorsKey openrtb_ext.BidderName = "prebid"

// Exchange runs Auctions. Implementations must be threadsafe, and will be shared across many goroutines.
type Exchange interface {
	// HoldAuction executes an OpenRTB v2.5 Auction.
	//
	// Bidder failures never fail the auction. They show up in response.ext instead.
	// The returned error is non-nil only when the auction as a whole could not complete.
	HoldAuction(ctx context.Context, bidRequest *openrtb.BidRequest, account *config.Account, labels pbsmetrics.Labels) (*openrtb.BidResponse, error)
}

type exchange struct {
	adapterMap      map[openrtb_ext.BidderName]adaptedBidder
	disabledBidders map[openrtb_ext.BidderName]bool
	me              pbsmetrics.MetricsEngine
	cache           prebid_cache_client.Client
	cacheURL        *config.Cache
	cacheTime       time.Duration
	generateBidID   bool
}

// Container to pass out response ext data from the GetAllBids goroutines back into the main thread
type seatResponseExtra struct {
	ResponseTimeMillis int
	Errors             []error
	HttpCalls          []*openrtb_ext.ExtHttpCall
}

type bidResponseWrapper struct {
	adapterBids  *pbsOrtbSeatBid
	adapterExtra *seatResponseExtra
	bidder       openrtb_ext.BidderName
}

func NewExchange(client *http.Client, cache prebid_cache_client.Client, cfg *config.Configuration, metricsEngine pbsmetrics.MetricsEngine, infos adapters.BidderInfos) Exchange {
	e := new(exchange)

	e.adapterMap = newAdapterMap(client, cfg, infos)
	e.disabledBidders = DisabledBidders(cfg)
	e.cache = cache
	e.cacheURL = &cfg.CacheURL
	e.cacheTime = time.Duration(cfg.CacheURL.ExpectedTimeMillis) * time.Millisecond
	e.me = metricsEngine
	e.generateBidID = cfg.GenerateBidID
	return e
}

func (e *exchange) HoldAuction(ctx context.Context, bidRequest *openrtb.BidRequest, account *config.Account, labels pbsmetrics.Labels) (*openrtb.BidResponse, error) {
	requestExt, err := parseRequestExt(bidRequest.Ext)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &config.Account{}
	}

	split := cleanOpenRTBRequests(bidRequest, requestExt.Prebid.Aliases, e.adapterMap, e.disabledBidders)
	targData, targetingErrs := makeTargetData(bidRequest, requestExt, account, split.coreBidders)
	settings := makeCacheSettings(bidRequest, requestExt, account, split.order)

	auctionCtx, cancel := e.makeAuctionContext(ctx, settings.bids || settings.vast)
	defer cancel()

	adapterBids, adapterExtra := e.getAllBids(auctionCtx, split, labels)

	responseTimes := make(map[openrtb_ext.BidderName]int, len(adapterExtra))
	for bidderName, extra := range adapterExtra {
		responseTimes[bidderName] = extra.ResponseTimeMillis
	}
	auc := newAuction(adapterBids, split.order, responseTimes)

	if err := auc.doCache(ctx, e.cache, settings); err != nil {
		glog.Errorf("Auction %s failed: %v", bidRequest.ID, err)
		return nil, err
	}
	targData.setTargeting(auc)

	prebidErrs := append(split.errs, targetingErrs...)
	return e.buildBidResponse(bidRequest, split, adapterBids, adapterExtra, auc, prebidErrs)
}

// makeAuctionContext leaves the bidders whatever time the cache call will not need.
func (e *exchange) makeAuctionContext(ctx context.Context, needsCache bool) (auctionCtx context.Context, cancel func()) {
	auctionCtx = ctx
	cancel = func() {}
	if needsCache && e.cacheTime > 0 {
		if deadline, ok := ctx.Deadline(); ok {
			auctionCtx, cancel = context.WithDeadline(ctx, deadline.Add(-e.cacheTime))
		}
	}
	return
}

// makeTargetData picks the price granularity and key length for this auction.
// The request wins over the account, and the account has the host defaults merged in.
func makeTargetData(bidRequest *openrtb.BidRequest, requestExt *openrtb_ext.ExtRequest, account *config.Account, coreBidders map[openrtb_ext.BidderName]openrtb_ext.BidderName) (*targetData, []error) {
	targData := &targetData{
		priceGranularity: account.PriceGranularity,
		lengthMax:        account.TargetingMaxKeyLength,
		coreBidders:      coreBidders,
	}
	if targeting := requestExt.Prebid.Targeting; targeting != nil {
		if hasRequestGranularity(bidRequest.Ext) {
			targData.priceGranularity = targeting.PriceGranularity
		}
		if targeting.MaxLength > 0 {
			targData.lengthMax = targeting.MaxLength
		}
	}
	if targData.lengthMax <= 0 {
		targData.lengthMax = defaultMaxKeyLength
	}

	if !targData.priceGranularity.IsValid() {
		return targData, []error{&errortypes.Warning{
			WarningCode: errortypes.InvalidPriceGranularityWarningCode,
			Message:     fmt.Sprintf("Price bucket granularity error: '%s' is not a recognized granularity", targData.priceGranularity.Name),
		}}
	}
	return targData, nil
}

func makeCacheSettings(bidRequest *openrtb.BidRequest, requestExt *openrtb_ext.ExtRequest, account *config.Account, bidderOrder []openrtb_ext.BidderName) cacheSettings {
	settings := cacheSettings{
		bidderOrder: bidderOrder,
		impOrder:    make([]string, 0, len(bidRequest.Imp)),
	}
	for i := 0; i < len(bidRequest.Imp); i++ {
		settings.impOrder = append(settings.impOrder, bidRequest.Imp[i].ID)
	}

	cache := requestExt.Prebid.Cache
	if cache == nil {
		return settings
	}
	if cache.Bids != nil {
		settings.bids = true
		settings.bidsTTL = cache.Bids.TTLSeconds
		if settings.bidsTTL <= 0 {
			settings.bidsTTL = account.CacheTTLSeconds
		}
	}
	if cache.VastXML != nil {
		settings.vast = true
		settings.vastTTL = cache.VastXML.TTLSeconds
		if settings.vastTTL <= 0 {
			settings.vastTTL = account.CacheTTLSeconds
		}
	}
	return settings
}

// getAllBids runs every bidder concurrently and waits for all of them to finish.
// A bidder which fails, times out, or panics only affects its own seat.
func (e *exchange) getAllBids(ctx context.Context, split *bidderRequests, labels pbsmetrics.Labels) (map[openrtb_ext.BidderName]*pbsOrtbSeatBid, map[openrtb_ext.BidderName]*seatResponseExtra) {
	// Set up pointers to the bid results
	adapterBids := make(map[openrtb_ext.BidderName]*pbsOrtbSeatBid, len(split.requests))
	adapterExtra := make(map[openrtb_ext.BidderName]*seatResponseExtra, len(split.requests))
	chBids := make(chan *bidResponseWrapper, len(split.requests))

	for bidderName, req := range split.requests {
		// Here we actually call the adapters and collect the bids.
		go func(aName openrtb_ext.BidderName, coreBidder openrtb_ext.BidderName, request *openrtb.BidRequest) {
			start := time.Now()
			defer func() {
				if r := recover(); r != nil {
					glog.Errorf("OpenRTB auction recovered panic from Bidder %s: %v. Stack trace is: %v", coreBidder, r, string(debug.Stack()))
					chBids <- &bidResponseWrapper{
						bidder: aName,
						adapterExtra: &seatResponseExtra{
							ResponseTimeMillis: int(time.Since(start) / time.Millisecond),
							Errors:             []error{fmt.Errorf("The bidder failed unexpectedly")},
						},
					}
				}
			}()

			bids, errs := e.adapterMap[coreBidder].requestBid(ctx, request, aName)
			elapsed := time.Since(start)

			ae := &seatResponseExtra{
				ResponseTimeMillis: int(elapsed / time.Millisecond),
				Errors:             errs,
			}
			if bids != nil {
				ae.HttpCalls = bids.httpCalls
			}
			e.recordAdapterMetrics(labels, coreBidder, bids, errs, elapsed)

			chBids <- &bidResponseWrapper{
				adapterBids:  bids,
				adapterExtra: ae,
				bidder:       aName,
			}
		}(bidderName, split.coreBidders[bidderName], req)
	}

	// Wait for every bidder, whatever state it ends in.
	for i := 0; i < len(split.requests); i++ {
		brw := <-chBids
		if brw.adapterBids != nil {
			adapterBids[brw.bidder] = brw.adapterBids
		}
		adapterExtra[brw.bidder] = brw.adapterExtra
	}

	return adapterBids, adapterExtra
}

func (e *exchange) recordAdapterMetrics(labels pbsmetrics.Labels, coreBidder openrtb_ext.BidderName, bids *pbsOrtbSeatBid, errs []error, elapsed time.Duration) {
	adapterLabels := pbsmetrics.AdapterLabels{
		Source:        labels.Source,
		RType:         labels.RType,
		Adapter:       coreBidder,
		PubID:         labels.PubID,
		Browser:       labels.Browser,
		AdapterErrors: make(map[pbsmetrics.AdapterError]struct{}),
	}
	for _, err := range errs {
		if errortypes.IsWarning(err) {
			continue
		}
		adapterLabels.AdapterErrors[adapterError(err)] = struct{}{}
	}

	if bids == nil || len(bids.bids) == 0 {
		adapterLabels.AdapterBids = pbsmetrics.AdapterBidNone
	} else {
		adapterLabels.AdapterBids = pbsmetrics.AdapterBidPresent
		for _, bid := range bids.bids {
			e.me.RecordAdapterBidReceived(adapterLabels, bid.bidType, bid.bid.AdM != "")
			e.me.RecordAdapterPrice(adapterLabels, bid.bid.Price)
		}
	}
	e.me.RecordAdapterRequest(adapterLabels)
	e.me.RecordAdapterTime(adapterLabels, elapsed)
}

func adapterError(err error) pbsmetrics.AdapterError {
	switch errortypes.ReadCode(err) {
	case errortypes.TimeoutErrorCode:
		return pbsmetrics.AdapterErrorTimeout
	case errortypes.BadInputErrorCode:
		return pbsmetrics.AdapterErrorBadInput
	case errortypes.BadServerResponseErrorCode:
		return pbsmetrics.AdapterErrorBadServerResponse
	case errortypes.FailedToRequestBidsErrorCode:
		return pbsmetrics.AdapterErrorFailedToRequestBids
	default:
		return pbsmetrics.AdapterErrorUnknown
	}
}

// This piece takes all the bids supplied by the adapters and crafts an openRTB response to send back to the requester
func (e *exchange) buildBidResponse(bidRequest *openrtb.BidRequest, split *bidderRequests, adapterBids map[openrtb_ext.BidderName]*pbsOrtbSeatBid, adapterExtra map[openrtb_ext.BidderName]*seatResponseExtra, auc *auction, prebidErrs []error) (*openrtb.BidResponse, error) {
	bidResponse := new(openrtb.BidResponse)
	bidResponse.ID = bidRequest.ID

	seatBids := make([]openrtb.SeatBid, 0, len(adapterBids))
	for _, bidderName := range split.order {
		seatBid, ok := adapterBids[bidderName]
		if !ok || len(seatBid.bids) == 0 {
			continue
		}
		sb, errs := e.makeSeatBid(seatBid, bidderName, auc)
		if len(errs) > 0 {
			adapterExtra[bidderName].Errors = append(adapterExtra[bidderName].Errors, errs...)
		}
		if sb != nil {
			if bidResponse.Cur == "" {
				bidResponse.Cur = seatBid.currency
			}
			seatBids = append(seatBids, *sb)
		}
	}
	bidResponse.SeatBid = seatBids

	// An auction without a single bid says why, instead of looking like an empty success.
	if len(seatBids) == 0 {
		bidResponse.NBR = openrtb.NoBidReasonCodeInvalidRequest.Ptr()
	}

	bidResponseExt := e.makeExtBidResponse(bidRequest, split, adapterBids, adapterExtra, prebidErrs)
	ext, err := json.Marshal(bidResponseExt)
	if err != nil {
		return nil, err
	}
	bidResponse.Ext = ext
	return bidResponse, nil
}

func (e *exchange) makeExtBidResponse(bidRequest *openrtb.BidRequest, split *bidderRequests, adapterBids map[openrtb_ext.BidderName]*pbsOrtbSeatBid, adapterExtra map[openrtb_ext.BidderName]*seatResponseExtra, prebidErrs []error) *openrtb_ext.ExtBidResponse {
	bidResponseExt := &openrtb_ext.ExtBidResponse{
		Errors:             make(map[openrtb_ext.BidderName][]openrtb_ext.ExtBidderError),
		ResponseTimeMillis: make(map[openrtb_ext.BidderName]int, len(adapterExtra)),
		BidderStatus:       make([]*openrtb_ext.ExtBidderStatus, 0, len(split.order)),
	}
	if bidRequest.Test == 1 {
		bidResponseExt.Debug = &openrtb_ext.ExtResponseDebug{
			HttpCalls: make(map[openrtb_ext.BidderName][]*openrtb_ext.ExtHttpCall),
		}
		if resolvedRequest, err := json.Marshal(bidRequest); err != nil {
			glog.Errorf("Error marshalling bid request for debug: %v", err)
		} else {
			bidResponseExt.Debug.ResolvedRequest = resolvedRequest
		}
	}

	for _, bidderName := range split.order {
		status := &openrtb_ext.ExtBidderStatus{Bidder: bidderName}
		bidResponseExt.BidderStatus = append(bidResponseExt.BidderStatus, status)

		if rejection, ok := split.rejected[bidderName]; ok {
			status.Error = rejection.Error()
			bidResponseExt.Errors[bidderName] = errsToBidderErrors([]error{rejection})
			continue
		}

		extra, ok := adapterExtra[bidderName]
		if !ok {
			continue
		}
		status.ResponseTime = extra.ResponseTimeMillis
		bidResponseExt.ResponseTimeMillis[bidderName] = extra.ResponseTimeMillis
		if seatBid, ok := adapterBids[bidderName]; ok {
			status.NumBids = len(seatBid.bids)
		}
		if len(extra.Errors) > 0 {
			bidResponseExt.Errors[bidderName] = errsToBidderErrors(extra.Errors)
			if fatal := errortypes.FatalOnly(extra.Errors); len(fatal) > 0 {
				status.Error = fatal[0].Error()
			}
		}
		if bidResponseExt.Debug != nil && len(extra.HttpCalls) > 0 {
			bidResponseExt.Debug.HttpCalls[bidderName] = extra.HttpCalls
		}
	}

	if len(prebidErrs) > 0 {
		bidResponseExt.Errors[prebidErrorsKey] = errsToBidderErrors(prebidErrs)
	}
	return bidResponseExt
}

func errsToBidderErrors(errs []error) []openrtb_ext.ExtBidderError {
	serialized := make([]openrtb_ext.ExtBidderError, len(errs))
	for i, err := range errs {
		serialized[i].Code = errortypes.ReadCode(err)
		serialized[i].Message = err.Error()
	}
	return serialized
}

// Return an openrtb seatBid for a bidder
// buildBidResponse is responsible for ensuring nil bid seatbids are not included
func (e *exchange) makeSeatBid(adapterBid *pbsOrtbSeatBid, adapter openrtb_ext.BidderName, auc *auction) (*openrtb.SeatBid, []error) {
	seatBid := new(openrtb.SeatBid)
	seatBid.Seat = adapter.String()
	// Prebid cannot support roadblocking
	seatBid.Group = 0

	var errList []error
	seatBid.Bid, errList = e.makeBid(adapterBid.bids, auc)
	if len(seatBid.Bid) == 0 {
		return nil, errList
	}
	return seatBid, errList
}

// makeBid copies each bid, filling in bid.ext.prebid and moving the bidder's own ext under bid.ext.bidder.
func (e *exchange) makeBid(bids []*pbsOrtbBid, auc *auction) ([]openrtb.Bid, []error) {
	var errList []error
	result := make([]openrtb.Bid, 0, len(bids))
	for _, thisBid := range bids {
		bidExt := &openrtb_ext.ExtBid{
			Bidder: thisBid.bid.Ext,
			Prebid: &openrtb_ext.ExtBidPrebid{
				Targeting: thisBid.bidTargets,
				Type:      thisBid.bidType,
			},
		}
		if cacheID, ok := auc.cacheID(thisBid.bid); ok {
			bidExt.Prebid.Cache = &openrtb_ext.ExtBidPrebidCache{
				Key: cacheID,
				Url: e.cacheURL.GetCachedAssetURL(cacheID),
			}
		}
		if e.generateBidID {
			bidID, err := uuid.NewV4()
			if err != nil {
				errList = append(errList, fmt.Errorf("Error generating bid.ext.prebid.bidid: %v", err))
			} else {
				bidExt.Prebid.BidID = bidID.String()
			}
		}

		ext, err := json.Marshal(bidExt)
		if err != nil {
			errList = append(errList, err)
			continue
		}
		bidCopy := *thisBid.bid
		bidCopy.Ext = ext
		result = append(result, bidCopy)
	}
	return result, errList
}
