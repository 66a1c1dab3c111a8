package appnexus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/buger/jsonparser"
	"github.com/mxmCherry/openrtb"

	"github.com/prebid/prebid-exchange/adapters"
	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/openrtb_ext"
)

const (
	defaultPlatformID int = 5
	maxImpsPerReq         = 10
)

type AppNexusAdapter struct {
	URI      string
	hbSource int
}

func (a *AppNexusAdapter) MakeRequests(request *openrtb.BidRequest) ([]*adapters.RequestData, []error) {
	// Some SDKs only send the display manager version in app.ext.prebid.
	displayManagerVer := buildDisplayManagerVer(request)

	var (
		memberIDs = make([]string, 0, len(request.Imp))
		errs      = make([]error, 0, len(request.Imp))
		validImps = make([]openrtb.Imp, 0, len(request.Imp))
	)

	for i := 0; i < len(request.Imp); i++ {
		appnexusExt, err := validateAndBuildAppNexusExt(&request.Imp[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}

		imp, err := buildRequestImp(request.Imp[i], &appnexusExt, displayManagerVer)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if appnexusExt.Member != "" {
			memberIDs = append(memberIDs, appnexusExt.Member)
		}
		validImps = append(validImps, imp)
	}

	// If all the requests were malformed, don't bother making a server call with no impressions.
	if len(validImps) == 0 {
		return nil, errs
	}

	// The Appnexus API requires a Member ID in the URL. One call can only carry one of them,
	// so different member IDs across the imps can't be sent at all.
	memberID, err := uniqueMemberID(memberIDs)
	if err != nil {
		return nil, append(errs, err)
	}

	requestURI := a.URI
	if memberID != "" {
		requestURI = appendMemberId(requestURI, memberID)
	}

	ext, err := a.buildRequestExt(request.Ext)
	if err != nil {
		return nil, append(errs, err)
	}

	requests, moreErrs := splitRequests(validImps, request, ext, requestURI)
	return requests, append(errs, moreErrs...)
}

func uniqueMemberID(memberIDs []string) (string, error) {
	var unique string
	for _, memberID := range memberIDs {
		if unique == "" {
			unique = memberID
		} else if unique != memberID {
			return "", &errortypes.BadInput{
				Message: fmt.Sprintf("all request.imp[i].ext.appnexus.member params must match. Request contained member IDs %s and %s", unique, memberID),
			}
		}
	}
	return unique, nil
}

// splitRequests sends at most maxImpsPerReq imps per call. Each call copies the top-level request
// and keeps the imps in their original order.
func splitRequests(imps []openrtb.Imp, request *openrtb.BidRequest, ext json.RawMessage, uri string) ([]*adapters.RequestData, []error) {
	// Let's say there are 35 impressions and the limit per request is 10.
	// We need 4 requests with 10, 10, 10 and 5 impressions: (35+10-1)/10 = 4
	requests := make([]*adapters.RequestData, 0, (len(imps)+maxImpsPerReq-1)/maxImpsPerReq)

	headers := http.Header{}
	headers.Add("Content-Type", "application/json;charset=utf-8")
	headers.Add("Accept", "application/json")

	for start := 0; start < len(imps); start += maxImpsPerReq {
		end := start + maxImpsPerReq
		if end > len(imps) {
			end = len(imps)
		}

		chunk := *request
		chunk.Imp = imps[start:end]
		chunk.Ext = ext

		reqJSON, err := json.Marshal(&chunk)
		if err != nil {
			return nil, []error{err}
		}

		requests = append(requests, &adapters.RequestData{
			Method:  "POST",
			Uri:     uri,
			Body:    reqJSON,
			Headers: headers,
		})
	}
	return requests, nil
}

func (a *AppNexusAdapter) buildRequestExt(ext json.RawMessage) (json.RawMessage, error) {
	var requestExt reqExt
	if len(ext) > 0 {
		if err := json.Unmarshal(ext, &requestExt); err != nil {
			return nil, &errortypes.BadInput{Message: err.Error()}
		}
	}
	requestExt.Appnexus = &reqExtAppnexus{HeaderBiddingSource: a.hbSource}
	return json.Marshal(&requestExt)
}

func validateAndBuildAppNexusExt(imp *openrtb.Imp) (openrtb_ext.ExtImpAppnexus, error) {
	var bidderExt openrtb_ext.ExtImpBidder
	if err := json.Unmarshal(imp.Ext, &bidderExt); err != nil {
		return openrtb_ext.ExtImpAppnexus{}, &errortypes.BadInput{Message: err.Error()}
	}

	var appnexusExt openrtb_ext.ExtImpAppnexus
	if err := json.Unmarshal(bidderExt.Bidder, &appnexusExt); err != nil {
		return openrtb_ext.ExtImpAppnexus{}, &errortypes.BadInput{Message: err.Error()}
	}

	handleLegacyParams(&appnexusExt)

	if appnexusExt.PlacementId == 0 && (appnexusExt.InvCode == "" || appnexusExt.Member == "") {
		return openrtb_ext.ExtImpAppnexus{}, &errortypes.BadInput{
			Message: "No placement or member+invcode provided",
		}
	}

	return appnexusExt, nil
}

// handleLegacyParams only fills a field from its old spelling when the new one is empty.
func handleLegacyParams(appnexusExt *openrtb_ext.ExtImpAppnexus) {
	if appnexusExt.PlacementId == 0 && appnexusExt.LegacyPlacementId != 0 {
		appnexusExt.PlacementId = appnexusExt.LegacyPlacementId
	}
	if appnexusExt.InvCode == "" && appnexusExt.LegacyInvCode != "" {
		appnexusExt.InvCode = appnexusExt.LegacyInvCode
	}
	if appnexusExt.TrafficSourceCode == "" && appnexusExt.LegacyTrafficSourceCode != "" {
		appnexusExt.TrafficSourceCode = appnexusExt.LegacyTrafficSourceCode
	}
}

// buildRequestImp returns a new imp. The one in the auction request is shared with the other bidders.
func buildRequestImp(imp openrtb.Imp, appnexusExt *openrtb_ext.ExtImpAppnexus, displayManagerVer string) (openrtb.Imp, error) {
	if appnexusExt.InvCode != "" {
		imp.TagID = appnexusExt.InvCode
	}
	if imp.BidFloor <= 0 && appnexusExt.Reserve > 0 {
		imp.BidFloor = appnexusExt.Reserve // This will be broken for non-USD currency.
	}
	if imp.Banner != nil {
		bannerCopy := *imp.Banner
		if appnexusExt.Position == "above" {
			bannerCopy.Pos = adPosition(openrtb.AdPositionAboveTheFold)
		} else if appnexusExt.Position == "below" {
			bannerCopy.Pos = adPosition(openrtb.AdPositionBelowTheFold)
		}

		if bannerCopy.W == nil && bannerCopy.H == nil && len(bannerCopy.Format) > 0 {
			firstFormat := bannerCopy.Format[0]
			bannerCopy.W = openrtb.Uint64Ptr(firstFormat.W)
			bannerCopy.H = openrtb.Uint64Ptr(firstFormat.H)
		}
		imp.Banner = &bannerCopy
	}

	if len(imp.DisplayManagerVer) == 0 && len(displayManagerVer) > 0 {
		imp.DisplayManagerVer = displayManagerVer
	}

	ext := impExt{Appnexus: impExtAppnexus{
		PlacementID:       appnexusExt.PlacementId,
		TrafficSourceCode: appnexusExt.TrafficSourceCode,
		Keywords:          appnexusExt.Keywords.String(),
		UsePmtRule:        appnexusExt.UsePmtRule,
		PrivateSizes:      appnexusExt.PrivateSizes,
		GenerateAdPodId:   appnexusExt.GenerateAdPodId,
	}}

	var err error
	imp.Ext, err = json.Marshal(&ext)
	return imp, err
}

func adPosition(pos openrtb.AdPosition) *openrtb.AdPosition {
	return &pos
}

func (a *AppNexusAdapter) MakeBids(internalRequest *openrtb.BidRequest, externalRequest *adapters.RequestData, response *adapters.ResponseData) (*adapters.BidderResponse, []error) {
	if adapters.IsResponseStatusCodeNoContent(response) {
		return nil, nil
	}

	if err := adapters.CheckResponseStatusCodeForErrors(response); err != nil {
		return nil, []error{err}
	}

	var bidResp openrtb.BidResponse
	if err := json.Unmarshal(response.Body, &bidResp); err != nil {
		return nil, []error{&errortypes.BadServerResponse{Message: err.Error()}}
	}

	var errs []error
	bidderResponse := adapters.NewBidderResponseWithBidsCapacity(5)
	for _, sb := range bidResp.SeatBid {
		for i := range sb.Bid {
			bid := sb.Bid[i]

			appnexusExt, err := parseBidExt(&bid)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			bidType, err := getMediaTypeForBid(appnexusExt)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			bid.Cat = bidCategories(&bid, appnexusExt)

			bidderResponse.Bids = append(bidderResponse.Bids, &adapters.TypedBid{
				Bid:     &bid,
				BidType: bidType,
			})
		}
	}

	if bidResp.Cur != "" {
		bidderResponse.Currency = bidResp.Cur
	}

	return bidderResponse, errs
}

func parseBidExt(bid *openrtb.Bid) (*bidExtAppnexus, error) {
	if len(bid.Ext) == 0 {
		return nil, &errortypes.BadServerResponse{
			Message: "bidResponse.bid.ext should be defined for appnexus",
		}
	}

	var ext bidExt
	if err := json.Unmarshal(bid.Ext, &ext); err != nil {
		return nil, &errortypes.BadServerResponse{Message: err.Error()}
	}
	if ext.Appnexus == nil {
		return nil, &errortypes.BadServerResponse{
			Message: "bidResponse.bid.ext.appnexus should be defined",
		}
	}
	return ext.Appnexus, nil
}

// getMediaTypeForBid determines which type of bid.
// A missing or unknown bid_ad_type is an error. Guessing would mis-type the bid in the auction.
func getMediaTypeForBid(ext *bidExtAppnexus) (openrtb_ext.BidType, error) {
	if ext.BidType == nil {
		return "", &errortypes.BadServerResponse{
			Message: "Missing bid_ad_type in response from appnexus",
		}
	}

	switch *ext.BidType {
	case 0:
		return openrtb_ext.BidTypeBanner, nil
	case 1:
		return openrtb_ext.BidTypeVideo, nil
	case 3:
		return openrtb_ext.BidTypeNative, nil
	default:
		return "", &errortypes.BadServerResponse{
			Message: fmt.Sprintf("Unrecognized bid_ad_type in response from appnexus: %d", *ext.BidType),
		}
	}
}

// bidCategories maps the appnexus brand category to an IAB category.
// An empty, non-nil list means the category could not be resolved and the bid should not pass a category check.
func bidCategories(bid *openrtb.Bid, ext *bidExtAppnexus) []string {
	if ext.BrandCategory != nil {
		if iabCategory, ok := iabCategoryMap[strconv.Itoa(*ext.BrandCategory)]; ok {
			return []string{iabCategory}
		}
		return []string{}
	}

	if len(bid.Cat) > 1 {
		return []string{}
	}
	return bid.Cat
}

func appendMemberId(uri string, memberId string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	q := parsed.Query()
	q.Set("member_id", memberId)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

func buildDisplayManagerVer(req *openrtb.BidRequest) string {
	if req.App == nil {
		return ""
	}

	source, err := jsonparser.GetString(req.App.Ext, "prebid", "source")
	if err != nil {
		return ""
	}

	version, err := jsonparser.GetString(req.App.Ext, "prebid", "version")
	if err != nil {
		return ""
	}

	return fmt.Sprintf("%s-%s", source, version)
}

// NewAppNexusBidder builds the adapter for the given endpoint.
// An unparseable platformID falls back to the default header bidding source.
func NewAppNexusBidder(endpoint string, platformID string) *AppNexusAdapter {
	return &AppNexusAdapter{
		URI:      endpoint,
		hbSource: resolvePlatformID(platformID),
	}
}

func resolvePlatformID(platformID string) int {
	if len(platformID) > 0 {
		if val, err := strconv.Atoi(platformID); err == nil {
			return val
		}
	}

	return defaultPlatformID
}
