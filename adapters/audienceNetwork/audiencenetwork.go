package audienceNetwork

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang/glog"
	"github.com/mxmCherry/openrtb"

	"github.com/prebid/prebid-exchange/adapters"
	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/openrtb_ext"
)

const defaultEndpoint = "https://an.facebook.com/placementbid.ortb"

var supportedBannerHeights = map[uint64]bool{
	50:  true,
	250: true,
}

var errMisconfigured = errors.New("Audience Network is not configured properly on this exchange. If you believe this should work, contact the company hosting the service and tell them to check their configuration.")

type AudienceNetworkAdapter struct {
	URI        string
	platformID string
	appSecret  string
}

type adMarkup struct {
	BidID string `json:"bid_id"`
}

type reqExt struct {
	PlatformID string `json:"platformid"`
	AuthID     string `json:"authentication_id"`
}

func (a *AudienceNetworkAdapter) MakeRequests(request *openrtb.BidRequest) ([]*adapters.RequestData, []error) {
	if len(request.Imp) == 0 {
		return nil, []error{&errortypes.BadInput{
			Message: "No impressions provided",
		}}
	}

	if request.User == nil || request.User.BuyerUID == "" {
		return nil, []error{&errortypes.BadInput{
			Message: "Missing bidder token in 'user.buyeruid'",
		}}
	}

	if request.Site != nil {
		return nil, []error{&errortypes.BadInput{
			Message: "Site impressions are not supported.",
		}}
	}

	return a.buildRequests(request)
}

// buildRequests sends one imp per call.
func (a *AudienceNetworkAdapter) buildRequests(request *openrtb.BidRequest) ([]*adapters.RequestData, []error) {
	reqs := make([]*adapters.RequestData, 0, len(request.Imp))
	headers := http.Header{}
	var errs []error

	headers.Add("Content-Type", "application/json;charset=utf-8")
	headers.Add("Accept", "application/json")
	headers.Add("X-Fb-Pool-Routing-Token", request.User.BuyerUID)

	for _, imp := range request.Imp {
		single := *request
		single.Imp = []openrtb.Imp{imp}

		if err := a.modifyRequest(&single); err != nil {
			errs = append(errs, err)
			continue
		}

		body, err := json.Marshal(&single)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		body, err = modifyImpCustom(body, &single.Imp[0])
		if err != nil {
			errs = append(errs, err)
			continue
		}

		reqs = append(reqs, &adapters.RequestData{
			Method:  "POST",
			Uri:     a.URI,
			Body:    body,
			Headers: headers,
		})
	}

	return reqs, errs
}

// makeAuthID is a hex encoded sha256 hmac of the request ID, keyed with the app secret.
func (a *AudienceNetworkAdapter) makeAuthID(req *openrtb.BidRequest) string {
	h := hmac.New(sha256.New, []byte(a.appSecret))
	h.Write([]byte(req.ID))

	return hex.EncodeToString(h.Sum(nil))
}

func (a *AudienceNetworkAdapter) modifyRequest(out *openrtb.BidRequest) error {
	imp := &out.Imp[0]
	plmtID, pubID, err := extractPlacementAndPublisher(imp)
	if err != nil {
		return err
	}

	// Each outgoing request has one imp, so its ID doubles as the request ID.
	// It must be set before the auth ID is computed.
	out.ID = imp.ID

	ext := reqExt{
		PlatformID: a.platformID,
		AuthID:     a.makeAuthID(out),
	}

	if out.Ext, err = json.Marshal(ext); err != nil {
		return err
	}

	imp.TagID = pubID + "_" + plmtID
	imp.Ext = nil

	if out.App != nil {
		app := *out.App
		app.Publisher = &openrtb.Publisher{ID: pubID}
		out.App = &app
	}

	return modifyImp(imp)
}

func modifyImp(out *openrtb.Imp) error {
	impType, ok := resolveImpType(out)
	if !ok {
		return &errortypes.BadInput{
			Message: fmt.Sprintf("imp #%s with invalid type", out.ID),
		}
	}

	if out.Instl == 1 && impType != openrtb_ext.BidTypeBanner {
		return &errortypes.BadInput{
			Message: fmt.Sprintf("imp #%s: interstitial imps are only supported for banner", out.ID),
		}
	}

	if impType != openrtb_ext.BidTypeBanner {
		return nil
	}

	bannerCopy := *out.Banner
	out.Banner = &bannerCopy

	if out.Instl == 1 {
		out.Banner.W = openrtb.Uint64Ptr(0)
		out.Banner.H = openrtb.Uint64Ptr(0)
		out.Banner.Format = nil
		return nil
	}

	if out.Banner.H == nil {
		for _, f := range out.Banner.Format {
			if supportedBannerHeights[f.H] {
				out.Banner.H = openrtb.Uint64Ptr(f.H)
				break
			}
		}
		if out.Banner.H == nil {
			return &errortypes.BadInput{
				Message: fmt.Sprintf("imp #%s: banner height required", out.ID),
			}
		}
	}

	if !supportedBannerHeights[*out.Banner.H] {
		return &errortypes.BadInput{
			Message: fmt.Sprintf("imp #%s: only banner heights 50 and 250 are supported", out.ID),
		}
	}

	// Overwritten with -1 after serialization.
	out.Banner.W = openrtb.Uint64Ptr(0)
	out.Banner.Format = nil
	return nil
}

// extractPlacementAndPublisher accepts either separate placementId and publisherId params,
// or the older "<publisherId>_<placementId>" form in placementId alone.
func extractPlacementAndPublisher(imp *openrtb.Imp) (string, string, error) {
	var bidderExt openrtb_ext.ExtImpBidder
	if err := json.Unmarshal(imp.Ext, &bidderExt); err != nil {
		return "", "", &errortypes.BadInput{
			Message: err.Error(),
		}
	}

	var params openrtb_ext.ExtImpAudienceNetwork
	if err := json.Unmarshal(bidderExt.Bidder, &params); err != nil {
		return "", "", &errortypes.BadInput{
			Message: err.Error(),
		}
	}

	if params.PlacementId == "" {
		return "", "", &errortypes.BadInput{
			Message: "Missing placementId param",
		}
	}

	toks := strings.Split(params.PlacementId, "_")
	switch len(toks) {
	case 1:
		if params.PublisherId == "" {
			return "", "", &errortypes.BadInput{
				Message: "Missing publisherId param",
			}
		}
		return params.PlacementId, params.PublisherId, nil
	case 2:
		return toks[1], toks[0], nil
	default:
		return "", "", &errortypes.BadInput{
			Message: fmt.Sprintf("Invalid placementId param '%s' and publisherId param '%s'", params.PlacementId, params.PublisherId),
		}
	}
}

// modifyImpCustom writes the values openrtb can't express after serialization:
// banner.w = -1, video w/h = 0 and native w/h = -1 without the native request payload.
func modifyImpCustom(jsonData []byte, imp *openrtb.Imp) ([]byte, error) {
	impType, ok := resolveImpType(imp)
	if !ok {
		return jsonData, &errortypes.BadInput{Message: fmt.Sprintf("imp #%s with invalid type", imp.ID)}
	}

	var jsonMap map[string]interface{}
	if err := json.Unmarshal(jsonData, &jsonMap); err != nil {
		return jsonData, err
	}

	impSlice, ok := jsonMap["imp"].([]interface{})
	if !ok || len(impSlice) == 0 {
		return jsonData, errors.New("unable to find imp[0] in json data")
	}
	impMap, ok := impSlice[0].(map[string]interface{})
	if !ok {
		return jsonData, errors.New("unexpected type for imp[0] found in json data")
	}

	switch impType {
	case openrtb_ext.BidTypeBanner:
		if imp.Instl != 1 {
			bannerMap, ok := impMap["banner"].(map[string]interface{})
			if !ok {
				return jsonData, errors.New("unable to find imp[0].banner in json data")
			}
			bannerMap["w"] = json.RawMessage("-1")
		}

	case openrtb_ext.BidTypeVideo:
		videoMap, ok := impMap["video"].(map[string]interface{})
		if !ok {
			return jsonData, errors.New("unable to find imp[0].video in json data")
		}
		videoMap["w"] = json.RawMessage("0")
		videoMap["h"] = json.RawMessage("0")

	case openrtb_ext.BidTypeNative:
		nativeMap, ok := impMap["native"].(map[string]interface{})
		if !ok {
			return jsonData, errors.New("unable to find imp[0].native in json data")
		}
		nativeMap["w"] = json.RawMessage("-1")
		nativeMap["h"] = json.RawMessage("-1")
		delete(nativeMap, "ver")
		delete(nativeMap, "request")
	}

	reEncoded, err := json.Marshal(jsonMap)
	if err != nil {
		return nil, fmt.Errorf("unable to encode json data (%v)", err)
	}
	return reEncoded, nil
}

func (a *AudienceNetworkAdapter) MakeBids(request *openrtb.BidRequest, adapterRequest *adapters.RequestData, response *adapters.ResponseData) (*adapters.BidderResponse, []error) {
	if adapters.IsResponseStatusCodeNoContent(response) {
		return nil, nil
	}

	if response.StatusCode != http.StatusOK {
		msg := response.Headers.Get("x-fb-an-errors")
		return nil, []error{&errortypes.BadServerResponse{
			Message: fmt.Sprintf("Unexpected status code %d with error message '%s'", response.StatusCode, msg),
		}}
	}

	var bidResp openrtb.BidResponse
	if err := json.Unmarshal(response.Body, &bidResp); err != nil {
		return nil, []error{&errortypes.BadServerResponse{Message: err.Error()}}
	}

	out := adapters.NewBidderResponseWithBidsCapacity(4)
	var errs []error

	for _, seatbid := range bidResp.SeatBid {
		for i := range seatbid.Bid {
			bid := seatbid.Bid[i]
			if bid.AdM == "" {
				errs = append(errs, &errortypes.BadServerResponse{
					Message: fmt.Sprintf("Bid %s missing 'adm'", bid.ID),
				})
				continue
			}

			var markup adMarkup
			if err := json.Unmarshal([]byte(bid.AdM), &markup); err != nil {
				errs = append(errs, &errortypes.BadServerResponse{
					Message: err.Error(),
				})
				continue
			}

			if markup.BidID == "" {
				errs = append(errs, &errortypes.BadServerResponse{
					Message: fmt.Sprintf("bid %s missing 'bid_id' in 'adm'", bid.ID),
				})
				continue
			}

			bidType, err := resolveBidType(&bid, request)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			bid.AdID = markup.BidID
			bid.CrID = markup.BidID

			out.Bids = append(out.Bids, &adapters.TypedBid{
				Bid:     &bid,
				BidType: bidType,
			})
		}
	}

	if bidResp.Cur != "" {
		out.Currency = bidResp.Cur
	}

	return out, errs
}

// resolveBidType takes the media type from the imp the bid was made for.
func resolveBidType(bid *openrtb.Bid, req *openrtb.BidRequest) (openrtb_ext.BidType, error) {
	for i := range req.Imp {
		if bid.ImpID != req.Imp[i].ID {
			continue
		}
		if typ, ok := resolveImpType(&req.Imp[i]); ok {
			return typ, nil
		}
		return "", &errortypes.BadServerResponse{
			Message: fmt.Sprintf("bid %s is for imp %s which has no media type", bid.ID, bid.ImpID),
		}
	}

	return "", &errortypes.BadServerResponse{
		Message: fmt.Sprintf("bid %s has imp ID %s which does not match any imp in the request", bid.ID, bid.ImpID),
	}
}

func resolveImpType(imp *openrtb.Imp) (openrtb_ext.BidType, bool) {
	if imp.Banner != nil {
		return openrtb_ext.BidTypeBanner, true
	}

	if imp.Video != nil {
		return openrtb_ext.BidTypeVideo, true
	}

	if imp.Audio != nil {
		return openrtb_ext.BidTypeAudio, true
	}

	if imp.Native != nil {
		return openrtb_ext.BidTypeNative, true
	}

	return "", false
}

// NewAudienceNetworkBidder builds the adapter. Without a platform ID or app secret every call would
// be rejected upstream, so a MisconfiguredBidder is returned instead.
func NewAudienceNetworkBidder(endpoint string, platformID string, appSecret string) adapters.Bidder {
	if platformID == "" {
		glog.Errorf("No Audience Network platform ID specified. Calls to the Audience Network will fail. Did you set adapters.audiencenetwork.platform_id in the app config?")
		return &adapters.MisconfiguredBidder{
			Name:  string(openrtb_ext.BidderAudienceNetwork),
			Error: errMisconfigured,
		}
	}

	if appSecret == "" {
		glog.Errorf("No Audience Network app secret specified. Calls to the Audience Network will fail. Did you set adapters.audiencenetwork.app_secret in the app config?")
		return &adapters.MisconfiguredBidder{
			Name:  string(openrtb_ext.BidderAudienceNetwork),
			Error: errMisconfigured,
		}
	}

	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	return &AudienceNetworkAdapter{
		URI:        endpoint,
		platformID: platformID,
		appSecret:  appSecret,
	}
}
