package adapters

import (
	"fmt"

	"github.com/mxmCherry/openrtb"
	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/openrtb_ext"
)

// InfoAwareBidder wraps a Bidder to ensure all requests abide by the capabilities and
// media types defined in the static/bidder-info/{bidder}.yaml file.
//
// It adjusts incoming requests in the following ways:
//   1. If App or Site traffic is not supported by the info file, then requests from
//      those sources will be rejected before the delegate is called.
//   2. If a given MediaType is not supported for the platform, then it will be set
//      to nil before the request is forwarded to the delegate.
//   3. Any Imps which have no MediaTypes left will be removed.
//   4. If there are no valid Imps left, the delegate won't be called at all.
//
// The incoming request is never modified. Pruned imps are copies.
type InfoAwareBidder struct {
	Bidder
	info parsedBidderInfo
}

// BuildInfoAwareBidder wraps a bidder to enforce site, app, and media type support.
func BuildInfoAwareBidder(bidder Bidder, info BidderInfo) Bidder {
	return &InfoAwareBidder{
		Bidder: bidder,
		info:   parseBidderInfo(info),
	}
}

func (i *InfoAwareBidder) MakeRequests(request *openrtb.BidRequest) ([]*RequestData, []error) {
	var allowedMediaTypes parsedSupports

	if request.Site != nil {
		if !i.info.site.enabled {
			return nil, []error{&errortypes.BadInput{Message: "this bidder does not support site requests"}}
		}
		allowedMediaTypes = i.info.site
	}
	if request.App != nil {
		if !i.info.app.enabled {
			return nil, []error{&errortypes.BadInput{Message: "this bidder does not support app requests"}}
		}
		allowedMediaTypes = i.info.app
	}

	// Neither site nor app: let the delegate decide.
	if request.Site == nil && request.App == nil {
		return i.Bidder.MakeRequests(request)
	}

	updatedImps, errs := pruneImps(request.Imp, allowedMediaTypes)

	// If all imps in bid request are invalid, exit
	if len(updatedImps) == 0 {
		return nil, append(errs, &errortypes.BadInput{Message: "Bid request didn't contain media types supported by the bidder"})
	}

	requestCopy := *request
	requestCopy.Imp = updatedImps
	reqs, delegateErrs := i.Bidder.MakeRequests(&requestCopy)
	return reqs, append(errs, delegateErrs...)
}

// pruneImps returns copies of the imps with unsupported media types removed.
// Imps with no media types left are dropped with a BadInput error.
func pruneImps(imps []openrtb.Imp, allowedTypes parsedSupports) ([]openrtb.Imp, []error) {
	var errs []error
	updated := make([]openrtb.Imp, 0, len(imps))

	for i, imp := range imps {
		if !allowedTypes.banner && imp.Banner != nil {
			imp.Banner = nil
			errs = append(errs, &errortypes.Warning{
				WarningCode: errortypes.UnsupportedMediaTypeWarningCode,
				Message:     fmt.Sprintf("request.imp[%d] uses banner, but this bidder doesn't support it", i),
			})
		}
		if !allowedTypes.video && imp.Video != nil {
			imp.Video = nil
			errs = append(errs, &errortypes.Warning{
				WarningCode: errortypes.UnsupportedMediaTypeWarningCode,
				Message:     fmt.Sprintf("request.imp[%d] uses video, but this bidder doesn't support it", i),
			})
		}
		if !allowedTypes.audio && imp.Audio != nil {
			imp.Audio = nil
			errs = append(errs, &errortypes.Warning{
				WarningCode: errortypes.UnsupportedMediaTypeWarningCode,
				Message:     fmt.Sprintf("request.imp[%d] uses audio, but this bidder doesn't support it", i),
			})
		}
		if !allowedTypes.native && imp.Native != nil {
			imp.Native = nil
			errs = append(errs, &errortypes.Warning{
				WarningCode: errortypes.UnsupportedMediaTypeWarningCode,
				Message:     fmt.Sprintf("request.imp[%d] uses native, but this bidder doesn't support it", i),
			})
		}
		if !hasAnyTypes(&imp) {
			errs = append(errs, &errortypes.BadInput{Message: fmt.Sprintf("request.imp[%d] has no supported MediaTypes. It will be ignored", i)})
			continue
		}
		updated = append(updated, imp)
	}
	return updated, errs
}

func hasAnyTypes(imp *openrtb.Imp) bool {
	return imp.Banner != nil || imp.Video != nil || imp.Audio != nil || imp.Native != nil
}

func parseBidderInfo(info BidderInfo) parsedBidderInfo {
	var parsedInfo parsedBidderInfo
	if info.Capabilities == nil {
		return parsedInfo
	}
	if info.Capabilities.App != nil {
		parsedInfo.app.enabled = true
		parsedInfo.app.banner, parsedInfo.app.video, parsedInfo.app.audio, parsedInfo.app.native = parseAllowedTypes(info.Capabilities.App.MediaTypes)
	}
	if info.Capabilities.Site != nil {
		parsedInfo.site.enabled = true
		parsedInfo.site.banner, parsedInfo.site.video, parsedInfo.site.audio, parsedInfo.site.native = parseAllowedTypes(info.Capabilities.Site.MediaTypes)
	}
	return parsedInfo
}

func parseAllowedTypes(allowedTypes []openrtb_ext.BidType) (banner bool, video bool, audio bool, native bool) {
	for _, allowedType := range allowedTypes {
		switch allowedType {
		case openrtb_ext.BidTypeBanner:
			banner = true
		case openrtb_ext.BidTypeVideo:
			video = true
		case openrtb_ext.BidTypeAudio:
			audio = true
		case openrtb_ext.BidTypeNative:
			native = true
		}
	}
	return
}

// Structs to handle parsed bidder info, so we aren't reparsing every request
type parsedBidderInfo struct {
	app  parsedSupports
	site parsedSupports
}

type parsedSupports struct {
	enabled bool
	banner  bool
	video   bool
	audio   bool
	native  bool
}
