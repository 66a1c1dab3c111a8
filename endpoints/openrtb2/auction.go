package openrtb2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"sort"
	"time"

	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"
	"github.com/mssola/user_agent"
	"github.com/mxmCherry/openrtb"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/exchange"
	"github.com/prebid/prebid-exchange/openrtb_ext"
	"github.com/prebid/prebid-exchange/pbsmetrics"
	"github.com/prebid/prebid-exchange/stored_accounts"
)

func NewEndpoint(ex exchange.Exchange, validator openrtb_ext.BidderParamValidator, accounts stored_accounts.AccountFetcher, cfg *config.Configuration, metricsEngine pbsmetrics.MetricsEngine) (httprouter.Handle, error) {
	if ex == nil || validator == nil || accounts == nil || cfg == nil || metricsEngine == nil {
		return nil, errors.New("NewEndpoint requires non-nil arguments.")
	}

	return httprouter.Handle((&endpointDeps{ex, validator, accounts, cfg, metricsEngine}).Auction), nil
}

type endpointDeps struct {
	ex              exchange.Exchange
	paramsValidator openrtb_ext.BidderParamValidator
	accounts        stored_accounts.AccountFetcher
	cfg             *config.Configuration
	metricsEngine   pbsmetrics.MetricsEngine
}

func (deps *endpointDeps) Auction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	start := time.Now()
	labels := pbsmetrics.Labels{
		Source:        pbsmetrics.DemandUnknown,
		RType:         pbsmetrics.ReqTypeORTB2Web,
		Browser:       getBrowserName(r),
		RequestStatus: pbsmetrics.RequestStatusOK,
	}
	defer func() {
		deps.metricsEngine.RecordRequest(labels)
		deps.metricsEngine.RecordRequestTime(labels, time.Since(start))
	}()

	req, errL := deps.parseRequest(r)
	if len(errL) > 0 {
		labels.RequestStatus = pbsmetrics.RequestStatusBadInput
		writeBadRequest(w, errL)
		return
	}

	ctx := context.Background()
	timeout := deps.cfg.AuctionTimeouts.LimitAuctionTimeout(time.Duration(req.TMax) * time.Millisecond)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, start.Add(timeout))
		defer cancel()
	}

	if req.App != nil {
		labels.Source = pbsmetrics.DemandApp
		labels.RType = pbsmetrics.ReqTypeORTB2App
		labels.PubID = effectivePubID(req.App.Publisher)
	} else if req.Site != nil {
		labels.Source = pbsmetrics.DemandWeb
		labels.PubID = effectivePubID(req.Site.Publisher)
	}
	deps.metricsEngine.RecordImps(labels, len(req.Imp))

	account, acctErrs := stored_accounts.GetAccount(ctx, deps.cfg, deps.accounts, labels.PubID)
	if len(acctErrs) > 0 {
		labels.RequestStatus = pbsmetrics.RequestStatusBadInput
		writeBadRequest(w, acctErrs)
		return
	}

	response, err := deps.ex.HoldAuction(ctx, req, account, labels)
	if err != nil {
		if errortypes.ReadCode(err) == errortypes.BadInputErrorCode {
			labels.RequestStatus = pbsmetrics.RequestStatusBadInput
			writeBadRequest(w, []error{err})
			return
		}
		labels.RequestStatus = pbsmetrics.RequestStatusErr
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Critical error while running the auction: %v", err)
		glog.Errorf("/openrtb2/auction Critical error: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(response); err != nil {
		labels.RequestStatus = pbsmetrics.RequestStatusNetworkErr
		glog.V(2).Infof("/openrtb2/auction Failed to send response: %v", err)
	}
}

func writeBadRequest(w http.ResponseWriter, errs []error) {
	w.WriteHeader(http.StatusBadRequest)
	for _, err := range errs {
		fmt.Fprintf(w, "Invalid request: %s\n", err.Error())
	}
}

// parseRequest turns the HTTP request into an OpenRTB request.
//
// If the errors list is empty, then the returned request is safe to hand to the exchange.
// If it has at least one element, then no guarantees are made about the returned request.
func (deps *endpointDeps) parseRequest(httpRequest *http.Request) (req *openrtb.BidRequest, errs []error) {
	req = &openrtb.BidRequest{}

	lr := &io.LimitedReader{
		R: httpRequest.Body,
		N: deps.cfg.MaxRequestSize,
	}
	requestJson, err := ioutil.ReadAll(lr)
	if err != nil {
		errs = []error{err}
		return
	}
	// Drain whatever is left so the connection can be reused.
	if lr.N <= 0 {
		if written, err := io.Copy(ioutil.Discard, httpRequest.Body); written > 0 || err != nil {
			errs = []error{fmt.Errorf("request size exceeded max size of %d bytes.", deps.cfg.MaxRequestSize)}
			return
		}
	}

	if err := json.Unmarshal(requestJson, req); err != nil {
		errs = []error{err}
		return
	}

	if err := deps.validateRequest(req); err != nil {
		errs = []error{err}
	}
	return
}

func (deps *endpointDeps) validateRequest(req *openrtb.BidRequest) error {
	if req.ID == "" {
		return errors.New("request missing required field: \"id\"")
	}

	if req.TMax < 0 {
		return fmt.Errorf("request.tmax must be nonnegative. Got %d", req.TMax)
	}

	if len(req.Imp) < 1 {
		return errors.New("request.imp must contain at least one element.")
	}

	aliases, err := validateRequestExt(req.Ext)
	if err != nil {
		return err
	}

	impIDs := make(map[string]int, len(req.Imp))
	for index := range req.Imp {
		imp := &req.Imp[index]
		if firstIndex, ok := impIDs[imp.ID]; ok && imp.ID != "" {
			return fmt.Errorf("request.imp[%d].id and request.imp[%d].id are both \"%s\". Imp IDs must be unique.", firstIndex, index, imp.ID)
		}
		impIDs[imp.ID] = index

		if err := deps.validateImp(imp, aliases, index); err != nil {
			return err
		}
	}

	if req.Site != nil && req.App != nil {
		return errors.New("request.site or request.app must be defined, but not both.")
	}
	return nil
}

// validateRequestExt decodes request.ext and returns the aliases it defines.
func validateRequestExt(ext json.RawMessage) (map[string]string, error) {
	if len(ext) == 0 {
		return nil, nil
	}

	var requestExt openrtb_ext.ExtRequest
	if err := json.Unmarshal(ext, &requestExt); err != nil {
		return nil, fmt.Errorf("request.ext is invalid: %v", err)
	}

	for alias, coreBidder := range requestExt.Prebid.Aliases {
		if _, isCoreBidder := openrtb_ext.GetBidderName(coreBidder); !isCoreBidder {
			return nil, fmt.Errorf("request.ext.prebid.aliases.%s refers to unknown bidder: %s", alias, coreBidder)
		}
		if alias == coreBidder {
			return nil, fmt.Errorf("request.ext.prebid.aliases.%s defines a no-op alias. Choose a different alias, or remove this entry.", alias)
		}
	}

	if targeting := requestExt.Prebid.Targeting; targeting != nil && targeting.PriceGranularity.Name == openrtb_ext.PriceGranularityCustom {
		if err := validateCustomRanges(targeting.PriceGranularity.Ranges); err != nil {
			return nil, err
		}
	}
	return requestExt.Prebid.Aliases, nil
}

func validateCustomRanges(ranges []openrtb_ext.GranularityRange) error {
	if len(ranges) == 0 {
		return errors.New("Price granularity error: empty granularity definition supplied")
	}
	var prevMax float64
	for _, gr := range ranges {
		if gr.Max <= prevMax {
			return errors.New("Price granularity error: range list must be ordered with increasing \"max\"")
		}
		if gr.Increment <= 0.0 {
			return errors.New("Price granularity error: increment must be a nonzero positive number")
		}
		prevMax = gr.Max
	}
	return nil
}

func (deps *endpointDeps) validateImp(imp *openrtb.Imp, aliases map[string]string, index int) error {
	if imp.ID == "" {
		return fmt.Errorf("request.imp[%d] missing required field: \"id\"", index)
	}

	if imp.Banner == nil && imp.Video == nil && imp.Audio == nil && imp.Native == nil {
		return fmt.Errorf("request.imp[%d] must contain at least one of \"banner\", \"video\", \"audio\", or \"native\"", index)
	}

	if err := validateBanner(imp.Banner, index); err != nil {
		return err
	}

	if imp.Video != nil && len(imp.Video.MIMEs) < 1 {
		return fmt.Errorf("request.imp[%d].video.mimes must contain at least one supported MIME type", index)
	}

	if imp.Audio != nil && len(imp.Audio.MIMEs) < 1 {
		return fmt.Errorf("request.imp[%d].audio.mimes must contain at least one supported MIME type", index)
	}

	if imp.Native != nil && imp.Native.Request == "" {
		return fmt.Errorf("request.imp[%d].native.request must be a JSON encoded string conforming to the openrtb 1.2 Native spec", index)
	}

	if err := validatePmp(imp.PMP, index); err != nil {
		return err
	}

	return deps.validateImpExt(imp.Ext, aliases, index)
}

func validateBanner(banner *openrtb.Banner, impIndex int) error {
	if banner == nil {
		return nil
	}

	hasRootSize := banner.W != nil && banner.H != nil && *banner.W > 0 && *banner.H > 0
	if !hasRootSize && len(banner.Format) == 0 {
		return fmt.Errorf("request.imp[%d].banner has no sizes. Define \"w\" and \"h\", or include \"format\" elements.", impIndex)
	}

	for fmtIndex, format := range banner.Format {
		if err := validateFormat(&format, impIndex, fmtIndex); err != nil {
			return err
		}
	}
	return nil
}

func validateFormat(format *openrtb.Format, impIndex int, formatIndex int) error {
	usesHW := format.W != 0 || format.H != 0
	usesRatios := format.WMin != 0 || format.WRatio != 0 || format.HRatio != 0
	if usesHW && usesRatios {
		return fmt.Errorf("Request imp[%d].banner.format[%d] should define *either* {w, h} *or* {wmin, wratio, hratio}, but not both. If both are valid, send two \"format\" objects in the request.", impIndex, formatIndex)
	}
	if !usesHW && !usesRatios {
		return fmt.Errorf("Request imp[%d].banner.format[%d] should define *either* {w, h} (for static size requirements) *or* {wmin, wratio, hratio} (for flexible sizes) to be non-zero.", impIndex, formatIndex)
	}
	if usesHW && (format.W == 0 || format.H == 0) {
		return fmt.Errorf("Request imp[%d].banner.format[%d] must define non-zero \"h\" and \"w\" properties.", impIndex, formatIndex)
	}
	if usesRatios && (format.WMin == 0 || format.WRatio == 0 || format.HRatio == 0) {
		return fmt.Errorf("Request imp[%d].banner.format[%d] must define non-zero \"wmin\", \"wratio\", and \"hratio\" properties.", impIndex, formatIndex)
	}
	return nil
}

func validatePmp(pmp *openrtb.PMP, impIndex int) error {
	if pmp == nil {
		return nil
	}

	for dealIndex, deal := range pmp.Deals {
		if deal.ID == "" {
			return fmt.Errorf("request.imp[%d].pmp.deals[%d] missing required field: \"id\"", impIndex, dealIndex)
		}
	}
	return nil
}

// validateImpExt checks the params of every bidder named in the imp against that bidder's JSON schema.
// Aliases are checked against the schema of the bidder they alias. Names this host doesn't recognize
// are left for the exchange, which reports them as unsupported.
func (deps *endpointDeps) validateImpExt(ext json.RawMessage, aliases map[string]string, impIndex int) error {
	if len(ext) == 0 {
		return fmt.Errorf("request.imp[%d].ext is required", impIndex)
	}

	var impExt map[string]json.RawMessage
	if err := json.Unmarshal(ext, &impExt); err != nil {
		return fmt.Errorf("request.imp[%d].ext is invalid: %v", impIndex, err)
	}

	bidderParams := make(map[string]json.RawMessage, len(impExt))
	for name, params := range impExt {
		if !openrtb_ext.IsBidderNameReserved(name) {
			bidderParams[name] = params
		}
	}
	if prebidExt, ok := impExt[string(openrtb_ext.BidderReservedPrebid)]; ok {
		var impPrebid openrtb_ext.ExtImpPrebid
		if err := json.Unmarshal(prebidExt, &impPrebid); err != nil {
			return fmt.Errorf("request.imp[%d].ext.prebid is invalid: %v", impIndex, err)
		}
		for name, params := range impPrebid.Bidder {
			bidderParams[name] = params
		}
	}

	if len(bidderParams) < 1 {
		return fmt.Errorf("request.imp[%d].ext must contain at least one bidder", impIndex)
	}

	names := make([]string, 0, len(bidderParams))
	for name := range bidderParams {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		coreBidder, isValid := openrtb_ext.GetBidderName(name)
		if !isValid {
			if aliasOf, isAlias := aliases[name]; isAlias {
				coreBidder, isValid = openrtb_ext.GetBidderName(aliasOf)
			}
		}
		if !isValid {
			continue
		}
		if err := deps.paramsValidator.Validate(coreBidder, bidderParams[name]); err != nil {
			return fmt.Errorf("request.imp[%d].ext.%s failed validation.\n%v", impIndex, name, err)
		}
	}
	return nil
}

func effectivePubID(pub *openrtb.Publisher) string {
	if pub != nil {
		return pub.ID
	}
	return ""
}

func getBrowserName(r *http.Request) pbsmetrics.Browser {
	ua := user_agent.New(r.Header.Get("User-Agent"))
	if name, _ := ua.Browser(); name == "Safari" {
		return pbsmetrics.BrowserSafari
	}
	return pbsmetrics.BrowserOther
}
