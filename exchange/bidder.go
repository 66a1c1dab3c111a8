package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"github.com/mxmCherry/openrtb"
	"golang.org/x/net/context/ctxhttp"

	"github.com/prebid/prebid-exchange/adapters"
	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/openrtb_ext"
)

// adaptedBidder defines the contract needed to participate in an Auction within an Exchange.
//
// This interface exists to help segregate core auction logic.
//
// Any logic which can be done _within a single Seat_ goes inside one of these.
// Any logic which _requires responses from all Seats_ goes inside the Exchange.
//
// This interface differs from adapters.Bidder to help minimize code duplication across the
// adapters.Bidder implementations.
type adaptedBidder interface {
	// requestBid fetches bids for the given request.
	//
	// An adaptedBidder *may* return two non-nil values here. Errors should describe situations which
	// make the bid (or no-bid) "less than ideal." Common examples include:
	//
	// 1. Connection issues.
	// 2. Imps with Media Types which this Bidder doesn't support.
	// 3. The Context timeout expired before all expected bids were returned.
	// 4. The Server sent back an unexpected Response, so some bids were ignored.
	//
	// Any errors will be user-facing in the API.
	// Error messages should help publishers understand what might account for "bad" bids.
	requestBid(ctx context.Context, request *openrtb.BidRequest, name openrtb_ext.BidderName) (*pbsOrtbSeatBid, []error)
}

// pbsOrtbBid is a Bid returned by an adaptedBidder.
//
// pbsOrtbBid.bid.Ext will become "response.seatbid[i].bid.ext.bidder" in the final OpenRTB response.
// pbsOrtbBid.bidType will become "response.seatbid[i].bid.ext.prebid.type" in the final OpenRTB response.
// pbsOrtbBid.bidTargets will become "response.seatbid[i].bid.ext.prebid.targeting" in the final OpenRTB response.
type pbsOrtbBid struct {
	bid        *openrtb.Bid
	bidType    openrtb_ext.BidType
	bidTargets map[string]string
}

// pbsOrtbSeatBid is a SeatBid returned by an adaptedBidder.
//
// This is distinct from the openrtb.SeatBid so that the prebid-specific extensions can be passed back
// to the exchange with the Bids.
type pbsOrtbSeatBid struct {
	// bids is the list of bids which this adaptedBidder wishes to make, in the order of the
	// outbound calls which produced them.
	bids []*pbsOrtbBid
	// currency is the currency in which the bids are made.
	// Should be a valid curreny ISO code.
	currency string
	// httpCalls is the list of debugging info. It should only be populated if the request.test == 1.
	// This will become response.ext.debug.httpcalls.{bidder} on the final Response.
	httpCalls []*openrtb_ext.ExtHttpCall
}

// adaptBidder converts an adapters.Bidder into an exchange.adaptedBidder.
//
// The name refers to the "Adapter" architecture pattern, and should not be confused with a Prebid "Adapter".
func adaptBidder(bidder adapters.Bidder, client *http.Client) adaptedBidder {
	return &bidderAdapter{
		Bidder: bidder,
		Client: client,
	}
}

type bidderAdapter struct {
	Bidder adapters.Bidder
	Client *http.Client
}

func (bidder *bidderAdapter) requestBid(ctx context.Context, request *openrtb.BidRequest, name openrtb_ext.BidderName) (*pbsOrtbSeatBid, []error) {
	reqData, errs := bidder.Bidder.MakeRequests(request)

	if len(reqData) == 0 {
		// If the adapter failed to generate both requests and errors, this is an error.
		if len(errs) == 0 {
			errs = append(errs, &errortypes.FailedToRequestBids{Message: "The adapter failed to generate any bid requests, but also failed to generate an error explaining why"})
		}
		return nil, errs
	}

	// Make any HTTP requests in parallel.
	// Results are indexed by request so the chunk order survives the merge.
	responses := make([]*httpCallInfo, len(reqData))
	if len(reqData) == 1 {
		responses[0] = bidder.doRequest(ctx, reqData[0])
	} else {
		var wg sync.WaitGroup
		wg.Add(len(reqData))
		for i, oneReqData := range reqData {
			go func(index int, data *adapters.RequestData) {
				defer wg.Done()
				responses[index] = bidder.doRequest(ctx, data)
			}(i, oneReqData) // Method args avoid a race condition on the loop vars
		}
		wg.Wait()
	}

	seatBid := &pbsOrtbSeatBid{
		bids:      make([]*pbsOrtbBid, 0, len(reqData)),
		currency:  "",
		httpCalls: make([]*openrtb_ext.ExtHttpCall, 0, len(reqData)),
	}

	// If the bidder made multiple requests, we still want them to enter as many bids as possible...
	// even if the timeout occurs sometime halfway through.
	for _, httpInfo := range responses {
		// If this is a test bid, capture debugging info from the requests.
		if request.Test == 1 {
			seatBid.httpCalls = append(seatBid.httpCalls, makeExt(httpInfo))
		}

		if httpInfo.err != nil {
			errs = append(errs, httpInfo.err)
			continue
		}

		bidResponse, moreErrs := bidder.Bidder.MakeBids(request, httpInfo.request, httpInfo.response)
		errs = append(errs, moreErrs...)
		if bidResponse == nil {
			continue
		}

		currency := bidResponse.Currency
		if currency == "" {
			currency = defaultCurrency
		}
		if seatBid.currency == "" {
			seatBid.currency = currency
		} else if seatBid.currency != currency {
			errs = append(errs, &errortypes.BadServerResponse{
				Message: fmt.Sprintf("Bid currencies mismatch found. Expected all bids to have the same currency. Got '%s' and '%s'", seatBid.currency, currency),
			})
			continue
		}

		for i := 0; i < len(bidResponse.Bids); i++ {
			seatBid.bids = append(seatBid.bids, &pbsOrtbBid{
				bid:     bidResponse.Bids[i].Bid,
				bidType: bidResponse.Bids[i].BidType,
			})
		}
	}
	if seatBid.currency == "" {
		seatBid.currency = defaultCurrency
	}

	return seatBid, errs
}

// makeExt transforms information about the HTTP call into the contract class for the PBS response.
func makeExt(httpInfo *httpCallInfo) *openrtb_ext.ExtHttpCall {
	ext := &openrtb_ext.ExtHttpCall{}
	if httpInfo != nil && httpInfo.request != nil {
		ext.Uri = httpInfo.request.Uri
		ext.RequestBody = string(httpInfo.request.Body)
		if httpInfo.err == nil && httpInfo.response != nil {
			ext.ResponseBody = string(httpInfo.response.Body)
			ext.Status = httpInfo.response.StatusCode
		}
	}
	return ext
}

// doRequest makes a request, handles the response, and returns the data needed by the
// Bidder interface.
//
// Status codes are left for the Bidder to judge in MakeBids.
func (bidder *bidderAdapter) doRequest(ctx context.Context, req *adapters.RequestData) *httpCallInfo {
	httpReq, err := http.NewRequest(req.Method, req.Uri, bytes.NewBuffer(req.Body))
	if err != nil {
		return &httpCallInfo{
			request: req,
			err:     err,
		}
	}
	httpReq.Header = req.Headers

	httpResp, err := ctxhttp.Do(ctx, bidder.Client, httpReq)
	if err != nil {
		if err == context.DeadlineExceeded {
			err = &errortypes.Timeout{Message: "Timed out"}
		} else {
			glog.V(2).Infof("Error calling %s: %v", req.Uri, err)
		}
		return &httpCallInfo{
			request: req,
			err:     err,
		}
	}
	defer httpResp.Body.Close()

	respBody, err := ioutil.ReadAll(httpResp.Body)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = &errortypes.Timeout{Message: "Timed out"}
		}
		return &httpCallInfo{
			request: req,
			err:     err,
		}
	}

	return &httpCallInfo{
		request: req,
		response: &adapters.ResponseData{
			StatusCode: httpResp.StatusCode,
			Body:       respBody,
			Headers:    httpResp.Header,
		},
	}
}

type httpCallInfo struct {
	request  *adapters.RequestData
	response *adapters.ResponseData
	err      error
}
