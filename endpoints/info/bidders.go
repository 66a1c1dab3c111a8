package info

import (
	"encoding/json"
	"net/http"

	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"

	"github.com/prebid/prebid-exchange/adapters"
	"github.com/prebid/prebid-exchange/openrtb_ext"
)

const (
	statusActive   = "ACTIVE"
	statusDisabled = "DISABLED"
)

// NewBiddersEndpoint implements /info/bidders
//
// Only bidders which this host has enabled are listed.
func NewBiddersEndpoint(disabled map[openrtb_ext.BidderName]bool) httprouter.Handle {
	bidders := openrtb_ext.BidderList()
	bidderNames := make([]string, 0, len(bidders))
	for _, bidder := range bidders {
		if !disabled[bidder] {
			bidderNames = append(bidderNames, string(bidder))
		}
	}

	biddersJson, err := json.Marshal(bidderNames)
	if err != nil {
		glog.Fatalf("error creating /info/bidders endpoint response: %v", err)
	}

	return httprouter.Handle(func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(biddersJson); err != nil {
			glog.Errorf("error writing response to /info/bidders: %v", err)
		}
	})
}

// NewBidderDetailsEndpoint implements /info/bidders/:bidderName
func NewBidderDetailsEndpoint(infos adapters.BidderInfos, disabled map[openrtb_ext.BidderName]bool) httprouter.Handle {
	responses, err := prepareBiddersDetailResponse(infos, disabled)
	if err != nil {
		glog.Fatalf("error creating /info/bidders/:bidderName endpoint response: %v", err)
	}

	return httprouter.Handle(func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		forBidder := ps.ByName("bidderName")
		if response, ok := responses[forBidder]; ok {
			w.Header().Set("Content-Type", "application/json")
			if _, err := w.Write(response); err != nil {
				glog.Errorf("error writing response to /info/bidders/%s: %v", forBidder, err)
			}
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

type bidderDetail struct {
	Status string `json:"status"`
	adapters.BidderInfo
}

// Build all the responses up front, since there are a finite number and it won't use much memory.
func prepareBiddersDetailResponse(infos adapters.BidderInfos, disabled map[openrtb_ext.BidderName]bool) (map[string][]byte, error) {
	responses := make(map[string][]byte, len(infos))
	for name, info := range infos {
		detail := bidderDetail{
			Status:     statusActive,
			BidderInfo: info,
		}
		if disabled[openrtb_ext.BidderName(name)] {
			detail.Status = statusDisabled
		}

		jsonBytes, err := json.Marshal(detail)
		if err != nil {
			return nil, err
		}
		responses[name] = jsonBytes
	}
	return responses, nil
}
