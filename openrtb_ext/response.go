package openrtb_ext

import (
	"encoding/json"
)

// ExtBidResponse defines the contract for bidresponse.ext
type ExtBidResponse struct {
	Debug *ExtResponseDebug `json:"debug,omitempty"`
	// Errors defines the contract for bidresponse.ext.errors
	Errors map[BidderName][]ExtBidderError `json:"errors,omitempty"`
	// ResponseTimeMillis defines the contract for bidresponse.ext.responsetimemillis
	ResponseTimeMillis map[BidderName]int `json:"responsetimemillis,omitempty"`
	// BidderStatus lists every requested bidder, including the ones which were rejected before dispatch.
	BidderStatus []*ExtBidderStatus `json:"bidderstatus,omitempty"`
}

// ExtResponseDebug defines the contract for bidresponse.ext.debug
type ExtResponseDebug struct {
	// HttpCalls defines the contract for bidresponse.ext.debug.httpcalls
	HttpCalls map[BidderName][]*ExtHttpCall `json:"httpcalls,omitempty"`
	// Request after defaults were applied
	ResolvedRequest json.RawMessage `json:"resolvedrequest,omitempty"`
}

// ExtBidderError defines an error object to be returned, consiting of a machine readable error code, and a human readable error message string.
type ExtBidderError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ExtBidderStatus defines the contract for bidresponse.ext.bidderstatus[i]
type ExtBidderStatus struct {
	Bidder       BidderName `json:"bidder"`
	ResponseTime int        `json:"responsetime_ms,omitempty"`
	NumBids      int        `json:"num_bids,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// ExtHttpCall defines the contract for a bidresponse.ext.debug.httpcalls.{bidder}[i]
type ExtHttpCall struct {
	Uri          string `json:"uri"`
	RequestBody  string `json:"requestbody"`
	ResponseBody string `json:"responsebody"`
	Status       int    `json:"status"`
}
