package pbsmetrics

import (
	"testing"
	"time"

	"github.com/prebid/prebid-exchange/openrtb_ext"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics(t *testing.T) {
	registry := metrics.NewRegistry()
	m := NewMetrics(registry, []openrtb_ext.BidderName{openrtb_ext.BidderAppnexus, openrtb_ext.BidderAudienceNetwork})

	ensureContains(t, registry, "app_requests", m.AppRequestMeter)
	ensureContains(t, registry, "safari_requests", m.SafariRequestMeter)
	ensureContains(t, registry, "request_time", m.RequestTimer)
	ensureContains(t, registry, "imps_requested", m.ImpMeter)
	ensureContainsAdapterMetrics(t, registry, "adapter.appnexus", m.AdapterMetrics["appnexus"])
	ensureContainsAdapterMetrics(t, registry, "adapter.audienceNetwork", m.AdapterMetrics["audienceNetwork"])
	ensureContains(t, registry, "prebid_cache_request_time.ok", m.PrebidCacheRequestTimerSuccess)
	ensureContains(t, registry, "prebid_cache_request_time.err", m.PrebidCacheRequestTimerError)
	ensureContains(t, registry, "account_cache_requests.hit", m.AccountCacheMeter[CacheHit])
	ensureContains(t, registry, "account_cache_requests.miss", m.AccountCacheMeter[CacheMiss])

	ensureContains(t, registry, "requests.ok.openrtb2-web", m.RequestStatuses[ReqTypeORTB2Web][RequestStatusOK])
	ensureContains(t, registry, "requests.badinput.openrtb2-web", m.RequestStatuses[ReqTypeORTB2Web][RequestStatusBadInput])
	ensureContains(t, registry, "requests.err.openrtb2-web", m.RequestStatuses[ReqTypeORTB2Web][RequestStatusErr])
	ensureContains(t, registry, "requests.networkerr.openrtb2-web", m.RequestStatuses[ReqTypeORTB2Web][RequestStatusNetworkErr])
	ensureContains(t, registry, "requests.ok.openrtb2-app", m.RequestStatuses[ReqTypeORTB2App][RequestStatusOK])
	ensureContains(t, registry, "requests.badinput.openrtb2-app", m.RequestStatuses[ReqTypeORTB2App][RequestStatusBadInput])
	ensureContains(t, registry, "requests.err.openrtb2-app", m.RequestStatuses[ReqTypeORTB2App][RequestStatusErr])
	ensureContains(t, registry, "requests.networkerr.openrtb2-app", m.RequestStatuses[ReqTypeORTB2App][RequestStatusNetworkErr])
}

func TestRecordBidType(t *testing.T) {
	registry := metrics.NewRegistry()
	m := NewMetrics(registry, []openrtb_ext.BidderName{openrtb_ext.BidderAppnexus})

	m.RecordAdapterBidReceived(AdapterLabels{
		Adapter: openrtb_ext.BidderAppnexus,
	}, openrtb_ext.BidTypeBanner, true)
	VerifyMetrics(t, "Appnexus Banner Adm Bids", m.AdapterMetrics[openrtb_ext.BidderAppnexus].MarkupMetrics[openrtb_ext.BidTypeBanner].AdmMeter.Count(), 1)
	VerifyMetrics(t, "Appnexus Banner Nurl Bids", m.AdapterMetrics[openrtb_ext.BidderAppnexus].MarkupMetrics[openrtb_ext.BidTypeBanner].NurlMeter.Count(), 0)

	m.RecordAdapterBidReceived(AdapterLabels{
		Adapter: openrtb_ext.BidderAppnexus,
	}, openrtb_ext.BidTypeVideo, false)
	VerifyMetrics(t, "Appnexus Video Adm Bids", m.AdapterMetrics[openrtb_ext.BidderAppnexus].MarkupMetrics[openrtb_ext.BidTypeVideo].AdmMeter.Count(), 0)
	VerifyMetrics(t, "Appnexus Video Nurl Bids", m.AdapterMetrics[openrtb_ext.BidderAppnexus].MarkupMetrics[openrtb_ext.BidTypeVideo].NurlMeter.Count(), 1)
}

func TestRecordAdapterRequest(t *testing.T) {
	registry := metrics.NewRegistry()
	m := NewMetrics(registry, []openrtb_ext.BidderName{openrtb_ext.BidderAppnexus})

	m.RecordAdapterRequest(AdapterLabels{
		Adapter:     openrtb_ext.BidderAppnexus,
		PubID:       "acct-id",
		AdapterBids: AdapterBidNone,
		AdapterErrors: map[AdapterError]struct{}{
			AdapterErrorTimeout: {},
		},
	})
	m.RecordAdapterRequest(AdapterLabels{
		Adapter:     openrtb_ext.BidderAppnexus,
		AdapterBids: AdapterBidPresent,
	})

	am := m.AdapterMetrics[openrtb_ext.BidderAppnexus]
	assert.Equal(t, int64(2), am.RequestMeter.Count())
	assert.Equal(t, int64(1), am.NoBidMeter.Count())
	assert.Equal(t, int64(1), am.ErrorMeters[AdapterErrorTimeout].Count())
	assert.Equal(t, int64(0), am.ErrorMeters[AdapterErrorBadInput].Count())
	assert.Equal(t, int64(1), m.accountMetrics["acct-id"].adapterMetrics[openrtb_ext.BidderAppnexus].RequestMeter.Count())
}

func TestRecordUnknownAdapterIsIgnored(t *testing.T) {
	registry := metrics.NewRegistry()
	m := NewMetrics(registry, []openrtb_ext.BidderName{openrtb_ext.BidderAppnexus})

	assert.NotPanics(t, func() {
		m.RecordAdapterRequest(AdapterLabels{Adapter: "unknown"})
		m.RecordAdapterPrice(AdapterLabels{Adapter: "unknown"}, 1)
		m.RecordAdapterTime(AdapterLabels{Adapter: "unknown"}, time.Second)
		m.RecordAdapterBidReceived(AdapterLabels{Adapter: "unknown"}, openrtb_ext.BidTypeBanner, true)
	})
}

func TestRecordRequest(t *testing.T) {
	registry := metrics.NewRegistry()
	m := NewMetrics(registry, []openrtb_ext.BidderName{openrtb_ext.BidderAppnexus})

	m.RecordRequest(Labels{Source: DemandWeb, RType: ReqTypeORTB2Web, Browser: BrowserSafari, RequestStatus: RequestStatusOK, PubID: "acct-id"})
	m.RecordRequest(Labels{Source: DemandApp, RType: ReqTypeORTB2App, Browser: BrowserOther, RequestStatus: RequestStatusBadInput})

	assert.Equal(t, int64(1), m.RequestStatuses[ReqTypeORTB2Web][RequestStatusOK].Count())
	assert.Equal(t, int64(1), m.RequestStatuses[ReqTypeORTB2App][RequestStatusBadInput].Count())
	assert.Equal(t, int64(1), m.SafariRequestMeter.Count())
	assert.Equal(t, int64(1), m.AppRequestMeter.Count())
	assert.Equal(t, int64(1), m.accountMetrics["acct-id"].requestMeter.Count())
}

func TestRecordConnections(t *testing.T) {
	registry := metrics.NewRegistry()
	m := NewMetrics(registry, nil)

	m.RecordConnectionAccept(true)
	m.RecordConnectionAccept(true)
	m.RecordConnectionClose(true)
	m.RecordConnectionAccept(false)
	m.RecordConnectionClose(false)

	assert.Equal(t, int64(1), m.ConnectionCounter.Count())
	assert.Equal(t, int64(1), m.ConnectionAcceptErrorMeter.Count())
	assert.Equal(t, int64(1), m.ConnectionCloseErrorMeter.Count())
}

func TestRecordPrebidCacheRequestTimeWithSuccess(t *testing.T) {
	registry := metrics.NewRegistry()
	m := NewMetrics(registry, []openrtb_ext.BidderName{openrtb_ext.BidderAppnexus})

	m.RecordPrebidCacheRequestTime(true, 42)

	assert.Equal(t, m.PrebidCacheRequestTimerSuccess.Count(), int64(1))
	assert.Equal(t, m.PrebidCacheRequestTimerError.Count(), int64(0))
}

func TestRecordPrebidCacheRequestTimeWithNotSuccess(t *testing.T) {
	registry := metrics.NewRegistry()
	m := NewMetrics(registry, []openrtb_ext.BidderName{openrtb_ext.BidderAppnexus})

	m.RecordPrebidCacheRequestTime(false, 42)

	assert.Equal(t, m.PrebidCacheRequestTimerSuccess.Count(), int64(0))
	assert.Equal(t, m.PrebidCacheRequestTimerError.Count(), int64(1))
}

func TestRecordAccountCacheResult(t *testing.T) {
	registry := metrics.NewRegistry()
	m := NewMetrics(registry, nil)

	m.RecordAccountCacheResult(CacheHit, 2)
	m.RecordAccountCacheResult(CacheMiss, 1)

	assert.Equal(t, int64(2), m.AccountCacheMeter[CacheHit].Count())
	assert.Equal(t, int64(1), m.AccountCacheMeter[CacheMiss].Count())
}

func ensureContains(t *testing.T, registry metrics.Registry, name string, metric interface{}) {
	t.Helper()
	if inRegistry := registry.Get(name); inRegistry == nil {
		t.Errorf("No metric in registry at %s.", name)
	} else if inRegistry != metric {
		t.Errorf("Bad value stored at metric %s.", name)
	}
}

func ensureContainsAdapterMetrics(t *testing.T, registry metrics.Registry, name string, adapterMetrics *AdapterMetrics) {
	t.Helper()
	ensureContains(t, registry, name+".no_bid_requests", adapterMetrics.NoBidMeter)
	ensureContains(t, registry, name+".requests", adapterMetrics.RequestMeter)
	ensureContains(t, registry, name+".requests.badinput", adapterMetrics.ErrorMeters[AdapterErrorBadInput])
	ensureContains(t, registry, name+".requests.badserverresponse", adapterMetrics.ErrorMeters[AdapterErrorBadServerResponse])
	ensureContains(t, registry, name+".requests.timeout", adapterMetrics.ErrorMeters[AdapterErrorTimeout])
	ensureContains(t, registry, name+".requests.unknown_error", adapterMetrics.ErrorMeters[AdapterErrorUnknown])

	ensureContains(t, registry, name+".request_time", adapterMetrics.RequestTimer)
	ensureContains(t, registry, name+".prices", adapterMetrics.PriceHistogram)
	ensureContainsBidTypeMetrics(t, registry, name, adapterMetrics.MarkupMetrics)
}

func ensureContainsBidTypeMetrics(t *testing.T, registry metrics.Registry, prefix string, mdm map[openrtb_ext.BidType]*MarkupDeliveryMetrics) {
	t.Helper()
	ensureContains(t, registry, prefix+".banner.adm_bids_received", mdm[openrtb_ext.BidTypeBanner].AdmMeter)
	ensureContains(t, registry, prefix+".banner.nurl_bids_received", mdm[openrtb_ext.BidTypeBanner].NurlMeter)
	ensureContains(t, registry, prefix+".video.adm_bids_received", mdm[openrtb_ext.BidTypeVideo].AdmMeter)
	ensureContains(t, registry, prefix+".video.nurl_bids_received", mdm[openrtb_ext.BidTypeVideo].NurlMeter)
	ensureContains(t, registry, prefix+".audio.adm_bids_received", mdm[openrtb_ext.BidTypeAudio].AdmMeter)
	ensureContains(t, registry, prefix+".audio.nurl_bids_received", mdm[openrtb_ext.BidTypeAudio].NurlMeter)
	ensureContains(t, registry, prefix+".native.adm_bids_received", mdm[openrtb_ext.BidTypeNative].AdmMeter)
	ensureContains(t, registry, prefix+".native.nurl_bids_received", mdm[openrtb_ext.BidTypeNative].NurlMeter)
}

func VerifyMetrics(t *testing.T, name string, actual int64, expected int64) {
	t.Helper()
	if expected != actual {
		t.Errorf("Error in metric %s: expected %d, got %d.", name, expected, actual)
	}
}
