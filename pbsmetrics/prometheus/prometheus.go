package prometheusmetrics

import (
	"strconv"
	"time"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/openrtb_ext"
	"github.com/prebid/prebid-exchange/pbsmetrics"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics defines the Prometheus metrics backing the MetricsEngine implementation.
type Metrics struct {
	Registry      *prometheus.Registry
	connCounter   prometheus.Gauge
	connError     *prometheus.CounterVec
	imps          *prometheus.CounterVec
	requests      *prometheus.CounterVec
	reqTimer      *prometheus.HistogramVec
	adaptRequests *prometheus.CounterVec
	adaptErrors   *prometheus.CounterVec
	adaptTimer    *prometheus.HistogramVec
	adaptBids     *prometheus.CounterVec
	adaptPrices   *prometheus.HistogramVec
	cacheTimer    *prometheus.HistogramVec
	accountCache  *prometheus.CounterVec
}

// NewMetrics registers every Prometheus metric on the given registry.
func NewMetrics(cfg config.PrometheusMetrics, registry *prometheus.Registry) *Metrics {
	// define the buckets for timers
	timerBuckets := prometheus.LinearBuckets(0.05, 0.05, 20)
	timerBuckets = append(timerBuckets, []float64{1.5, 2.0, 3.0, 5.0, 10.0, 50.0}...)

	standardLabelNames := []string{"source", "type", "pubid", "browser", "status"}

	adapterLabelNames := []string{"source", "type", "pubid", "browser", "adapter_bids", "adapter"}
	bidLabelNames := []string{"source", "type", "pubid", "browser", "adapter_bids", "adapter", "bidtype", "hasadm"}
	errorLabelNames := []string{"adapter", "adapter_error"}

	metrics := Metrics{Registry: registry}
	metrics.connCounter = newConnCounter(cfg)
	registry.MustRegister(metrics.connCounter)
	metrics.connError = newCounter(cfg, "active_connections_total",
		"Errors reported on the connections coming in.",
		[]string{"ErrorType"},
	)
	registry.MustRegister(metrics.connError)
	metrics.imps = newCounter(cfg, "imps_requested_total",
		"Total number of impressions requested through the exchange.",
		standardLabelNames,
	)
	registry.MustRegister(metrics.imps)
	metrics.requests = newCounter(cfg, "requests_total",
		"Total number of requests made to the exchange.",
		standardLabelNames,
	)
	registry.MustRegister(metrics.requests)
	metrics.reqTimer = newHistogram(cfg, "request_time_seconds",
		"Seconds to resolve each auction.",
		standardLabelNames, timerBuckets,
	)
	registry.MustRegister(metrics.reqTimer)
	metrics.adaptRequests = newCounter(cfg, "adapter_requests_total",
		"Number of requests sent out to each bidder.",
		adapterLabelNames,
	)
	registry.MustRegister(metrics.adaptRequests)
	metrics.adaptErrors = newCounter(cfg, "adapter_errors_total",
		"Number of unique error types seen in each request to a bidder.",
		errorLabelNames,
	)
	registry.MustRegister(metrics.adaptErrors)
	metrics.adaptTimer = newHistogram(cfg, "adapter_time_seconds",
		"Seconds to resolve each request to a bidder.",
		adapterLabelNames, timerBuckets,
	)
	registry.MustRegister(metrics.adaptTimer)
	metrics.adaptBids = newCounter(cfg, "adapter_bids_received_total",
		"Number of bids received from each bidder.",
		bidLabelNames,
	)
	registry.MustRegister(metrics.adaptBids)
	metrics.adaptPrices = newHistogram(cfg, "adapter_prices",
		"Value of the bids from each bidder.",
		adapterLabelNames, prometheus.LinearBuckets(0.1, 0.1, 200),
	)
	registry.MustRegister(metrics.adaptPrices)
	metrics.cacheTimer = newHistogram(cfg, "prebid_cache_request_time_seconds",
		"Seconds to store bids in the cache.",
		[]string{"success"}, timerBuckets,
	)
	registry.MustRegister(metrics.cacheTimer)
	metrics.accountCache = newCounter(cfg, "account_cache_performance",
		"Number of account cache hits and misses.",
		[]string{"cache_result"},
	)
	registry.MustRegister(metrics.accountCache)

	return &metrics
}

func newConnCounter(cfg config.PrometheusMetrics) prometheus.Gauge {
	opts := prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "active_connections",
		Help:      "Current number of active (open) connections.",
	}
	return prometheus.NewGauge(opts)
}

func newCounter(cfg config.PrometheusMetrics, name string, help string, labels []string) *prometheus.CounterVec {
	opts := prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      name,
		Help:      help,
	}
	return prometheus.NewCounterVec(opts, labels)
}

func newHistogram(cfg config.PrometheusMetrics, name string, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	opts := prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}
	return prometheus.NewHistogramVec(opts, labels)
}

func (me *Metrics) RecordConnectionAccept(success bool) {
	if success {
		me.connCounter.Inc()
	} else {
		me.connError.WithLabelValues("accept_error").Inc()
	}
}

func (me *Metrics) RecordConnectionClose(success bool) {
	if success {
		me.connCounter.Dec()
	} else {
		me.connError.WithLabelValues("close_error").Inc()
	}
}

func (me *Metrics) RecordRequest(labels pbsmetrics.Labels) {
	me.requests.With(resolveLabels(labels)).Inc()
}

func (me *Metrics) RecordImps(labels pbsmetrics.Labels, numImps int) {
	me.imps.With(resolveLabels(labels)).Add(float64(numImps))
}

func (me *Metrics) RecordRequestTime(labels pbsmetrics.Labels, length time.Duration) {
	time := float64(length) / float64(time.Second)
	me.reqTimer.With(resolveLabels(labels)).Observe(time)
}

func (me *Metrics) RecordAdapterRequest(labels pbsmetrics.AdapterLabels) {
	me.adaptRequests.With(resolveAdapterLabels(labels)).Inc()
	for k := range labels.AdapterErrors {
		me.adaptErrors.With(resolveAdapterErrorLabels(labels, string(k))).Inc()
	}
}

func (me *Metrics) RecordAdapterBidReceived(labels pbsmetrics.AdapterLabels, bidType openrtb_ext.BidType, hasAdm bool) {
	me.adaptBids.With(resolveBidLabels(labels, bidType, hasAdm)).Inc()
}

func (me *Metrics) RecordAdapterPrice(labels pbsmetrics.AdapterLabels, cpm float64) {
	me.adaptPrices.With(resolveAdapterLabels(labels)).Observe(cpm)
}

func (me *Metrics) RecordAdapterTime(labels pbsmetrics.AdapterLabels, length time.Duration) {
	time := float64(length) / float64(time.Second)
	me.adaptTimer.With(resolveAdapterLabels(labels)).Observe(time)
}

func (me *Metrics) RecordPrebidCacheRequestTime(success bool, length time.Duration) {
	me.cacheTimer.WithLabelValues(strconv.FormatBool(success)).Observe(float64(length) / float64(time.Second))
}

func (me *Metrics) RecordAccountCacheResult(cacheResult pbsmetrics.CacheResult, inc int) {
	me.accountCache.WithLabelValues(string(cacheResult)).Add(float64(inc))
}

func resolveLabels(labels pbsmetrics.Labels) prometheus.Labels {
	return prometheus.Labels{
		"source":  string(labels.Source),
		"type":    string(labels.RType),
		"pubid":   labels.PubID,
		"browser": string(labels.Browser),
		"status":  string(labels.RequestStatus),
	}
}

func resolveAdapterLabels(labels pbsmetrics.AdapterLabels) prometheus.Labels {
	return prometheus.Labels{
		"source":       string(labels.Source),
		"type":         string(labels.RType),
		"pubid":        labels.PubID,
		"browser":      string(labels.Browser),
		"adapter_bids": string(labels.AdapterBids),
		"adapter":      string(labels.Adapter),
	}
}

func resolveBidLabels(labels pbsmetrics.AdapterLabels, bidType openrtb_ext.BidType, hasAdm bool) prometheus.Labels {
	bidLabels := resolveAdapterLabels(labels)
	bidLabels["bidtype"] = string(bidType)
	bidLabels["hasadm"] = strconv.FormatBool(hasAdm)
	return bidLabels
}

func resolveAdapterErrorLabels(labels pbsmetrics.AdapterLabels, errorType string) prometheus.Labels {
	return prometheus.Labels{
		"adapter":       string(labels.Adapter),
		"adapter_error": errorType,
	}
}
