package router

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/didip/tollbooth"
	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/prebid/prebid-exchange/adapters"
	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/endpoints"
	infoEndpoints "github.com/prebid/prebid-exchange/endpoints/info"
	"github.com/prebid/prebid-exchange/endpoints/openrtb2"
	"github.com/prebid/prebid-exchange/exchange"
	"github.com/prebid/prebid-exchange/openrtb_ext"
	metricsConf "github.com/prebid/prebid-exchange/pbsmetrics/config"
	pbc "github.com/prebid/prebid-exchange/prebid_cache_client"
	accountsConf "github.com/prebid/prebid-exchange/stored_accounts/config"
)

// NewJsonDirectoryServer is used to serve .json files from a directory as a single blob. For example,
// given a directory containing the files "a.json" and "b.json", this returns a Handle which serves JSON like:
//
// {
//   "a": { ... content from the file a.json ... },
//   "b": { ... content from the file b.json ... }
// }
//
// This function stores the file contents in memory, and should not be used on large directories.
// If the root directory, or any of the files in it, cannot be read, then the program will exit.
func NewJsonDirectoryServer(schemaDirectory string, validator openrtb_ext.BidderParamValidator) httprouter.Handle {
	// Slurp the files into memory first, since they're small and it minimizes request latency.
	files, err := ioutil.ReadDir(schemaDirectory)
	if err != nil {
		glog.Fatalf("Failed to read directory %s: %v", schemaDirectory, err)
	}

	data := make(map[string]json.RawMessage, len(files))
	for _, file := range files {
		bidder := strings.TrimSuffix(file.Name(), ".json")
		bidderName, isValid := openrtb_ext.GetBidderName(bidder)
		if !isValid {
			glog.Fatalf("Schema exists for an unknown bidder: %s", bidder)
		}
		data[bidder] = json.RawMessage(validator.Schema(bidderName))
	}
	response, err := json.Marshal(data)
	if err != nil {
		glog.Fatalf("Failed to marshal bidder param JSON-schema: %v", err)
	}

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Add("Content-Type", "application/json")
		w.Write(response)
	}
}

type NoCache struct {
	Handler http.Handler
}

func (m NoCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Add("Pragma", "no-cache")
	w.Header().Add("Expires", "0")
	m.Handler.ServeHTTP(w, r)
}

type Router struct {
	*httprouter.Router
	MetricsEngine   *metricsConf.DetailedMetricsEngine
	ParamsValidator openrtb_ext.BidderParamValidator
	Shutdown        func()
}

// New builds every collaborator of the auction from the host config, and routes requests to them.
func New(cfg *config.Configuration) (r *Router, err error) {
	const schemaDirectory = "./static/bidder-params"
	const infoDirectory = "./static/bidder-info"

	return newRouter(cfg, schemaDirectory, infoDirectory)
}

func newRouter(cfg *config.Configuration, schemaDirectory string, infoDirectory string) (r *Router, err error) {
	r = &Router{
		Router: httprouter.New(),
	}

	theClient := &http.Client{
		Transport: newTransport(&cfg.Client),
	}

	r.MetricsEngine = metricsConf.NewMetricsEngine(cfg, openrtb_ext.BidderList())
	accounts, shutdown := accountsConf.NewAccountFetcher(&cfg.Accounts, r.MetricsEngine)
	r.Shutdown = shutdown

	r.ParamsValidator, err = openrtb_ext.NewBidderParamsValidator(schemaDirectory)
	if err != nil {
		glog.Fatalf("Failed to create the bidder params validator. %v", err)
	}

	bidderInfos, err := adapters.LoadBidderInfo(infoDirectory, openrtb_ext.BidderList())
	if err != nil {
		glog.Fatal(err)
	}

	cacheClient := pbc.NewClient(theClient, &cfg.CacheURL, r.MetricsEngine)
	theExchange := exchange.NewExchange(theClient, cacheClient, cfg, r.MetricsEngine, bidderInfos)
	disabledBidders := exchange.DisabledBidders(cfg)

	openrtbEndpoint, err := openrtb2.NewEndpoint(theExchange, r.ParamsValidator, accounts, cfg, r.MetricsEngine)
	if err != nil {
		glog.Fatalf("Failed to create the openrtb endpoint handler. %v", err)
	}

	r.POST("/openrtb2/auction", limitRate(cfg.RateLimit, openrtbEndpoint))
	r.GET("/info/bidders", infoEndpoints.NewBiddersEndpoint(disabledBidders))
	r.GET("/info/bidders/:bidderName", infoEndpoints.NewBidderDetailsEndpoint(bidderInfos, disabledBidders))
	r.GET("/bidders/params", NewJsonDirectoryServer(schemaDirectory, r.ParamsValidator))
	r.GET("/status", endpoints.NewStatusEndpoint(cfg.StatusResponse))

	return r, nil
}

func newTransport(cfg *config.HTTPClient) *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     time.Duration(cfg.IdleConnTimeout) * time.Second,
	}
}

// limitRate caps the requests per second each client may send to the handle.
// Clients over the limit get a 429.
func limitRate(cfg config.RateLimit, handle httprouter.Handle) httprouter.Handle {
	if !cfg.Enabled {
		return handle
	}

	limited := tollbooth.LimitHandler(tollbooth.NewLimiter(cfg.RequestsPerSecond, nil), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle(w, r, nil)
	}))
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		limited.ServeHTTP(w, r)
	}
}

// Admin serves the profiling and version endpoints on the admin port.
func Admin(version, revision string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/version", endpoints.NewVersionEndpoint(version, revision))
	return mux
}

// SupportCORS wraps the handler so that browsers on any origin can call it with credentials.
//
// This echoes the caller's Origin back, rather than using "*", because browsers refuse wildcard
// origins on credentialed requests. PBS doesn't use cookies for authorization, so this is safe.
//
// For more info, see:
//
// - https://github.com/rs/cors/issues/55
// - https://developer.mozilla.org/en-US/docs/Web/HTTP/CORS/Errors/CORSNotSupportingCredentials
func SupportCORS(handler http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowCredentials: true,
		AllowOriginFunc: func(string) bool {
			return true
		},
		AllowedHeaders: []string{"Origin", "X-Requested-With", "Content-Type", "Accept"}})
	return c.Handler(handler)
}
