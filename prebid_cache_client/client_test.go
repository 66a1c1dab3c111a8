package prebid_cache_client

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/pbsmetrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type response struct {
	Responses []responseObject `json:"responses"`
}

type responseObject struct {
	UUID string `json:"uuid"`
}

// Prevents #197
func TestEmptyPut(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("The server should not be called.")
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	metricsMock := &pbsmetrics.MetricsEngineMock{}

	client := &clientImpl{
		httpClient: server.Client(),
		putUrl:     server.URL,
		metrics:    metricsMock,
	}
	ids, err := client.PutJson(context.Background(), nil)
	assert.NoError(t, err)
	assert.Len(t, ids, 0)
	ids, err = client.PutJson(context.Background(), []Cacheable{})
	assert.NoError(t, err)
	assert.Len(t, ids, 0)

	metricsMock.AssertNotCalled(t, "RecordPrebidCacheRequestTime")
}

func TestBadResponse(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	metricsMock := &pbsmetrics.MetricsEngineMock{}
	metricsMock.On("RecordPrebidCacheRequestTime", true, mock.Anything).Once()

	client := &clientImpl{
		httpClient: server.Client(),
		putUrl:     server.URL,
		metrics:    metricsMock,
	}
	ids, err := client.PutJson(context.Background(), []Cacheable{
		{
			Type: TypeJSON,
			Data: json.RawMessage("true"),
		}, {
			Type: TypeJSON,
			Data: json.RawMessage("false"),
		},
	})
	assert.Error(t, err)
	assert.Nil(t, ids)

	metricsMock.AssertExpectations(t)
}

func TestMalformedResponse(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"responses":[{"uuid":"a"},{"nope":"b"}]}`))
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	metricsMock := &pbsmetrics.MetricsEngineMock{}
	metricsMock.On("RecordPrebidCacheRequestTime", true, mock.Anything).Once()

	client := &clientImpl{
		httpClient: server.Client(),
		putUrl:     server.URL,
		metrics:    metricsMock,
	}
	ids, err := client.PutJson(context.Background(), []Cacheable{
		{Type: TypeJSON, Data: json.RawMessage("1")},
		{Type: TypeJSON, Data: json.RawMessage("2")},
	})
	assert.Error(t, err)
	assert.Nil(t, ids)
}

func TestMissingIDs(t *testing.T) {
	server := httptest.NewServer(newHandler(1))
	defer server.Close()

	metricsMock := &pbsmetrics.MetricsEngineMock{}
	metricsMock.On("RecordPrebidCacheRequestTime", true, mock.Anything).Once()

	client := &clientImpl{
		httpClient: server.Client(),
		putUrl:     server.URL,
		metrics:    metricsMock,
	}
	ids, err := client.PutJson(context.Background(), []Cacheable{
		{Type: TypeJSON, Data: json.RawMessage("1")},
		{Type: TypeJSON, Data: json.RawMessage("2")},
	})
	assert.EqualError(t, err, "Prebid Cache returned 1 ids for 2 values")
	assert.Nil(t, ids)
}

func TestCancelledContext(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	metricsMock := &pbsmetrics.MetricsEngineMock{}
	metricsMock.On("RecordPrebidCacheRequestTime", false, mock.Anything).Once()

	client := &clientImpl{
		httpClient: server.Client(),
		putUrl:     server.URL,
		metrics:    metricsMock,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ids, err := client.PutJson(ctx, []Cacheable{{
		Type: TypeJSON,
		Data: json.RawMessage("true"),
	},
	})
	assert.Error(t, err)
	assert.Nil(t, ids)

	metricsMock.AssertExpectations(t)
}

func TestExpiredContext(t *testing.T) {
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	server := httptest.NewServer(handler)
	defer server.Close()
	defer close(release)

	metricsMock := &pbsmetrics.MetricsEngineMock{}
	metricsMock.On("RecordPrebidCacheRequestTime", false, mock.Anything).Once()

	client := &clientImpl{
		httpClient: server.Client(),
		putUrl:     server.URL,
		metrics:    metricsMock,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	ids, err := client.PutJson(ctx, []Cacheable{{Type: TypeXML, Data: json.RawMessage(`"<VAST></VAST>"`)}})
	assert.Nil(t, ids)
	assert.IsType(t, &errortypes.Timeout{}, err)

	metricsMock.AssertExpectations(t)
}

func TestSuccessfulPut(t *testing.T) {
	var received []byte
	handler := newHandler(2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = ioutil.ReadAll(r.Body)
		handler(w, r)
	}))
	defer server.Close()

	metricsMock := &pbsmetrics.MetricsEngineMock{}
	metricsMock.On("RecordPrebidCacheRequestTime", true, mock.Anything).Once()

	client := &clientImpl{
		httpClient: server.Client(),
		putUrl:     server.URL,
		metrics:    metricsMock,
	}

	ids, err := client.PutJson(context.Background(), []Cacheable{
		{
			Type:       TypeJSON,
			Data:       json.RawMessage("true"),
			TTLSeconds: 300,
		}, {
			Type: TypeXML,
			Data: json.RawMessage(`"<VAST></VAST>"`),
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, ids)
	assert.JSONEq(t, `{"puts":[{"type":"json","ttlseconds":300,"value":true},{"type":"xml","value":"<VAST></VAST>"}]}`, string(received))

	metricsMock.AssertExpectations(t)
}

func TestEncodeValueToBuffer(t *testing.T) {
	buf := new(bytes.Buffer)
	testCache := Cacheable{
		Type:       TypeJSON,
		Data:       json.RawMessage(`{}`),
		TTLSeconds: 300,
	}
	expected := string(`{"type":"json","ttlseconds":300,"value":{}}`)
	_ = encodeValueToBuffer(testCache, false, buf)
	assert.Equal(t, expected, buf.String())
}

func TestEncodeEmptyValue(t *testing.T) {
	_, err := encodeValues([]Cacheable{{Type: TypeJSON}})
	assert.Error(t, err)
}

func TestNewClientURL(t *testing.T) {
	client := NewClient(http.DefaultClient, &config.Cache{Scheme: "https", Host: "cache.example.com", Query: "uuid=%PBS_CACHE_UUID%"}, &pbsmetrics.MetricsEngineMock{})
	assert.Equal(t, "https://cache.example.com/cache", client.(*clientImpl).putUrl)

	client = NewClient(http.DefaultClient, &config.Cache{Scheme: "http", Host: "localhost:2424"}, &pbsmetrics.MetricsEngineMock{})
	assert.Equal(t, "http://localhost:2424/cache", client.(*clientImpl).putUrl)
}

func newHandler(numResponses int) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := response{
			Responses: make([]responseObject, numResponses),
		}
		for i := 0; i < numResponses; i++ {
			resp.Responses[i].UUID = strconv.Itoa(i)
		}

		respBytes, _ := json.Marshal(resp)
		w.Write(respBytes)
	})
}
