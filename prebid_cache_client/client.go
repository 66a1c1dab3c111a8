package prebid_cache_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
	"github.com/golang/glog"
	"golang.org/x/net/context/ctxhttp"

	"github.com/prebid/prebid-exchange/config"
	"github.com/prebid/prebid-exchange/errortypes"
	"github.com/prebid/prebid-exchange/pbsmetrics"
)

// Client stores values in Prebid Cache. For more info, see https://github.com/prebid/prebid-cache
type Client interface {
	// PutJson stores the values in the cache, returning one UUID per value in the same order.
	//
	// The call succeeds or fails as a whole. Creatives reference the returned IDs, so a partial
	// result is reported as an error. A context deadline is reported as an errortypes.Timeout.
	PutJson(ctx context.Context, values []Cacheable) ([]string, error)
}

type PayloadType string

const (
	TypeJSON PayloadType = "json"
	TypeXML  PayloadType = "xml"
)

type Cacheable struct {
	Type       PayloadType
	Data       json.RawMessage
	TTLSeconds int64
}

func NewClient(httpClient *http.Client, conf *config.Cache, metrics pbsmetrics.MetricsEngine) Client {
	return &clientImpl{
		httpClient: httpClient,
		putUrl:     conf.GetBaseURL() + "/cache",
		metrics:    metrics,
	}
}

type clientImpl struct {
	httpClient *http.Client
	putUrl     string
	metrics    pbsmetrics.MetricsEngine
}

func (c *clientImpl) PutJson(ctx context.Context, values []Cacheable) ([]string, error) {
	if len(values) < 1 {
		return nil, nil
	}

	postBody, err := encodeValues(values)
	if err != nil {
		return nil, fmt.Errorf("Error creating JSON for prebid cache: %v", err)
	}

	httpReq, err := http.NewRequest("POST", c.putUrl, bytes.NewReader(postBody))
	if err != nil {
		return nil, fmt.Errorf("Error creating POST request to prebid cache: %v", err)
	}

	httpReq.Header.Add("Content-Type", "application/json;charset=utf-8")
	httpReq.Header.Add("Accept", "application/json")

	startTime := time.Now()
	anResp, err := ctxhttp.Do(ctx, c.httpClient, httpReq)
	elapsedTime := time.Since(startTime)
	if err != nil {
		c.metrics.RecordPrebidCacheRequestTime(false, elapsedTime)
		if err == context.DeadlineExceeded {
			return nil, &errortypes.Timeout{
				Message: fmt.Sprintf("Timed out waiting for Prebid Cache after %v", elapsedTime),
			}
		}
		friendlyErr := fmt.Errorf("Error sending the request to Prebid Cache: %v; Duration=%v", err, elapsedTime)
		glog.Error(friendlyErr)
		return nil, friendlyErr
	}
	defer anResp.Body.Close()
	c.metrics.RecordPrebidCacheRequestTime(true, elapsedTime)

	responseBody, err := ioutil.ReadAll(anResp.Body)
	if err != nil {
		return nil, fmt.Errorf("Error reading the Prebid Cache response: %v", err)
	}
	if anResp.StatusCode != http.StatusOK {
		glog.Errorf("Prebid Cache call to %s returned %d: %s", c.putUrl, anResp.StatusCode, responseBody)
		return nil, fmt.Errorf("Prebid Cache call to %s returned %d: %s", c.putUrl, anResp.StatusCode, responseBody)
	}

	return parseResponse(responseBody, len(values))
}

func parseResponse(responseBody []byte, expected int) ([]string, error) {
	uuids := make([]string, 0, expected)
	var parseErr error
	processResponse := func(uuidObj []byte, _ jsonparser.ValueType, _ int, _ error) {
		if parseErr != nil {
			return
		}
		uuid, err := jsonparser.GetString(uuidObj, "uuid")
		if err != nil {
			parseErr = fmt.Errorf("Prebid Cache returned a bad value at index %d. Error was: %v. Response body was: %s", len(uuids), err, string(responseBody))
			return
		}
		uuids = append(uuids, uuid)
	}

	if _, err := jsonparser.ArrayEach(responseBody, processResponse, "responses"); err != nil {
		return nil, fmt.Errorf("Error interpreting Prebid Cache response: %v\nResponse was: %s", err, string(responseBody))
	}
	if parseErr != nil {
		return nil, parseErr
	}
	if len(uuids) != expected {
		return nil, fmt.Errorf("Prebid Cache returned %d ids for %d values", len(uuids), expected)
	}
	return uuids, nil
}

func encodeValues(values []Cacheable) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"puts":[`)
	for i := 0; i < len(values); i++ {
		if err := encodeValueToBuffer(values[i], i != 0, &buf); err != nil {
			return nil, err
		}
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

func encodeValueToBuffer(value Cacheable, leadingComma bool, buffer *bytes.Buffer) error {
	if len(value.Data) == 0 {
		return fmt.Errorf("cannot cache an empty %s value", value.Type)
	}
	if leadingComma {
		buffer.WriteByte(',')
	}

	buffer.WriteString(`{"type":"`)
	buffer.WriteString(string(value.Type))
	if value.TTLSeconds > 0 {
		buffer.WriteString(`","ttlseconds":`)
		buffer.WriteString(strconv.FormatInt(value.TTLSeconds, 10))
		buffer.WriteString(`,"value":`)
	} else {
		buffer.WriteString(`","value":`)
	}
	buffer.Write(value.Data)
	buffer.WriteByte('}')
	return nil
}
