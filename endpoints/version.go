package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/golang/glog"
)

const buildValueNotSet = "not-set"

// buildInfo is the body of /version.
type buildInfo struct {
	Revision string `json:"revision"`
	Version  string `json:"version"`
}

// NewVersionEndpoint reports the release tag and commit the running binary was built from.
// Values the build left empty are reported as "not-set".
func NewVersionEndpoint(version, revision string) http.HandlerFunc {
	body, err := json.Marshal(buildInfo{
		Revision: valueOrNotSet(revision),
		Version:  valueOrNotSet(version),
	})
	if err != nil {
		glog.Fatalf("error creating /version endpoint response: %v", err)
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(body); err != nil {
			glog.Errorf("error writing response to /version: %v", err)
		}
	}
}

func valueOrNotSet(value string) string {
	if value == "" {
		return buildValueNotSet
	}
	return value
}
