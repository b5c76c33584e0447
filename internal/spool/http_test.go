package spool

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouterHealthz(t *testing.T) {
	store, err := Open(testConfig(t.TempDir()))
	require.NoError(t, err)
	defer store.Close()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	Router(store).ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRouterAppendAndStatus(t *testing.T) {
	store, err := Open(testConfig(t.TempDir()))
	require.NoError(t, err)
	defer store.Close()

	router := Router(store)

	body, err := json.Marshal(appendRequest{Samples: []Sample{{SensorID: "s1", Value: 1.0}}})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/samples", bytes.NewReader(body))
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var appendResp appendResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &appendResp))
	require.Equal(t, int64(1), appendResp.Accepted)

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var statusResp statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &statusResp))
	require.Equal(t, int64(0), statusResp.NewestOffset)
}

func TestRouterAppendBadJSON(t *testing.T) {
	store, err := Open(testConfig(t.TempDir()))
	require.NoError(t, err)
	defer store.Close()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/samples", bytes.NewReader([]byte("not json")))
	Router(store).ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
