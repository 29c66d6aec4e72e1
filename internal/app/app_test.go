package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"civicmatch/internal/config"
	"civicmatch/internal/match"
	"civicmatch/internal/matching"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Stub.Latency = 0
	cfg.Matching.InterItemDelay = 0
	cfg.Matching.MaxConcerns = 3

	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestNewDefaultsToStubAndMemoryCache(t *testing.T) {
	a := newTestApp(t)
	require.Equal(t, "stub", a.Provider.Name())
	require.Equal(t, "memory", a.Cache.Name())
	require.Nil(t, a.Store)
	require.Len(t, a.Catalog.Categories, 10)
}

func TestNewRejectsUnknownMode(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = "telepathy"
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestHealthAndReady(t *testing.T) {
	h := newTestApp(t).Handler()
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMatchEndpoint(t *testing.T) {
	h := newTestApp(t).Handler()

	rec := post(t, h, "/v1/match", `{"user_input":"air pollution near the school","location_hint":"02139"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp match.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Matches, 1)
	require.Equal(t, "climate-environment", resp.Matches[0].ID)
	require.Equal(t, "stub", resp.Metadata["provider"])
	require.NotEmpty(t, resp.Metadata["request_id"])

	rec = post(t, h, "/v1/match", `{"user_input":"  "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, matching.ErrInvalidInput.Error(), errorOf(t, rec))

	rec = post(t, h, "/v1/match", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid request body", errorOf(t, rec))
}

func TestRefineEndpointExcludesRejected(t *testing.T) {
	h := newTestApp(t).Handler()
	rec := post(t, h, "/v1/refine", `{"original_input":"climate and health care","rejected_ids":["climate-environment"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp match.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Matches, 1)
	require.Equal(t, "healthcare-access", resp.Matches[0].ID)
}

func TestConcernsEndpoint(t *testing.T) {
	h := newTestApp(t).Handler()

	rec := post(t, h, "/v1/concerns", `{"concerns":["medical bills","college tuition"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Responses   []match.Response `json:"responses"`
		Confidences []*int           `json:"confidences"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Responses, 2)
	require.Equal(t, "healthcare-access", out.Responses[0].Matches[0].ID)
	require.Equal(t, "education-support", out.Responses[1].Matches[0].ID)
	require.Len(t, out.Confidences, 2)

	rec = post(t, h, "/v1/concerns", `{"concerns":["a","b","c","d"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, errorOf(t, rec), "between 1 and 3")

	rec = post(t, h, "/v1/concerns", `{"concerns":["roads",""]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackEndpoint(t *testing.T) {
	h := newTestApp(t).Handler()

	rec := post(t, h, "/v1/feedback", `{"request_id":"r1","match_id":"climate-environment","kind":"accepted"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = post(t, h, "/v1/feedback", `{"match_id":"climate-environment","kind":"loved"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) MatchPolicies(context.Context, match.Request) (match.Response, error) {
	return match.Response{}, errors.New("dial tcp 10.1.2.3:8000: connection refused")
}

func (failingProvider) RefinePolicies(context.Context, match.Refinement) (match.Response, error) {
	return match.Response{}, errors.New("dial tcp 10.1.2.3:8000: connection refused")
}

func TestProviderFailureIsGeneric(t *testing.T) {
	a := newTestApp(t)
	a.Service = matching.NewService(failingProvider{}, matching.WithInterItemDelay(0))
	h := a.Handler()

	cases := []struct {
		path string
		body string
		want string
	}{
		{"/v1/match", `{"user_input":"rent"}`, matching.ErrMatchFailed.Error()},
		{"/v1/refine", `{"original_input":"rent","rejected_ids":["x"]}`, matching.ErrRefineFailed.Error()},
		{"/v1/concerns", `{"concerns":["rent"]}`, matching.ErrMatchFailed.Error()},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rec := post(t, h, tc.path, tc.body)
			require.Equal(t, http.StatusBadGateway, rec.Code)
			require.Equal(t, tc.want, errorOf(t, rec))
			require.False(t, bytes.Contains(rec.Body.Bytes(), []byte("10.1.2.3")))
		})
	}
}
