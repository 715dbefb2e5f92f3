package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jroosing/dnsd/internal/dns"
	"github.com/jroosing/dnsd/internal/name"
	"github.com/jroosing/dnsd/internal/provider"
)

type stubProvider struct {
	zones []name.Name
}

func (s *stubProvider) Zones(_ netip.Addr) []name.Name { return s.zones }
func (s *stubProvider) Response(_ context.Context, req dns.Packet, _ netip.Addr) (dns.Packet, bool) {
	return dns.Packet{Header: dns.Header{ID: req.Header.ID}}, true
}
func (s *stubProvider) Filters() []provider.Filter { return nil }

func testEngine(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)
	r.GET("/providers", h.Providers)
	return r
}

func TestHealth(t *testing.T) {
	h := New(nil, nil, nil)
	r := testEngine(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestProvidersListsRegisteredZones(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.Register(&stubProvider{zones: []name.Name{name.MustParse("example.com")}}))

	h := New(nil, func() *provider.Registry { return reg }, nil)
	r := testEngine(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Providers []struct {
			Kind  string   `json:"kind"`
			Zones []string `json:"zones"`
		} `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Providers, 1)
	assert.Equal(t, []string{"example.com."}, body.Providers[0].Zones)
}

func TestProvidersEmptyWithoutRegistry(t *testing.T) {
	h := New(nil, nil, nil)
	r := testEngine(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"providers":[]}`, w.Body.String())
}

func TestStatsIncludesQueryCounters(t *testing.T) {
	h := New(nil, nil, func() Snapshot {
		return Snapshot{QueriesTotal: 10, QueriesUDP: 7, QueriesTCP: 3, ResponsesNX: 2}
	})
	r := testEngine(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		DNS struct {
			QueriesTotal uint64 `json:"queries_total"`
			QueriesUDP   uint64 `json:"queries_udp"`
			QueriesTCP   uint64 `json:"queries_tcp"`
			ResponsesNX  uint64 `json:"responses_nxdomain"`
		} `json:"dns"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, uint64(10), body.DNS.QueriesTotal)
	assert.Equal(t, uint64(7), body.DNS.QueriesUDP)
	assert.Equal(t, uint64(3), body.DNS.QueriesTCP)
	assert.Equal(t, uint64(2), body.DNS.ResponsesNX)
}
