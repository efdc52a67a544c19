package resources

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestEstimate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/estimate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req estimateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.AmountNano != "115000000000" {
			t.Errorf("amount_nano = %q", req.AmountNano)
		}
		_ = json.NewEncoder(w).Encode(estimateResponse{Units: 31000})
	}))
	defer srv.Close()

	m := NewHTTPMarket(srv.URL, "test-key", true, zap.NewNop())
	units, err := m.Estimate(context.Background(), "EQFrom", "EQTo", big.NewInt(115_000_000_000))
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if units != 31000 {
		t.Errorf("units = %d, want 31000", units)
	}
}

func TestRent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Units != 31000 || req.DurationSeconds != 1200 {
			t.Errorf("rent request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(rentResponse{Success: true, CostNano: "250000000"})
	}))
	defer srv.Close()

	m := NewHTTPMarket(srv.URL, "", true, zap.NewNop())
	res, err := m.Rent(context.Background(), "EQWallet", 31000, 20*time.Minute)
	if err != nil {
		t.Fatalf("Rent: %v", err)
	}
	if res.Cost.Int64() != 250_000_000 {
		t.Errorf("cost = %s, want 250000000", res.Cost)
	}
}

func TestRentRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(rentResponse{Success: false, Error: "no capacity"})
	}))
	defer srv.Close()

	m := NewHTTPMarket(srv.URL, "", true, zap.NewNop())
	if _, err := m.Rent(context.Background(), "EQWallet", 1000, time.Minute); err == nil {
		t.Fatal("expected error for rejected rental")
	}
}

func TestMarketErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewHTTPMarket(srv.URL, "", true, zap.NewNop())
	if _, err := m.Estimate(context.Background(), "a", "b", big.NewInt(1)); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestDisabledWithoutURL(t *testing.T) {
	m := NewHTTPMarket("", "", true, zap.NewNop())
	if m.Enabled() {
		t.Error("market with no URL must report disabled")
	}
	m = NewHTTPMarket("http://market", "", false, zap.NewNop())
	if m.Enabled() {
		t.Error("explicitly disabled market must report disabled")
	}
}
