package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Market is the pay-as-you-go transfer resource provider: estimate how much
// capacity a transfer needs, then rent it for a bounded duration.
type Market interface {
	Enabled() bool
	Estimate(ctx context.Context, from, to string, amount *big.Int) (int64, error)
	Rent(ctx context.Context, addr string, units int64, duration time.Duration) (*RentResult, error)
}

type RentResult struct {
	Cost *big.Int // nanoTON paid to the market
}

// HTTPMarket talks to the market's internal JSON API.
type HTTPMarket struct {
	baseURL    string
	apiKey     string
	enabled    bool
	httpClient *http.Client
	log        *zap.Logger
}

func NewHTTPMarket(baseURL, apiKey string, enabled bool, log *zap.Logger) *HTTPMarket {
	return &HTTPMarket{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		enabled: enabled && baseURL != "",
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

func (m *HTTPMarket) Enabled() bool {
	return m.enabled
}

type estimateRequest struct {
	From       string `json:"from"`
	To         string `json:"to"`
	AmountNano string `json:"amount_nano"`
}

type estimateResponse struct {
	Units int64 `json:"units"`
}

func (m *HTTPMarket) Estimate(ctx context.Context, from, to string, amount *big.Int) (int64, error) {
	var resp estimateResponse
	err := m.post(ctx, "/v1/estimate", estimateRequest{
		From:       from,
		To:         to,
		AmountNano: amount.String(),
	}, &resp)
	if err != nil {
		return 0, err
	}
	if resp.Units <= 0 {
		return 0, fmt.Errorf("market returned non-positive estimate %d", resp.Units)
	}
	return resp.Units, nil
}

type rentRequest struct {
	Address         string `json:"address"`
	Units           int64  `json:"units"`
	DurationSeconds int64  `json:"duration_seconds"`
}

type rentResponse struct {
	Success  bool   `json:"success"`
	CostNano string `json:"cost_nano"`
	Error    string `json:"error,omitempty"`
}

func (m *HTTPMarket) Rent(ctx context.Context, addr string, units int64, duration time.Duration) (*RentResult, error) {
	var resp rentResponse
	err := m.post(ctx, "/v1/rent", rentRequest{
		Address:         addr,
		Units:           units,
		DurationSeconds: int64(duration.Seconds()),
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("market rejected rental: %s", resp.Error)
	}

	cost, ok := new(big.Int).SetString(resp.CostNano, 10)
	if !ok {
		return nil, fmt.Errorf("market returned invalid cost %q", resp.CostNano)
	}
	return &RentResult{Cost: cost}, nil
}

func (m *HTTPMarket) post(ctx context.Context, path string, body, dest any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("resource market unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("resource market returned %d: %s", resp.StatusCode, string(b))
	}

	return json.NewDecoder(resp.Body).Decode(dest)
}
