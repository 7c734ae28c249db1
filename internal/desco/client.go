// Package desco reads prepaid meter balances from the DESCO customer portal API.
package desco

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rewired-gh/meterbot/internal/models"
)

// DefaultBaseURL is the public DESCO prepaid API
const DefaultBaseURL = "https://prepaid.desco.org.bd"

const (
	balancePath   = "/api/tkdes/customer/getBalance"
	readingLayout = "2006-01-02 15:04:05"
	maxBodyBytes  = 1 << 20
)

// ClientConfig tunes the HTTP transport
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	// Location of the portal's reading timestamps. Defaults to Asia/Dhaka.
	Location *time.Location
}

// Client fetches balances from DESCO. It does not retry; the orchestrator does.
type Client struct {
	baseURL    string
	httpClient *http.Client
	loc        *time.Location
	now        func() time.Time
}

// balanceResponse mirrors the portal's envelope
type balanceResponse struct {
	Code int          `json:"code"`
	Desc string       `json:"desc"`
	Data *balanceData `json:"data"`
}

type balanceData struct {
	AccountNo               string   `json:"accountNo"`
	MeterNo                 string   `json:"meterNo"`
	Balance                 *float64 `json:"balance"`
	CurrentMonthConsumption *float64 `json:"currentMonthConsumption"`
	ReadingTime             string   `json:"readingTime"`
}

// NewClient creates a new DESCO client
func NewClient(baseURL string, cfg ClientConfig) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	loc := cfg.Location
	if loc == nil {
		var err error
		if loc, err = time.LoadLocation("Asia/Dhaka"); err != nil {
			loc = time.FixedZone("BST", 6*60*60)
		}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		transport.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout > 0 {
		transport.IdleConnTimeout = cfg.IdleConnTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: transport},
		loc:        loc,
		now:        time.Now,
	}
}

// Fetch returns the current balance snapshot for an account.
// The deadline comes from ctx. Errors are *models.FetchError.
func (c *Client) Fetch(ctx context.Context, accountRef string) (*models.Snapshot, error) {
	u := fmt.Sprintf("%s%s?accountNo=%s", c.baseURL, balancePath, url.QueryEscape(accountRef))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &models.FetchError{Kind: models.FetchProvider, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.FetchError{Kind: transportErrorKind(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &models.FetchError{Kind: models.FetchAuth, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &models.FetchError{Kind: models.FetchProvider, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &models.FetchError{Kind: transportErrorKind(ctx, err), Err: fmt.Errorf("failed to read body: %w", err)}
	}

	var br balanceResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return nil, &models.FetchError{Kind: models.FetchParse, Err: fmt.Errorf("failed to decode balance: %w", err)}
	}
	return c.toSnapshot(accountRef, &br)
}

func (c *Client) toSnapshot(accountRef string, br *balanceResponse) (*models.Snapshot, error) {
	if br.Code != http.StatusOK {
		return nil, &models.FetchError{Kind: models.FetchProvider, Err: fmt.Errorf("portal returned code %d: %s", br.Code, br.Desc)}
	}
	if br.Data == nil {
		return nil, &models.FetchError{Kind: models.FetchParse, Err: errors.New("response has no data")}
	}
	d := br.Data
	if d.AccountNo != "" && d.AccountNo != accountRef {
		return nil, &models.FetchError{Kind: models.FetchParse, Err: fmt.Errorf("response for account %s, expected %s", d.AccountNo, accountRef)}
	}
	if d.Balance == nil {
		return nil, &models.FetchError{Kind: models.FetchParse, Err: errors.New("response has no balance")}
	}

	snap := &models.Snapshot{
		AccountRef: accountRef,
		Balance:    models.AmountFromFloat(*d.Balance),
		ObservedAt: c.now(),
	}
	if d.CurrentMonthConsumption != nil {
		snap.Usage = *d.CurrentMonthConsumption
	}
	if d.ReadingTime != "" {
		ts, err := time.ParseInLocation(readingLayout, d.ReadingTime, c.loc)
		if err != nil {
			return nil, &models.FetchError{Kind: models.FetchParse, Err: fmt.Errorf("bad reading time %q: %w", d.ReadingTime, err)}
		}
		snap.SourceTime = ts
	}
	return snap, nil
}

func transportErrorKind(ctx context.Context, err error) models.FetchErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.FetchTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return models.FetchTimeout
	}
	return models.FetchNetwork
}
