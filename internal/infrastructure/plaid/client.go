// Package plaid is a typed client for the subset of the Plaid API used to
// link items and import their balances and transactions.
package plaid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	SandboxURL     = "https://sandbox.plaid.com"
	ProductionURL  = "https://production.plaid.com"
	apiVersion     = "2020-09-14"
	defaultTimeout = 60 * time.Second

	// transactions/get returns at most 500 rows per page.
	transactionsPageSize = 500
)

var tracer = otel.Tracer("famfin.plaid")

// Client authenticates every request with the client id and secret headers.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	secret     string
}

var _ ClientInterface = (*Client)(nil)

// NewClient creates a client for baseURL. An empty baseURL selects the sandbox.
func NewClient(baseURL, clientID, secret string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = SandboxURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		secret:   secret,
	}
}

func (c *Client) CreateLinkToken(ctx context.Context, req LinkTokenRequest) (*LinkToken, error) {
	var out LinkToken
	if err := c.do(ctx, "link_token.create", "/link/token/create", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*ItemAccess, error) {
	body := map[string]string{"public_token": publicToken}
	var out ItemAccess
	if err := c.do(ctx, "item.public_token.exchange", "/item/public_token/exchange", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetInstitution(ctx context.Context, institutionID string, countryCodes []string) (*Institution, error) {
	body := map[string]any{
		"institution_id": institutionID,
		"country_codes":  countryCodes,
		"options":        map[string]bool{"include_optional_metadata": true},
	}
	var out struct {
		Institution Institution `json:"institution"`
	}
	if err := c.do(ctx, "institutions.get_by_id", "/institutions/get_by_id", body, &out); err != nil {
		return nil, err
	}
	return &out.Institution, nil
}

func (c *Client) GetAccounts(ctx context.Context, accessToken string) (*AccountsResponse, error) {
	body := map[string]string{"access_token": accessToken}
	var out AccountsResponse
	if err := c.do(ctx, "accounts.get", "/accounts/get", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTransactions pages through /transactions/get until every transaction in
// [from, to] has been read.
func (c *Client) GetTransactions(ctx context.Context, accessToken string, from, to time.Time) (*TransactionsResponse, error) {
	type options struct {
		Count  int `json:"count"`
		Offset int `json:"offset"`
	}
	type request struct {
		AccessToken string  `json:"access_token"`
		StartDate   string  `json:"start_date"`
		EndDate     string  `json:"end_date"`
		Options     options `json:"options"`
	}

	req := request{
		AccessToken: accessToken,
		StartDate:   FormatDate(from),
		EndDate:     FormatDate(to),
		Options:     options{Count: transactionsPageSize},
	}

	var all TransactionsResponse
	for {
		var page TransactionsResponse
		if err := c.do(ctx, "transactions.get", "/transactions/get", req, &page); err != nil {
			return nil, err
		}
		if all.Accounts == nil {
			all.Accounts = page.Accounts
		}
		all.Transactions = append(all.Transactions, page.Transactions...)
		all.TotalTransactions = page.TotalTransactions
		all.RequestID = page.RequestID

		if len(page.Transactions) == 0 || len(all.Transactions) >= page.TotalTransactions {
			return &all, nil
		}
		req.Options.Offset = len(all.Transactions)
	}
}

// do POSTs one JSON request. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, op, path string, in, out any) error {
	ctx, span := tracer.Start(ctx, "plaid."+op, trace.WithAttributes(
		attribute.String("plaid.operation", op),
	))
	defer span.End()

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("PLAID-CLIENT-ID", c.clientID)
	req.Header.Set("PLAID-SECRET", c.secret)
	req.Header.Set("Plaid-Version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(respBody, apiErr); jsonErr != nil {
			apiErr.ErrorMessage = string(respBody)
		}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Error())
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
