// Package gocardless is a typed client for the GoCardless Bank Account Data v2 API.
package gocardless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL = "https://bankaccountdata.gocardless.com/api/v2"
	defaultTimeout = 60 * time.Second
)

var tracer = otel.Tracer("famfin.gocardless")

// Client handles communication with the Bank Account Data API
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a client for baseURL. An empty baseURL selects the
// production endpoint and a zero timeout selects the default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *Client) NewToken(ctx context.Context, secretID, secretKey string) (*TokenPair, error) {
	body := map[string]string{"secret_id": secretID, "secret_key": secretKey}
	var out TokenPair
	if err := c.do(ctx, "token.new", http.MethodPost, "/token/new/", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RefreshToken(ctx context.Context, refresh string) (*AccessToken, error) {
	body := map[string]string{"refresh": refresh}
	var out AccessToken
	if err := c.do(ctx, "token.refresh", http.MethodPost, "/token/refresh/", "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListInstitutions(ctx context.Context, token, country string) ([]Institution, error) {
	path := "/institutions/?country=" + url.QueryEscape(strings.ToUpper(country))
	var out []Institution
	if err := c.do(ctx, "institutions.list", http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateAgreement(ctx context.Context, token string, req AgreementRequest) (*Agreement, error) {
	var out Agreement
	if err := c.do(ctx, "agreements.create", http.MethodPost, "/agreements/enduser/", token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateRequisition(ctx context.Context, token string, req RequisitionRequest) (*Requisition, error) {
	var out Requisition
	if err := c.do(ctx, "requisitions.create", http.MethodPost, "/requisitions/", token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetRequisition(ctx context.Context, token, requisitionID string) (*Requisition, error) {
	var out Requisition
	path := "/requisitions/" + url.PathEscape(requisitionID) + "/"
	if err := c.do(ctx, "requisitions.get", http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAccountDetails returns the "account" object of the details response. Some
// institutions return the fields at the top level instead, which is accepted too.
func (c *Client) GetAccountDetails(ctx context.Context, token, accountID string) (*AccountDetails, error) {
	var raw json.RawMessage
	path := "/accounts/" + url.PathEscape(accountID) + "/details/"
	if err := c.do(ctx, "accounts.details", http.MethodGet, path, token, nil, &raw); err != nil {
		return nil, err
	}

	var wrapped struct {
		Account *AccountDetails `json:"account"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account details: %w", err)
	}
	if wrapped.Account != nil {
		return wrapped.Account, nil
	}

	var flat AccountDetails
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account details: %w", err)
	}
	return &flat, nil
}

func (c *Client) GetAccountBalances(ctx context.Context, token, accountID string) ([]Balance, error) {
	var out struct {
		Balances []Balance `json:"balances"`
	}
	path := "/accounts/" + url.PathEscape(accountID) + "/balances/"
	if err := c.do(ctx, "accounts.balances", http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out.Balances, nil
}

func (c *Client) GetAccountTransactions(ctx context.Context, token, accountID string, from, to time.Time) (*TransactionList, error) {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("date_from", FormatDate(from))
	}
	if !to.IsZero() {
		q.Set("date_to", FormatDate(to))
	}
	path := "/accounts/" + url.PathEscape(accountID) + "/transactions/"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Transactions TransactionList `json:"transactions"`
	}
	if err := c.do(ctx, "accounts.transactions", http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return &out.Transactions, nil
}

// do performs one JSON request. Non-2xx responses become *APIError carrying
// the status and raw body; there is no retry.
func (c *Client) do(ctx context.Context, op, method, path, token string, in, out any) error {
	ctx, span := tracer.Start(ctx, "gocardless."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("gocardless.operation", op),
	))
	defer span.End()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Error())
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
