// Package oanda implements broker.Client against the OANDA v20 REST API.
//
// Numeric fields arrive as JSON strings and are parsed explicitly; prices
// sent to the broker are formatted to 5 decimal places. Transport failures
// and 429/5xx responses are retried with exponential backoff; order
// rejections are returned as *broker.RejectedError and never retried.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fx-session-lab/internal/broker"
	"fx-session-lab/internal/domain"
	"fx-session-lab/internal/logging"
)

var apiLog = logging.New("oanda")

// Base URLs for the two OANDA environments.
const (
	PracticeBaseURL = "https://api-fxpractice.oanda.com"
	LiveBaseURL     = "https://api-fxtrade.oanda.com"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0

	maxCandlesPerRequest = 5000
)

// Client is an OANDA v20 REST client scoped to one account.
type Client struct {
	baseURL     string
	accountID   string
	token       string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

var _ broker.Client = (*Client)(nil)

// Option configures Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used for the live endpoint and
// for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithLiveTrading points the client at the live (real money) endpoint.
func WithLiveTrading() Option {
	return func(c *Client) {
		c.baseURL = LiveBaseURL
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets the maximum retry delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// New creates an OANDA client for the practice environment unless an
// option overrides the base URL. The token is sent as a Bearer credential
// on every request.
func New(accountID, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     PracticeBaseURL,
		accountID:   accountID,
		token:       token,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError is a non-2xx response that survived to the caller.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

func (e *apiError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// reason extracts the broker's errorMessage from an error body.
func (e *apiError) reason() string {
	var payload struct {
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal([]byte(e.Body), &payload); err == nil && payload.ErrorMessage != "" {
		return payload.ErrorMessage
	}
	return fmt.Sprintf("status %d", e.Status)
}

// isRejection reports whether err is a non-retryable API response, which
// the order endpoints surface as a broker rejection.
func isRejection(err error) (*apiError, bool) {
	var apiErr *apiError
	if errors.As(err, &apiErr) && !apiErr.retryable() {
		return apiErr, true
	}
	return nil, false
}

// do performs one REST call with retries and exponential backoff.
// Transport errors and retryable statuses are retried up to maxRetries;
// other non-2xx statuses are returned immediately as *apiError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	var reqBody []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = b
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			apiLog.Debug("retrying request",
				"method", method, "path", path, "attempt", attempt, "delay", delay.String())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		var rd io.Reader
		if reqBody != nil {
			rd = bytes.NewReader(reqBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept-Datetime-Format", "RFC3339")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if result != nil {
				if err := json.Unmarshal(respBody, result); err != nil {
					return fmt.Errorf("unmarshal response: %w", err)
				}
			}
			return nil
		}

		apiErr := &apiError{Status: resp.StatusCode, Body: string(respBody)}
		if !apiErr.retryable() {
			return apiErr
		}
		apiLog.Debug("retryable status", "status", resp.StatusCode, "path", path)
		lastErr = apiErr
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// FetchDailyCandles retrieves the most recent complete daily mid-price
// candles for an instrument, oldest first.
func (c *Client) FetchDailyCandles(ctx context.Context, instrument string, count int) ([]domain.Candle, error) {
	if count > maxCandlesPerRequest {
		count = maxCandlesPerRequest
	}

	query := url.Values{}
	query.Set("granularity", "D")
	query.Set("price", "M")
	query.Set("count", strconv.Itoa(count))

	var resp candlesResponse
	path := "/v3/instruments/" + instrument + "/candles"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, &broker.CommunicationError{Op: "fetch candles", Err: err}
	}

	candles := make([]domain.Candle, 0, len(resp.Candles))
	for _, rc := range resp.Candles {
		if !rc.Complete {
			continue
		}
		parsed, err := rc.toCandle()
		if err != nil {
			return nil, fmt.Errorf("fetch candles: %w", err)
		}
		candles = append(candles, parsed)
	}

	return candles, nil
}

// candlesResponse is the raw response for the candles endpoint.
type candlesResponse struct {
	Instrument  string      `json:"instrument"`
	Granularity string      `json:"granularity"`
	Candles     []rawCandle `json:"candles"`
}

type rawCandle struct {
	Time     string  `json:"time"`
	Mid      rawOHLC `json:"mid"`
	Volume   int     `json:"volume"`
	Complete bool    `json:"complete"`
}

type rawOHLC struct {
	O string `json:"o"`
	H string `json:"h"`
	L string `json:"l"`
	C string `json:"c"`
}

func (rc rawCandle) toCandle() (domain.Candle, error) {
	ts, err := time.Parse(time.RFC3339, rc.Time)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parse candle time %q: %w", rc.Time, err)
	}
	o, err := strconv.ParseFloat(rc.Mid.O, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parse candle open %q: %w", rc.Mid.O, err)
	}
	h, err := strconv.ParseFloat(rc.Mid.H, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parse candle high %q: %w", rc.Mid.H, err)
	}
	l, err := strconv.ParseFloat(rc.Mid.L, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parse candle low %q: %w", rc.Mid.L, err)
	}
	cl, err := strconv.ParseFloat(rc.Mid.C, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parse candle close %q: %w", rc.Mid.C, err)
	}

	return domain.Candle{Date: ts.UTC(), Open: o, High: h, Low: l, Close: cl}, nil
}

// GetCurrentPrice retrieves the current bid/ask quote for an instrument.
func (c *Client) GetCurrentPrice(ctx context.Context, instrument string) (*broker.Price, error) {
	query := url.Values{}
	query.Set("instruments", instrument)

	var resp pricingResponse
	path := "/v3/accounts/" + c.accountID + "/pricing"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, &broker.CommunicationError{Op: "pricing", Err: err}
	}

	if len(resp.Prices) == 0 || len(resp.Prices[0].Bids) == 0 || len(resp.Prices[0].Asks) == 0 {
		return nil, &broker.CommunicationError{
			Op:  "pricing",
			Err: fmt.Errorf("empty pricing response for %s", instrument),
		}
	}

	rp := resp.Prices[0]
	bid, err := strconv.ParseFloat(rp.Bids[0].Price, 64)
	if err != nil {
		return nil, fmt.Errorf("pricing: parse bid %q: %w", rp.Bids[0].Price, err)
	}
	ask, err := strconv.ParseFloat(rp.Asks[0].Price, 64)
	if err != nil {
		return nil, fmt.Errorf("pricing: parse ask %q: %w", rp.Asks[0].Price, err)
	}
	ts, err := time.Parse(time.RFC3339, rp.Time)
	if err != nil {
		return nil, fmt.Errorf("pricing: parse time %q: %w", rp.Time, err)
	}

	return &broker.Price{
		Instrument: instrument,
		Bid:        bid,
		Ask:        ask,
		Time:       ts.UTC(),
	}, nil
}

// pricingResponse is the raw response for the pricing endpoint.
type pricingResponse struct {
	Prices []rawPrice `json:"prices"`
}

type rawPrice struct {
	Instrument string      `json:"instrument"`
	Time       string      `json:"time"`
	Bids       []rawBucket `json:"bids"`
	Asks       []rawBucket `json:"asks"`
}

type rawBucket struct {
	Price string `json:"price"`
}

// GetOpenPositions retrieves the open broker-side trades for an
// instrument, one entry per broker trade ID.
func (c *Client) GetOpenPositions(ctx context.Context, instrument string) ([]broker.Position, error) {
	positions, err := c.openTrades(ctx, instrument)
	if err != nil {
		return nil, &broker.CommunicationError{Op: "open trades", Err: err}
	}
	return positions, nil
}

func (c *Client) openTrades(ctx context.Context, instrument string) ([]broker.Position, error) {
	var resp openTradesResponse
	path := "/v3/accounts/" + c.accountID + "/openTrades"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}

	positions := make([]broker.Position, 0, len(resp.Trades))
	for _, rt := range resp.Trades {
		if rt.Instrument != instrument {
			continue
		}
		p, err := rt.toPosition()
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, nil
}

// openTradesResponse is the raw response for the openTrades endpoint.
type openTradesResponse struct {
	Trades []rawTrade `json:"trades"`
}

type rawTrade struct {
	ID           string `json:"id"`
	Instrument   string `json:"instrument"`
	Price        string `json:"price"`
	CurrentUnits string `json:"currentUnits"`
	UnrealizedPL string `json:"unrealizedPL"`
	OpenTime     string `json:"openTime"`
}

func (rt rawTrade) toPosition() (broker.Position, error) {
	units, err := strconv.ParseFloat(rt.CurrentUnits, 64)
	if err != nil {
		return broker.Position{}, fmt.Errorf("parse trade units %q: %w", rt.CurrentUnits, err)
	}
	price, err := strconv.ParseFloat(rt.Price, 64)
	if err != nil {
		return broker.Position{}, fmt.Errorf("parse trade price %q: %w", rt.Price, err)
	}
	opened, err := time.Parse(time.RFC3339, rt.OpenTime)
	if err != nil {
		return broker.Position{}, fmt.Errorf("parse trade open time %q: %w", rt.OpenTime, err)
	}

	var pl float64
	if rt.UnrealizedPL != "" {
		pl, err = strconv.ParseFloat(rt.UnrealizedPL, 64)
		if err != nil {
			return broker.Position{}, fmt.Errorf("parse trade pl %q: %w", rt.UnrealizedPL, err)
		}
	}

	dir := domain.DirectionLong
	if units < 0 {
		dir = domain.DirectionShort
		units = -units
	}

	return broker.Position{
		BrokerTradeID: rt.ID,
		Instrument:    rt.Instrument,
		Direction:     dir,
		Units:         int(units),
		EntryPrice:    price,
		UnrealizedPL:  pl,
		OpenedAt:      opened.UTC(),
	}, nil
}

// PlaceMarketOrder submits a market order with TP (and SL when set)
// attached on fill, both GTC at 5 decimal places.
func (c *Client) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	units := req.Units
	if req.Direction == domain.DirectionShort {
		units = -units
	}

	order := marketOrder{
		Type:       "MARKET",
		Instrument: req.Instrument,
		Units:      strconv.Itoa(units),
		TakeProfitOnFill: &orderLevel{
			Price:       formatPrice(req.TakeProfit),
			TimeInForce: "GTC",
		},
	}
	if req.StopLoss != nil {
		order.StopLossOnFill = &orderLevel{
			Price:       formatPrice(*req.StopLoss),
			TimeInForce: "GTC",
		}
	}

	var resp orderResponse
	path := "/v3/accounts/" + c.accountID + "/orders"
	if err := c.do(ctx, http.MethodPost, path, nil, orderBody{Order: order}, &resp); err != nil {
		if apiErr, ok := isRejection(err); ok {
			return nil, &broker.RejectedError{Op: "market order", Reason: apiErr.reason()}
		}
		return nil, &broker.CommunicationError{Op: "market order", Err: err}
	}

	if resp.OrderFillTransaction == nil || resp.OrderFillTransaction.TradeOpened == nil {
		return nil, &broker.RejectedError{Op: "market order", Reason: resp.rejectReason()}
	}

	fill := resp.OrderFillTransaction
	price, err := strconv.ParseFloat(fill.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("market order: parse fill price %q: %w", fill.Price, err)
	}
	ts, err := time.Parse(time.RFC3339, fill.Time)
	if err != nil {
		return nil, fmt.Errorf("market order: parse fill time %q: %w", fill.Time, err)
	}

	return &broker.OrderResult{
		BrokerTradeID: fill.TradeOpened.TradeID,
		Instrument:    req.Instrument,
		Units:         req.Units,
		Price:         price,
		Time:          ts.UTC(),
	}, nil
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 5, 64)
}

// orderBody is the request body for the orders endpoint.
type orderBody struct {
	Order marketOrder `json:"order"`
}

type marketOrder struct {
	Type             string      `json:"type"`
	Instrument       string      `json:"instrument"`
	Units            string      `json:"units"`
	TakeProfitOnFill *orderLevel `json:"takeProfitOnFill,omitempty"`
	StopLossOnFill   *orderLevel `json:"stopLossOnFill,omitempty"`
}

type orderLevel struct {
	Price       string `json:"price"`
	TimeInForce string `json:"timeInForce"`
}

// orderResponse is the raw response for a market order submission.
type orderResponse struct {
	OrderFillTransaction   *rawFill   `json:"orderFillTransaction"`
	OrderRejectTransaction *rawReject `json:"orderRejectTransaction"`
	OrderCancelTransaction *rawCancel `json:"orderCancelTransaction"`
}

func (r *orderResponse) rejectReason() string {
	if r.OrderRejectTransaction != nil && r.OrderRejectTransaction.RejectReason != "" {
		return r.OrderRejectTransaction.RejectReason
	}
	if r.OrderCancelTransaction != nil && r.OrderCancelTransaction.Reason != "" {
		return r.OrderCancelTransaction.Reason
	}
	return "order not filled"
}

type rawFill struct {
	Price       string        `json:"price"`
	Time        string        `json:"time"`
	Units       string        `json:"units"`
	TradeOpened *rawTradeOpen `json:"tradeOpened"`
}

type rawTradeOpen struct {
	TradeID string `json:"tradeID"`
	Units   string `json:"units"`
}

type rawReject struct {
	RejectReason string `json:"rejectReason"`
}

type rawCancel struct {
	Reason string `json:"reason"`
}

// ClosePosition closes the open position on an instrument. The side to
// close is derived from the broker's open trades; closing with nothing
// open is a rejection.
func (c *Client) ClosePosition(ctx context.Context, instrument string) (*broker.CloseResult, error) {
	trades, err := c.openTrades(ctx, instrument)
	if err != nil {
		return nil, &broker.CommunicationError{Op: "close position", Err: err}
	}
	if len(trades) == 0 {
		return nil, &broker.RejectedError{Op: "close position", Reason: "no open position on " + instrument}
	}

	body := map[string]string{}
	for _, tr := range trades {
		if tr.Direction == domain.DirectionLong {
			body["longUnits"] = "ALL"
		} else {
			body["shortUnits"] = "ALL"
		}
	}

	var resp closeResponse
	path := "/v3/accounts/" + c.accountID + "/positions/" + instrument + "/close"
	if err := c.do(ctx, http.MethodPut, path, nil, body, &resp); err != nil {
		if apiErr, ok := isRejection(err); ok {
			return nil, &broker.RejectedError{Op: "close position", Reason: apiErr.reason()}
		}
		return nil, &broker.CommunicationError{Op: "close position", Err: err}
	}

	result := &broker.CloseResult{}
	for _, fill := range []*rawCloseFill{resp.LongOrderFillTransaction, resp.ShortOrderFillTransaction} {
		if fill == nil {
			continue
		}
		price, err := strconv.ParseFloat(fill.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("close position: parse fill price %q: %w", fill.Price, err)
		}
		result.Price = price

		if fill.PL != "" {
			pl, err := strconv.ParseFloat(fill.PL, 64)
			if err != nil {
				return nil, fmt.Errorf("close position: parse pl %q: %w", fill.PL, err)
			}
			result.RealizedPL += pl
		}
		if ts, err := time.Parse(time.RFC3339, fill.Time); err == nil {
			result.Time = ts.UTC()
		}
		for _, tc := range fill.TradesClosed {
			result.BrokerTradeIDs = append(result.BrokerTradeIDs, tc.TradeID)
		}
	}

	return result, nil
}

// closeResponse is the raw response for a position close.
type closeResponse struct {
	LongOrderFillTransaction  *rawCloseFill `json:"longOrderFillTransaction"`
	ShortOrderFillTransaction *rawCloseFill `json:"shortOrderFillTransaction"`
}

type rawCloseFill struct {
	Price        string           `json:"price"`
	PL           string           `json:"pl"`
	Time         string           `json:"time"`
	TradesClosed []rawTradeClosed `json:"tradesClosed"`
}

type rawTradeClosed struct {
	TradeID    string `json:"tradeID"`
	RealizedPL string `json:"realizedPL"`
}

// AccountSummary retrieves the account status surface.
func (c *Client) AccountSummary(ctx context.Context) (*broker.AccountSummary, error) {
	var resp summaryResponse
	path := "/v3/accounts/" + c.accountID + "/summary"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, &broker.CommunicationError{Op: "account summary", Err: err}
	}

	acct := resp.Account
	balance, err := strconv.ParseFloat(acct.Balance, 64)
	if err != nil {
		return nil, fmt.Errorf("account summary: parse balance %q: %w", acct.Balance, err)
	}

	var nav, upl float64
	if acct.NAV != "" {
		nav, err = strconv.ParseFloat(acct.NAV, 64)
		if err != nil {
			return nil, fmt.Errorf("account summary: parse NAV %q: %w", acct.NAV, err)
		}
	}
	if acct.UnrealizedPL != "" {
		upl, err = strconv.ParseFloat(acct.UnrealizedPL, 64)
		if err != nil {
			return nil, fmt.Errorf("account summary: parse unrealized pl %q: %w", acct.UnrealizedPL, err)
		}
	}

	return &broker.AccountSummary{
		AccountID:      acct.ID,
		Currency:       acct.Currency,
		Balance:        balance,
		NAV:            nav,
		UnrealizedPL:   upl,
		OpenTradeCount: acct.OpenTradeCount,
	}, nil
}

// summaryResponse is the raw response for the account summary endpoint.
type summaryResponse struct {
	Account rawAccount `json:"account"`
}

type rawAccount struct {
	ID             string `json:"id"`
	Currency       string `json:"currency"`
	Balance        string `json:"balance"`
	NAV            string `json:"NAV"`
	UnrealizedPL   string `json:"unrealizedPL"`
	OpenTradeCount int    `json:"openTradeCount"`
}
