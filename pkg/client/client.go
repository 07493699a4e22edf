// Package client fetches observed and predicted bounce instance counts from
// the remote bounce service.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vjranagit/bouncedash/pkg/types"
)

const ratePath = "/bounce/rate"

// DefaultMaxBodyBytes caps a success payload; a month of minute buckets is
// well under it
const DefaultMaxBodyBytes = 32 << 20

var (
	// ErrTransport covers connection failures and non-2xx responses
	ErrTransport = errors.New("transport error")
	// ErrMalformedResponse covers payloads missing arrays or with unequal lengths
	ErrMalformedResponse = errors.New("malformed response")
)

// FetchError carries diagnostic detail for a failed fetch
type FetchError struct {
	Kind      error
	Op        string
	RequestID string
	Status    int
	Err       error
}

func (e *FetchError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is/As
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Fetcher is what the controller needs from a bounce rate source
type Fetcher interface {
	Fetch(ctx context.Context, q types.Query) (*types.SeriesPair, error)
}

// Client for the bounce rate endpoint
type Client struct {
	baseURL      string
	client       *http.Client
	maxBodyBytes int64
	log          zerolog.Logger
}

// NewClient creates a new bounce rate client.
// The HTTP client carries no timeout; deadlines come from the caller's context.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{},
		maxBodyBytes: DefaultMaxBodyBytes,
		log:          log.With().Str("client", "bounce-rate").Logger(),
	}
}

// rateResponse is the success payload of GET /bounce/rate
type rateResponse struct {
	Data *struct {
		TrueIns   []float64 `json:"true_ins"`
		BounceIns []float64 `json:"bounce_ins"`
		Date      []string  `json:"date"`
	} `json:"data"`
}

// Fetch issues exactly one request for the query. It never retries or caches.
func (c *Client) Fetch(ctx context.Context, q types.Query) (*types.SeriesPair, error) {
	requestID := uuid.New().String()
	op := "GET " + ratePath

	params := url.Values{}
	params.Set("start", q.Start)
	params.Set("end", q.End)
	reqURL := c.baseURL + ratePath + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: ErrTransport, Op: op, RequestID: requestID, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	c.log.Debug().
		Str("request_id", requestID).
		Str("start", q.Start).
		Str("end", q.End).
		Msg("Fetching bounce rate")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: ErrTransport, Op: op, RequestID: requestID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		var cause error
		if len(body) > 0 {
			cause = errors.New(strings.TrimSpace(string(body)))
		}
		return nil, &FetchError{Kind: ErrTransport, Op: op, RequestID: requestID, Status: resp.StatusCode, Err: cause}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{Kind: ErrTransport, Op: op, RequestID: requestID, Status: resp.StatusCode, Err: err}
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, &FetchError{Kind: ErrMalformedResponse, Op: op, RequestID: requestID, Status: resp.StatusCode,
			Err: fmt.Errorf("response body exceeds %d bytes", c.maxBodyBytes)}
	}

	var payload rateResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &FetchError{Kind: ErrMalformedResponse, Op: op, RequestID: requestID, Status: resp.StatusCode, Err: err}
	}

	pair, err := payload.seriesPair()
	if err != nil {
		return nil, &FetchError{Kind: ErrMalformedResponse, Op: op, RequestID: requestID, Status: resp.StatusCode, Err: err}
	}

	c.log.Info().
		Str("request_id", requestID).
		Int("points", pair.Len()).
		Dur("elapsed", time.Since(started)).
		Msg("Fetched bounce rate")

	return pair, nil
}

// seriesPair checks the three arrays and builds a SeriesPair
func (r *rateResponse) seriesPair() (*types.SeriesPair, error) {
	if r.Data == nil {
		return nil, fmt.Errorf("missing data object")
	}
	d := r.Data
	if d.TrueIns == nil || d.BounceIns == nil || d.Date == nil {
		return nil, fmt.Errorf("missing series arrays")
	}
	if len(d.TrueIns) != len(d.Date) || len(d.BounceIns) != len(d.Date) {
		return nil, fmt.Errorf("series length mismatch: true_ins=%d bounce_ins=%d date=%d",
			len(d.TrueIns), len(d.BounceIns), len(d.Date))
	}

	return &types.SeriesPair{
		Timestamps:      d.Date,
		TrueValues:      d.TrueIns,
		PredictedValues: d.BounceIns,
	}, nil
}
