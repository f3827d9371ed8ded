// Package entrez wraps the PubMed E-utilities search-and-fetch API.
package entrez

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/helixcare/casematch/internal/domain"
	"github.com/helixcare/casematch/internal/metrics"
)

const pubmedDB = "pubmed"

// Client is the literature index client. Identity (tool/email) is sent
// explicitly on every request; there is no hidden one-time registration.
type Client struct {
	baseURL    string
	tool       string
	email      string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
	logger     *zap.Logger
}

// Config holds literature index client settings.
type Config struct {
	BaseURL    string
	Tool       string
	Email      string
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
	Logger     *zap.Logger
}

// NewClient creates a literature index client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tool:       cfg.Tool,
		email:      cfg.Email,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		retryBase:  retryBase,
		logger:     cfg.Logger,
	}
}

// esearchResponse mirrors the JSON shape of the esearch endpoint.
type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

// Search returns up to maxResults article ids for the query, in the index's
// own relevance order.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]string, error) {
	params := url.Values{
		"db":      {pubmedDB},
		"term":    {query},
		"retmax":  {strconv.Itoa(maxResults)},
		"retmode": {"json"},
	}

	body, err := c.get(ctx, "esearch", c.baseURL+"/esearch.fcgi", params)
	if err != nil {
		return nil, err
	}

	var resp esearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode esearch response: %w: %w", err, domain.ErrExternalUnavailable)
	}
	return resp.ESearchResult.IDList, nil
}

// FetchAbstract returns an article's abstract text: every AbstractText element
// in the efetch XML, space-joined and trimmed.
func (c *Client) FetchAbstract(ctx context.Context, id string) (string, error) {
	params := url.Values{
		"db":      {pubmedDB},
		"id":      {id},
		"retmode": {"xml"},
	}

	body, err := c.get(ctx, "efetch", c.baseURL+"/efetch.fcgi", params)
	if err != nil {
		return "", err
	}

	abstract, err := extractAbstract(body)
	if err != nil {
		return "", fmt.Errorf("decode efetch response: %w: %w", err, domain.ErrExternalUnavailable)
	}
	return abstract, nil
}

// get issues an idempotent GET with bounded retry-with-backoff.
// Retries transport failures, 429 and 5xx; 4xx fails immediately.
func (c *Client) get(ctx context.Context, op, endpoint string, params url.Values) ([]byte, error) {
	if c.tool != "" {
		params.Set("tool", c.tool)
	}
	if c.email != "" {
		params.Set("email", c.email)
	}
	reqURL := endpoint + "?" + params.Encode()

	var lastErr error
	for attempt := 0; ; attempt++ {
		body, retryable, err := c.doOnce(ctx, op, reqURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable || attempt >= c.maxRetries {
			break
		}

		backoff := c.retryBase << attempt
		c.logger.Warn("Literature index request failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w: %w", op, ctx.Err(), domain.ErrExternalUnavailable)
		case <-time.After(backoff):
		}
	}

	return nil, lastErr
}

// doOnce performs a single request. retryable reports whether the failure is
// worth another attempt.
func (c *Client) doOnce(ctx context.Context, op, reqURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%s: build request: %w", op, err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.LiteratureRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, true, fmt.Errorf("%s: %w: %w", op, err, domain.ErrExternalUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.LiteratureRequestsTotal.WithLabelValues(op, "error").Inc()
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf(
			"%s: unexpected status %d: %w", op, resp.StatusCode, domain.ErrExternalUnavailable,
		)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.LiteratureRequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, true, fmt.Errorf("%s: read response: %w: %w", op, err, domain.ErrExternalUnavailable)
	}

	metrics.LiteratureRequestsTotal.WithLabelValues(op, "success").Inc()
	metrics.LiteratureRequestDuration.WithLabelValues(op).Observe(duration.Seconds())
	return data, true, nil
}

// extractAbstract walks the efetch XML and joins the text of every
// AbstractText element with single spaces.
func extractAbstract(data []byte) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(data)))

	var parts []string
	depth := 0 // >0 while inside an AbstractText element
	var current strings.Builder

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "AbstractText" {
				depth++
			}
		case xml.EndElement:
			if t.Name.Local == "AbstractText" {
				depth--
				if depth == 0 {
					if text := strings.TrimSpace(current.String()); text != "" {
						parts = append(parts, text)
					}
					current.Reset()
				}
			}
		case xml.CharData:
			if depth > 0 {
				current.Write(t)
			}
		}
	}

	return strings.Join(parts, " "), nil
}
