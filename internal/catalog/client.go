package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/cardrip/internal/resilience"
)

// DefaultTimeout bounds every backend request when the config supplies none.
const DefaultTimeout = 30 * time.Second

// ErrTransport marks network-level failures: connection refused, timeout,
// non-2xx status. The wrapped message names the expected backend so the UI
// can show something actionable.
var ErrTransport = errors.New("catalog: backend unreachable")

// ErrBackendRejected marks a well-formed response with success=false; the
// backend's own message is included in the wrap.
var ErrBackendRejected = errors.New("catalog: backend rejected request")

// envelope is the backend's uniform response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// PriceQuote is the pricing snapshot returned for one printing.
type PriceQuote struct {
	Low    float64 `json:"tcg_price"`
	Market float64 `json:"tcg_market_price"`
}

// Client talks to the catalog/pricing backend. All requests honour the
// configured timeout and the supplied context, and pass through a circuit
// breaker so a dead backend fails fast instead of timing out repeatedly.
type Client struct {
	baseURL string
	httpc   *http.Client
	timeout time.Duration
	breaker *resilience.Breaker
}

// NewClient creates a backend client. timeout <= 0 selects [DefaultTimeout].
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{},
		timeout: timeout,
		breaker: resilience.New(resilience.Config{Name: "backend"}),
	}
}

// FetchSets retrieves the set list. An empty query hits the cache endpoint;
// a non-empty query asks the backend to search server-side.
func (c *Client) FetchSets(ctx context.Context, query string) ([]CardSet, error) {
	path := "/card-sets/from-cache"
	if query != "" {
		path = "/card-sets/search/" + url.PathEscape(query)
	}

	var raw []map[string]any
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}

	sets := make([]CardSet, 0, len(raw))
	for _, r := range raw {
		sets = append(sets, normalizeSet(r))
	}
	return sets, nil
}

// FetchSetCards retrieves every card of the named set.
func (c *Client) FetchSetCards(ctx context.Context, setName string) ([]Card, error) {
	var raw []map[string]any
	if err := c.getJSON(ctx, "/card-sets/"+url.PathEscape(setName)+"/cards", &raw); err != nil {
		return nil, err
	}

	cards := make([]Card, 0, len(raw))
	for _, r := range raw {
		cards = append(cards, normalizeCard(r))
	}
	return cards, nil
}

// priceRequest is the POST body for a price lookup.
type priceRequest struct {
	CardNumber   string `json:"card_number"`
	CardName     string `json:"card_name"`
	CardRarity   string `json:"card_rarity"`
	ArtVariant   string `json:"art_variant"`
	ForceRefresh bool   `json:"force_refresh"`
}

// FetchPrice looks up the pricing snapshot for one printing.
func (c *Client) FetchPrice(ctx context.Context, cardName, cardNumber, rarity, artVariant string) (PriceQuote, error) {
	body, err := json.Marshal(priceRequest{
		CardNumber: cardNumber,
		CardName:   cardName,
		CardRarity: rarity,
		ArtVariant: artVariant,
	})
	if err != nil {
		return PriceQuote{}, fmt.Errorf("catalog: encode price request: %w", err)
	}

	var quote PriceQuote
	err = c.do(ctx, http.MethodPost, "/cards/price", body, &quote)
	if err != nil {
		return PriceQuote{}, err
	}
	return quote, nil
}

// getJSON issues a GET and decodes the envelope's data field into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do performs one backend round trip through the circuit breaker.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	return c.breaker.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("catalog: build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: request to %s timed out after %s — is the price checker backend running?",
					ErrTransport, c.baseURL, c.timeout)
			}
			return fmt.Errorf("%w: %v — expected the price checker backend at %s",
				ErrTransport, err, c.baseURL)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("%w: %s returned HTTP %d", ErrTransport, c.baseURL+path, resp.StatusCode)
		}

		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrTransport, err)
		}
		if !env.Success {
			msg := env.Message
			if msg == "" {
				msg = env.Error
			}
			return fmt.Errorf("%w: %s", ErrBackendRejected, msg)
		}
		if out != nil {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return fmt.Errorf("%w: decode data: %v", ErrTransport, err)
			}
		}
		return nil
	})
}
