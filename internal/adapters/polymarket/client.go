package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultCLOBBase = "https://clob.polymarket.com"
	defaultDataBase = "https://data-api.polymarket.com"

	// Rate limits al 60% de los límites documentados.
	// CLOB /book: 1500/10s → 900/10s → 90/s
	bookRatePerSec = 90
	// CLOB general (tick-size, neg-risk): 9000/10s → 540/s
	generalRatePerSec = 540
	// Data API /positions: 200/10s → 120/10s → 12/s
	dataRatePerSec = 12

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client es el HTTP client público de Polymarket (CLOB + Data API) con rate limiting y retries.
type Client struct {
	http        *http.Client
	clobBase    string
	dataBase    string
	clobLimiter *rate.Limiter
	bookLimiter *rate.Limiter
	dataLimiter *rate.Limiter
}

// NewClient crea un Client con los base URLs dados.
// Si clobBase o dataBase están vacíos, usa los URLs de producción.
func NewClient(clobBase, dataBase string) *Client {
	if clobBase == "" {
		clobBase = defaultCLOBBase
	}
	if dataBase == "" {
		dataBase = defaultDataBase
	}
	return &Client{
		http:        &http.Client{Timeout: 10 * time.Second},
		clobBase:    clobBase,
		dataBase:    dataBase,
		clobLimiter: rate.NewLimiter(generalRatePerSec, 50),
		bookLimiter: rate.NewLimiter(bookRatePerSec, 10),
		dataLimiter: rate.NewLimiter(dataRatePerSec, 4),
	}
}

// get hace un GET con rate limiting y retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial.
// Solo se usa para lecturas: las órdenes nunca se reintentan.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("polymarket: rate limited by API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
