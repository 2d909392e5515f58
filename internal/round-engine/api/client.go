package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/radieske/count-market-engine/internal/round-engine/domain"
)

const (
	maxRetries    = 3
	baseRetryWait = 250 * time.Millisecond
)

// Client fala com o endpoint de apostas e com o health do backend.
// 4xx vira ValidationError (sem retry); 5xx e falhas de transporte viram
// NetworkError depois de esgotar os retries.
type Client struct {
	BaseURL   string
	HTTP      *http.Client
	limiter   *rate.Limiter
	retryWait time.Duration
}

// New cria o cliente com limite de ratePerSec requisições por segundo
func New(base string, ratePerSec float64) *Client {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return &Client{
		BaseURL:   strings.TrimRight(base, "/"),
		HTTP:      &http.Client{Timeout: 3 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), int(math.Max(1, ratePerSec))),
		retryWait: baseRetryWait,
	}
}

// WithRetryWait altera a espera base entre tentativas (testes)
func (c *Client) WithRetryWait(d time.Duration) *Client {
	c.retryWait = d
	return c
}

type submitRequest struct {
	RoundID      string `json:"round_id"`
	MarketID     string `json:"market_id,omitempty"`
	VehicleClass string `json:"vehicle_class,omitempty"`
	ExactCount   *int   `json:"exact_count,omitempty"`
	Amount       int64  `json:"amount"`
}

// Submit envia a aposta. A mesma Idempotency-Key vale para todas as
// tentativas, então um retry nunca duplica a aposta.
func (c *Client) Submit(ctx context.Context, d domain.BetDraft) (domain.SubmitResult, error) {
	body, err := json.Marshal(submitRequest{
		RoundID:      d.RoundID,
		MarketID:     d.MarketID,
		VehicleClass: d.VehicleClass,
		ExactCount:   d.ExactCount,
		Amount:       d.Amount,
	})
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("marshal bet: %w", err)
	}
	key := uuid.NewString()

	var out domain.SubmitResult
	err = c.doWithRetry(ctx, "submit bet", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/bets", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)
		return req, nil
	}, &out)
	return out, err
}

// List retorna as apostas do usuário na rodada
func (c *Client) List(ctx context.Context, roundID string) ([]domain.ServerBet, error) {
	u := c.BaseURL + "/bets?round_id=" + url.QueryEscape(roundID)
	var out []domain.ServerBet
	err := c.doWithRetry(ctx, "list bets", getRequest(ctx, u), &out)
	return out, err
}

// Health retorna o snapshot de bootstrap e a próxima rodada
func (c *Client) Health(ctx context.Context) (domain.HealthStatus, error) {
	var out domain.HealthStatus
	err := c.doWithRetry(ctx, "health", getRequest(ctx, c.BaseURL+"/health"), &out)
	return out, err
}

func getRequest(ctx context.Context, u string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// doWithRetry executa a requisição com backoff exponencial
func (c *Client) doWithRetry(ctx context.Context, op string, build func() (*http.Request, error), out any) error {
	var last error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return &domain.NetworkError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
		}
		req, err := build()
		if err != nil {
			return fmt.Errorf("%s: build request: %w", op, err)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			last = err
			if ctx.Err() != nil {
				break
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			last = fmt.Errorf("server error %d", resp.StatusCode)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			reason := strings.TrimSpace(string(raw))
			var eb errorBody
			if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
				reason = eb.Error
			}
			if reason == "" {
				reason = http.StatusText(resp.StatusCode)
			}
			return &domain.ValidationError{Reason: reason}
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil
	}
	if last == nil {
		last = ctx.Err()
	}
	return &domain.NetworkError{Op: op, Err: fmt.Errorf("after %d retries: %w", maxRetries, last)}
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
