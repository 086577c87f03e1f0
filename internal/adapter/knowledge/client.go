// Package knowledge is the HTTP client for the external knowledge-base
// answering service.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/Strob0t/supportdesk/internal/config"
	"github.com/Strob0t/supportdesk/internal/domain"
	"github.com/Strob0t/supportdesk/internal/domain/conversation"
	"github.com/Strob0t/supportdesk/internal/port/knowledge"
	"github.com/Strob0t/supportdesk/internal/resilience"
)

const answerPath = "/answer"

type answerRequest struct {
	Question      string `json:"question"`
	SessionID     string `json:"session_id"`
	TenantID      string `json:"tenant_id"`
	BotID         string `json:"bot_id"`
	KnowledgeBase string `json:"knowledge_base"`
}

type answerResponse struct {
	Answer  string `json:"answer"`
	Sources []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"sources"`
}

// Client implements knowledge.Answerer over HTTP.
type Client struct {
	http    *resty.Client
	breaker *resilience.Breaker
}

// NewClient creates a client bounded by cfg.Timeout per call. breaker may
// be nil.
func NewClient(cfg config.Knowledge, breaker *resilience.Breaker) *Client {
	rc := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		rc.SetAuthToken(cfg.APIKey)
	}
	return &Client{http: rc, breaker: breaker}
}

// Answer asks the service one question. Errors wrap domain.ErrUnavailable,
// domain.ErrTimeout or domain.ErrUpstream.
func (c *Client) Answer(ctx context.Context, q knowledge.Question) (*knowledge.Answer, error) {
	var out *knowledge.Answer
	call := func() error {
		a, err := c.answer(ctx, q)
		out = a
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) answer(ctx context.Context, q knowledge.Question) (*knowledge.Answer, error) {
	var body answerResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(answerRequest{
			Question:      q.Text,
			SessionID:     q.SessionID,
			TenantID:      q.TenantID,
			BotID:         q.BotID,
			KnowledgeBase: q.KnowledgeRef,
		}).
		SetResult(&body).
		Post(answerPath)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if !res.IsSuccess() {
		slog.Warn("knowledge service error", "status", res.StatusCode(), "bot_id", q.BotID)
		return nil, classifyStatus(res.StatusCode())
	}
	if body.Answer == "" {
		return nil, fmt.Errorf("knowledge service: empty answer: %w", domain.ErrUpstream)
	}

	a := &knowledge.Answer{Text: body.Answer}
	for _, s := range body.Sources {
		a.Sources = append(a.Sources, conversation.Source{Title: s.Title, URL: s.URL, Snippet: s.Snippet})
	}
	return a, nil
}

// classifyTransport maps a failed round trip to its failure class.
func classifyTransport(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("knowledge service: %w: %v", domain.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("knowledge service: %w", err)
	default:
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return fmt.Errorf("knowledge service unreachable: %w: %v", domain.ErrUnavailable, err)
		}
		// Malformed response bodies also land here.
		return fmt.Errorf("knowledge service: %w: %v", domain.ErrUpstream, err)
	}
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusTooManyRequests:
		return fmt.Errorf("knowledge service status %d: %w", code, domain.ErrUnavailable)
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return fmt.Errorf("knowledge service status %d: %w", code, domain.ErrTimeout)
	default:
		return fmt.Errorf("knowledge service status %d: %w", code, domain.ErrUpstream)
	}
}

// Trips reports whether err should count against the breaker: the caller
// going away says nothing about the service's health.
func Trips(err error) bool {
	return !errors.Is(err, context.Canceled)
}
