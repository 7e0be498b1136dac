package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	BaseURL string
	Token   string

	// Alias is the sender name of the agent's own posts. Messages from it
	// are never returned.
	Alias string

	// RatePerSecond and Burst pace outgoing requests. Zero disables pacing.
	RatePerSecond float64
	Burst         int

	// MaxFailures consecutive failures open the breaker for BreakerTimeout.
	// Defaults: 5 and 30s.
	MaxFailures    uint32
	BreakerTimeout time.Duration

	Client *http.Client
	Logger *log.Logger
}

// HTTPTransport talks to a REST chat server:
//
//	GET  /api/rooms
//	GET  /api/rooms/{id}/messages
//	GET  /api/rooms/{id}/reactions
//	POST /api/rooms/{id}/messages
//
// The server returns every item of a room on each fetch; processed items are
// remembered client-side and filtered out.
type HTTPTransport struct {
	baseURL string
	token   string
	alias   string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *log.Logger

	mu        sync.Mutex
	processed map[string]map[Item]bool
}

type roomsResponse struct {
	Rooms []Room `json:"rooms"`
}

type messagesResponse struct {
	Messages []Message `json:"messages"`
}

type reactionsResponse struct {
	Reactions []Reaction `json:"reactions"`
}

type postMessageRequest struct {
	Text string `json:"text"`
}

// NewHTTPTransport creates a transport for the server at cfg.BaseURL.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	logger := cfg.Logger
	t := &HTTPTransport{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		token:     cfg.Token,
		alias:     cfg.Alias,
		client:    cfg.Client,
		limiter:   limiter,
		logger:    logger,
		processed: make(map[string]map[Item]bool),
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "chat",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("circuit %s: %s -> %s", name, from, to)
		},
		// A vanished room is an answer, not a server fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRoomNotFound)
		},
	})
	return t
}

// ListActiveRooms returns the rooms the agent participates in. Bookkeeping
// for rooms that are no longer listed is dropped.
func (t *HTTPTransport) ListActiveRooms(ctx context.Context) ([]Room, error) {
	var resp roomsResponse
	if err := t.do(ctx, http.MethodGet, "/api/rooms", nil, &resp); err != nil {
		return nil, err
	}

	active := make(map[string]bool, len(resp.Rooms))
	for _, r := range resp.Rooms {
		active[r.ID] = true
	}
	t.mu.Lock()
	for id := range t.processed {
		if !active[id] {
			delete(t.processed, id)
		}
	}
	t.mu.Unlock()

	return resp.Rooms, nil
}

// FetchNewMessages returns the room's messages not yet marked processed,
// leaving out the agent's own.
func (t *HTTPTransport) FetchNewMessages(ctx context.Context, roomID string) ([]Message, error) {
	var resp messagesResponse
	if err := t.do(ctx, http.MethodGet, roomPath(roomID, "messages"), nil, &resp); err != nil {
		return nil, err
	}

	out := resp.Messages[:0]
	for _, m := range resp.Messages {
		if m.RoomID == "" {
			m.RoomID = roomID
		}
		if t.alias != "" && strings.EqualFold(m.Sender, t.alias) {
			continue
		}
		if !t.isProcessed(roomID, MessageItem(m)) {
			out = append(out, m)
		}
	}
	return out, nil
}

// FetchNewReactions returns the room's reactions not yet marked processed.
func (t *HTTPTransport) FetchNewReactions(ctx context.Context, roomID string) ([]Reaction, error) {
	var resp reactionsResponse
	if err := t.do(ctx, http.MethodGet, roomPath(roomID, "reactions"), nil, &resp); err != nil {
		return nil, err
	}

	out := resp.Reactions[:0]
	for _, r := range resp.Reactions {
		if r.RoomID == "" {
			r.RoomID = roomID
		}
		if !t.isProcessed(roomID, ReactionItem(r)) {
			out = append(out, r)
		}
	}
	return out, nil
}

// BreakerState returns the state of the request circuit breaker: "closed",
// "open" or "half-open".
func (t *HTTPTransport) BreakerState() string {
	return t.breaker.State().String()
}

// PostMessage posts text to the room.
func (t *HTTPTransport) PostMessage(ctx context.Context, roomID, text string) error {
	return t.do(ctx, http.MethodPost, roomPath(roomID, "messages"), postMessageRequest{Text: text}, nil)
}

// MarkProcessed records item so later fetches skip it.
func (t *HTTPTransport) MarkProcessed(_ context.Context, roomID string, item Item) error {
	if item.ID == "" {
		return fmt.Errorf("%w: empty id", ErrItemNotFound)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.processed[roomID]
	if !ok {
		set = make(map[Item]bool)
		t.processed[roomID] = set
	}
	set[item] = true
	return nil
}

// Notify returns nil: the HTTP server has no push channel.
func (t *HTTPTransport) Notify() <-chan struct{} {
	return nil
}

func (t *HTTPTransport) isProcessed(roomID string, item Item) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processed[roomID][item]
}

func roomPath(roomID, collection string) string {
	return "/api/rooms/" + url.PathEscape(roomID) + "/" + collection
}

// do sends one request through the limiter and the breaker and decodes the
// JSON response into out when out is non-nil.
func (t *HTTPTransport) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := t.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("chat: marshal request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("chat: create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if t.token != "" {
			req.Header.Set("Authorization", "Bearer "+t.token)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("chat: %s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, path)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("chat: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("chat: decode %s: %w", path, err)
			}
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	return err
}
