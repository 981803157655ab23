package ticketing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/deskhive-io/deskhive/pkg/protocol"
)

// DefaultTimeout bounds every call to the ticketing webhook.
const DefaultTimeout = 45 * time.Second

// Tags embedded in ticket descriptions so the update feed can be mapped back
// to the originating conversation without server-side custom fields.
var (
	chatTagRe = regexp.MustCompile(`\[CHAT_ID=(-?\w+)\]`)
	userTagRe = regexp.MustCompile(`\[USER_ID=(\w+)\]`)
)

// HTTPClient implements Client against a webhook-style JSON REST endpoint:
// every operation is a POST to {base}/{method}.json.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.client.Timeout = d }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.client = hc }
}

// NewHTTPClient creates a webhook client for the given base URL.
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		client:  &http.Client{Timeout: DefaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ticketing: marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method+".json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ticketing: request %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ticketing: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ticketing: %s: status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ticketing: decode %s: %w", method, err)
	}
	return nil
}

type createResult struct {
	Result struct {
		ID string `json:"id"`
	} `json:"result"`
}

func (c *HTTPClient) CreateTicket(ctx context.Context, req CreateRequest) (string, error) {
	tags := []string{fmt.Sprintf("[USER_ID=%s]", req.UserID)}
	if req.ChatID != "" {
		tags = append(tags, fmt.Sprintf("[CHAT_ID=%s]", req.ChatID))
	}
	chat := req.ChatTitle
	if chat == "" {
		chat = "Chat " + req.ChatID
	}
	description := fmt.Sprintf("%s\n\nChat: %s\n%s", req.Description, chat, strings.Join(tags, " "))

	payload := map[string]any{
		"title":           req.Title,
		"description":     description,
		"idempotency_key": req.IdempotencyKey,
	}
	if req.Responsible != "" {
		payload["responsible_id"] = req.Responsible
	}
	if len(req.Accomplices) > 0 {
		payload["accomplices"] = req.Accomplices
	}

	var res createResult
	if err := c.call(ctx, "ticket.add", payload, &res); err != nil {
		return "", err
	}
	if res.Result.ID == "" {
		return "", fmt.Errorf("ticketing: ticket.add returned no id")
	}
	return res.Result.ID, nil
}

func (c *HTTPClient) AddComment(ctx context.Context, ticketID, text string) error {
	var res struct {
		Result bool `json:"result"`
	}
	payload := map[string]any{"ticket_id": ticketID, "text": text}
	if err := c.call(ctx, "ticket.comment.add", payload, &res); err != nil {
		return err
	}
	if !res.Result {
		return fmt.Errorf("ticketing: comment rejected for ticket %s", ticketID)
	}
	return nil
}

type wireTicket struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Deadline    string `json:"deadline"`
	Description string `json:"description"`
}

type wireComment struct {
	ID       string `json:"id"`
	AuthorID string `json:"author_id"`
	System   bool   `json:"system"`
	Text     string `json:"text"`
	PostedAt string `json:"posted_at"`
	Files    []struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"files"`
}

func (c *HTTPClient) ListUpdatedTickets(ctx context.Context, since time.Time) ([]protocol.TicketUpdate, error) {
	payload := map[string]any{
		"updated_since": since.UTC().Format(time.RFC3339),
		"active_only":   true,
	}
	var res struct {
		Result []wireTicket `json:"result"`
	}
	if err := c.call(ctx, "ticket.list", payload, &res); err != nil {
		return nil, err
	}

	var updates []protocol.TicketUpdate
	for _, t := range res.Result {
		chatMatch := chatTagRe.FindStringSubmatch(t.Description)
		userMatch := userTagRe.FindStringSubmatch(t.Description)
		if userMatch == nil {
			// Not one of ours; the feed can contain manually created tickets.
			continue
		}
		u := protocol.TicketUpdate{
			TicketID: t.ID,
			UserID:   userMatch[1],
			Status:   t.Status,
		}
		if chatMatch != nil {
			u.ChatID = chatMatch[1]
		}

		comments, err := c.listComments(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		u.Comments = comments
		updates = append(updates, u)
	}
	return updates, nil
}

func (c *HTTPClient) listComments(ctx context.Context, ticketID string) ([]protocol.Comment, error) {
	var res struct {
		Result []wireComment `json:"result"`
	}
	if err := c.call(ctx, "ticket.comment.list", map[string]any{"ticket_id": ticketID}, &res); err != nil {
		return nil, err
	}

	sort.SliceStable(res.Result, func(i, j int) bool {
		return res.Result[i].PostedAt < res.Result[j].PostedAt
	})

	var out []protocol.Comment
	for _, wc := range res.Result {
		// Staff-only feed: system rows and rows without a human author are
		// never relayed to the user.
		if wc.System || wc.AuthorID == "" || wc.AuthorID == "0" {
			continue
		}
		text, keep := sanitizeComment(wc.Text, len(wc.Files) > 0)
		if !keep {
			continue
		}
		cm := protocol.Comment{ID: wc.ID, Text: text}
		for _, f := range wc.Files {
			if f.Name != "" && f.URL != "" {
				cm.Files = append(cm.Files, protocol.FileRef{Name: f.Name, URL: f.URL})
			}
		}
		if cm.Text != "" || len(cm.Files) > 0 {
			out = append(out, cm)
		}
	}
	return out, nil
}

func (c *HTTPClient) GetBrief(ctx context.Context, ticketID string) (*protocol.TicketBrief, error) {
	var res struct {
		Result wireTicket `json:"result"`
	}
	if err := c.call(ctx, "ticket.get", map[string]any{"ticket_id": ticketID}, &res); err != nil {
		return nil, err
	}
	if res.Result.ID == "" {
		return nil, fmt.Errorf("ticketing: ticket %s not found", ticketID)
	}
	desc := stripMarkup(res.Result.Description)
	if runes := []rune(desc); len(runes) > 180 {
		desc = string(runes[:177]) + "..."
	}
	return &protocol.TicketBrief{
		ID:          res.Result.ID,
		Title:       res.Result.Title,
		Status:      res.Result.Status,
		Deadline:    res.Result.Deadline,
		Description: desc,
	}, nil
}

func (c *HTTPClient) FetchFile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ticketing: fetch file: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ticketing: fetch file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ticketing: fetch file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ticketing: fetch file: %w", err)
	}
	return data, nil
}
