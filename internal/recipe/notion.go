package recipe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	notionBaseURL = "https://api.notion.com"
	notionVersion = "2022-06-28"

	// maxBlockDepth bounds the recursion into nested blocks.
	maxBlockDepth = 8
)

// NotionClient reads recipes from a Notion database. Each page of the
// database is one recipe; its title property is the recipe title and its
// block content, flattened to text, is the body.
type NotionClient struct {
	token      string
	databaseID string
	baseURL    string
	client     *http.Client
}

var (
	_ Getter = (*NotionClient)(nil)
	_ Lister = (*NotionClient)(nil)
)

// NotionOption configures a [NotionClient].
type NotionOption func(*NotionClient)

// WithNotionBaseURL overrides the API endpoint.
func WithNotionBaseURL(u string) NotionOption {
	return func(c *NotionClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithNotionHTTPClient sets the HTTP client. Default: 15s timeout.
func WithNotionHTTPClient(hc *http.Client) NotionOption {
	return func(c *NotionClient) { c.client = hc }
}

// NewNotionClient returns a client for the integration token. databaseID is
// only needed by List.
func NewNotionClient(token, databaseID string, opts ...NotionOption) (*NotionClient, error) {
	if token == "" {
		return nil, errors.New("recipe: notion token is required")
	}
	c := &NotionClient{
		token:      token,
		databaseID: databaseID,
		baseURL:    notionBaseURL,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type notionProperty struct {
	Type  string     `json:"type"`
	Title []richText `json:"title"`
}

type notionPage struct {
	ID             string                    `json:"id"`
	LastEditedTime time.Time                 `json:"last_edited_time"`
	Properties     map[string]notionProperty `json:"properties"`
}

func (p notionPage) title() string {
	for _, prop := range p.Properties {
		if prop.Type == "title" {
			return joinText(prop.Title)
		}
	}
	return ""
}

type notionList[T any] struct {
	Results    []T    `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type notionBlock struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`

	// raw holds the type-specific object, keyed by Type.
	raw map[string]json.RawMessage
}

func (b *notionBlock) UnmarshalJSON(data []byte) error {
	type plain notionBlock
	if err := json.Unmarshal(data, (*plain)(b)); err != nil {
		return err
	}
	return json.Unmarshal(data, &b.raw)
}

// text returns the block's own text with a list or heading prefix.
func (b notionBlock) text() string {
	var body struct {
		RichText []richText `json:"rich_text"`
		Checked  bool       `json:"checked"`
	}
	if raw, ok := b.raw[b.Type]; ok {
		_ = json.Unmarshal(raw, &body)
	}
	s := joinText(body.RichText)
	if s == "" {
		return ""
	}
	switch b.Type {
	case "bulleted_list_item":
		return "- " + s
	case "numbered_list_item":
		return "* " + s
	case "to_do":
		if body.Checked {
			return "[x] " + s
		}
		return "[ ] " + s
	case "heading_1", "heading_2", "heading_3":
		return strings.ToUpper(s[:1]) + s[1:] + ":"
	default:
		return s
	}
}

func joinText(parts []richText) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.PlainText)
	}
	return strings.TrimSpace(sb.String())
}

func (c *NotionClient) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("recipe: notion: encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("recipe: notion: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", notionVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("recipe: notion: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: notion %s", ErrNotFound, path)
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("recipe: notion: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("recipe: notion: decode %s: %w", path, err)
	}
	return nil
}

// List returns the pages of the recipe database without bodies.
func (c *NotionClient) List(ctx context.Context) ([]Recipe, error) {
	if c.databaseID == "" {
		return nil, errors.New("recipe: notion database id is required")
	}
	var (
		out    []Recipe
		cursor string
	)
	for {
		body := map[string]any{"page_size": 100}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var page notionList[notionPage]
		if err := c.do(ctx, http.MethodPost, "/v1/databases/"+url.PathEscape(c.databaseID)+"/query", body, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Results {
			out = append(out, Recipe{ID: p.ID, Title: p.title(), UpdatedAt: p.LastEditedTime})
		}
		if !page.HasMore || page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// Get fetches one page and flattens its blocks to text, one line per block,
// nested blocks indented by two spaces per level.
func (c *NotionClient) Get(ctx context.Context, pageID string) (*Recipe, error) {
	if pageID == "" {
		return nil, errors.New("recipe: notion page id is required")
	}
	var page notionPage
	if err := c.do(ctx, http.MethodGet, "/v1/pages/"+url.PathEscape(pageID), nil, &page); err != nil {
		return nil, err
	}

	var lines []string
	if title := page.title(); title != "" {
		lines = append(lines, title, "")
	}
	if err := c.collect(ctx, pageID, 0, &lines); err != nil {
		return nil, err
	}
	return &Recipe{
		ID:        page.ID,
		Title:     page.title(),
		Body:      strings.TrimSpace(strings.Join(lines, "\n")),
		UpdatedAt: page.LastEditedTime,
	}, nil
}

func (c *NotionClient) collect(ctx context.Context, blockID string, depth int, lines *[]string) error {
	cursor := ""
	for {
		q := url.Values{"page_size": {"100"}}
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		var list notionList[notionBlock]
		if err := c.do(ctx, http.MethodGet, "/v1/blocks/"+url.PathEscape(blockID)+"/children?"+q.Encode(), nil, &list); err != nil {
			return err
		}
		for _, b := range list.Results {
			if t := b.text(); t != "" {
				*lines = append(*lines, strings.Repeat("  ", depth)+t)
			}
			if b.HasChildren && depth < maxBlockDepth {
				if err := c.collect(ctx, b.ID, depth+1, lines); err != nil {
					return err
				}
			}
		}
		if !list.HasMore || list.NextCursor == "" {
			return nil
		}
		cursor = list.NextCursor
	}
}
