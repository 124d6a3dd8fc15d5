package semscholar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/papergraph-backend/internal/platform/logger"
)

const paperFields = "paperId,title,abstract,year,externalIds,citationCount"

// Paper is the bibliographic record shape shared by all endpoints.
type Paper struct {
	PaperID       string            `json:"paperId"`
	Title         string            `json:"title"`
	Abstract      string            `json:"abstract"`
	Year          int               `json:"year"`
	ExternalIDs   map[string]string `json:"-"`
	CitationCount int               `json:"citationCount"`
}

func (p *Paper) UnmarshalJSON(raw []byte) error {
	type alias struct {
		PaperID       string         `json:"paperId"`
		Title         string         `json:"title"`
		Abstract      string         `json:"abstract"`
		Year          *int           `json:"year"`
		ExternalIDs   map[string]any `json:"externalIds"`
		CitationCount int            `json:"citationCount"`
	}
	var a alias
	if err := json.Unmarshal(raw, &a); err != nil {
		return err
	}
	p.PaperID = a.PaperID
	p.Title = a.Title
	p.Abstract = a.Abstract
	if a.Year != nil {
		p.Year = *a.Year
	}
	p.CitationCount = a.CitationCount
	if len(a.ExternalIDs) > 0 {
		p.ExternalIDs = make(map[string]string, len(a.ExternalIDs))
		for k, v := range a.ExternalIDs {
			p.ExternalIDs[k] = fmt.Sprintf("%v", v)
		}
	}
	return nil
}

type Client interface {
	MatchPaper(ctx context.Context, title string) (*Paper, error)
	Citations(ctx context.Context, paperID string, limit int) ([]Paper, error)
	References(ctx context.Context, paperID string, limit int) ([]Paper, error)
	Search(ctx context.Context, query string, limit int) ([]Paper, error)
}

type client struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimSpace(os.Getenv("SEMANTIC_SCHOLAR_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.semanticscholar.org/graph/v1"
	}
	return &client{
		log:     log.With("client", "SemanticScholarClient"),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(os.Getenv("SEMANTIC_SCHOLAR_API_KEY")),
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// MatchPaper resolves a title to its closest catalog entry. A 404 means no
// match and returns (nil, nil) so callers can fall back to another source.
func (c *client) MatchPaper(ctx context.Context, title string) (*Paper, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title required")
	}
	q := url.Values{}
	q.Set("query", title)
	q.Set("fields", paperFields)

	var out struct {
		Data []Paper `json:"data"`
	}
	err := c.doOnce(ctx, "/paper/search/match?"+q.Encode(), &out)
	if err != nil {
		var httpErr *httpError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, nil
	}
	return &out.Data[0], nil
}

func (c *client) Citations(ctx context.Context, paperID string, limit int) ([]Paper, error) {
	return c.linked(ctx, paperID, "citations", "citingPaper", limit)
}

func (c *client) References(ctx context.Context, paperID string, limit int) ([]Paper, error) {
	return c.linked(ctx, paperID, "references", "citedPaper", limit)
}

func (c *client) linked(ctx context.Context, paperID, edge, wrapper string, limit int) ([]Paper, error) {
	paperID = strings.TrimSpace(paperID)
	if paperID == "" {
		return nil, fmt.Errorf("paperID required")
	}
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{}
	q.Set("fields", paperFields)
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Data []map[string]json.RawMessage `json:"data"`
	}
	if err := c.doOnce(ctx, "/paper/"+url.PathEscape(paperID)+"/"+edge+"?"+q.Encode(), &out); err != nil {
		return nil, err
	}

	papers := make([]Paper, 0, len(out.Data))
	for _, row := range out.Data {
		raw, ok := row[wrapper]
		if !ok {
			continue
		}
		var p Paper
		if err := json.Unmarshal(raw, &p); err != nil {
			c.log.Warn("skipping malformed linked paper", "edge", edge, "error", err)
			continue
		}
		if strings.TrimSpace(p.PaperID) == "" {
			continue
		}
		papers = append(papers, p)
	}
	return papers, nil
}

func (c *client) Search(ctx context.Context, query string, limit int) ([]Paper, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query required")
	}
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("fields", paperFields)
	q.Set("limit", strconv.Itoa(limit))

	var out struct {
		Data []Paper `json:"data"`
	}
	if err := c.doOnce(ctx, "/paper/search?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

type httpError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpError) Error() string {
	if e == nil {
		return "semanticscholar: nil error"
	}
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("semanticscholar http %d: %s", e.StatusCode, body)
}

func (e *httpError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (e *httpError) RetryAfterHint() time.Duration {
	if e == nil {
		return 0
	}
	return e.RetryAfter
}

func (c *client) doOnce(ctx context.Context, pathAndQuery string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+pathAndQuery, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				httpErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return httpErr
	}
	if out == nil {
		return nil
	}
	if uErr := json.Unmarshal(raw, out); uErr != nil {
		return fmt.Errorf("semanticscholar decode error: %w", uErr)
	}
	return nil
}
