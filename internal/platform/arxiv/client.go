package arxiv

import (
	"context"
	"encoding/xml"
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

// Entry is one paper from the arXiv Atom feed.
type Entry struct {
	ArxivID    string
	Title      string
	Abstract   string
	Year       int
	Published  time.Time
	Authors    []string
	Categories []string
}

type Client interface {
	SearchByTitle(ctx context.Context, title string, limit int) ([]Entry, error)
	SearchByAuthor(ctx context.Context, author string, limit int) ([]Entry, error)
	SearchByCategory(ctx context.Context, category string, limit int) ([]Entry, error)
	SearchAll(ctx context.Context, query string, limit int) ([]Entry, error)
	// FindByExactTitle is the fallback seed lookup: best title match or nil.
	FindByExactTitle(ctx context.Context, title string) (*Entry, error)
}

type client struct {
	log     *logger.Logger
	baseURL string
	http    *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	baseURL := strings.TrimSpace(os.Getenv("ARXIV_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://export.arxiv.org/api/query"
	}
	return &client{
		log:     log.With("client", "ArxivClient"),
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *client) SearchByTitle(ctx context.Context, title string, limit int) ([]Entry, error) {
	return c.search(ctx, `ti:"`+escapeQuery(title)+`"`, limit)
}

func (c *client) SearchByAuthor(ctx context.Context, author string, limit int) ([]Entry, error) {
	return c.search(ctx, `au:"`+escapeQuery(author)+`"`, limit)
}

func (c *client) SearchByCategory(ctx context.Context, category string, limit int) ([]Entry, error) {
	return c.search(ctx, "cat:"+escapeQuery(category), limit)
}

func (c *client) SearchAll(ctx context.Context, query string, limit int) ([]Entry, error) {
	return c.search(ctx, `all:"`+escapeQuery(query)+`"`, limit)
}

func (c *client) FindByExactTitle(ctx context.Context, title string) (*Entry, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title required")
	}
	entries, err := c.SearchByTitle(ctx, title, 10)
	if err != nil {
		return nil, err
	}
	want := normalizeTitle(title)
	for i := range entries {
		if normalizeTitle(entries[i].Title) == want {
			return &entries[i], nil
		}
	}
	if len(entries) > 0 {
		return &entries[0], nil
	}
	return nil, nil
}

func (c *client) search(ctx context.Context, searchQuery string, limit int) ([]Entry, error) {
	if strings.TrimSpace(searchQuery) == "" {
		return nil, fmt.Errorf("search query required")
	}
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{}
	q.Set("search_query", searchQuery)
	q.Set("start", "0")
	q.Set("max_results", strconv.Itoa(limit))
	q.Set("sortBy", "relevance")

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return parseFeed(raw)
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	if e == nil {
		return "arxiv: nil error"
	}
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("arxiv http %d: %s", e.StatusCode, body)
}

func (e *httpError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// -------------------- Atom feed parsing --------------------

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

func parseFeed(raw []byte) ([]Entry, error) {
	var feed atomFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return nil, fmt.Errorf("arxiv feed decode error: %w", err)
	}

	out := make([]Entry, 0, len(feed.Entries))
	for _, ae := range feed.Entries {
		e := Entry{
			ArxivID:  arxivIDFromURL(ae.ID),
			Title:    collapseWhitespace(ae.Title),
			Abstract: collapseWhitespace(ae.Summary),
		}
		if e.ArxivID == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(ae.Published)); err == nil {
			e.Published = t
			e.Year = t.Year()
		}
		for _, a := range ae.Authors {
			if name := strings.TrimSpace(a.Name); name != "" {
				e.Authors = append(e.Authors, name)
			}
		}
		for _, c := range ae.Categories {
			if term := strings.TrimSpace(c.Term); term != "" {
				e.Categories = append(e.Categories, term)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// arxivIDFromURL strips "http://arxiv.org/abs/" and any version suffix.
func arxivIDFromURL(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, "/abs/"); i >= 0 {
		id = id[i+len("/abs/"):]
	}
	if i := strings.LastIndex(id, "v"); i > 0 {
		if _, err := strconv.Atoi(id[i+1:]); err == nil {
			id = id[:i]
		}
	}
	return id
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), `"`, "")
}

func normalizeTitle(s string) string {
	return strings.ToLower(collapseWhitespace(s))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, " ", " ")), " ")
}
