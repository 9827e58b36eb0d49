package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/xhad/tutor/internal/models"
	"golang.org/x/time/rate"
)

type WebConfig struct {
	BaseURL           string
	MaxDepth          int
	MaxPages          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	OnProgress        func(url string)
	Logger            *zerolog.Logger
}

// WebSource crawls course pages below BaseURL. Each fetched page becomes
// one document page, in crawl order.
type WebSource struct {
	config   WebConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
	docs     []models.Document
	log      zerolog.Logger
}

func NewWeb(config WebConfig) (*WebSource, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.MaxPages == 0 {
		config.MaxPages = 200
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", config.BaseURL)
	}

	w := &WebSource{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		visited:  make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
		log:      zerolog.Nop(),
	}
	if config.Logger != nil {
		w.log = *config.Logger
	}
	return w, nil
}

func (w *WebSource) Name() string { return w.config.BaseURL }

// Load crawls from BaseURL. Failures on linked pages are logged and
// skipped; a failure on the start page is returned.
func (w *WebSource) Load(ctx context.Context) error {
	return w.crawl(ctx, w.config.BaseURL, 0)
}

// Documents returns the fetched pages with their titles and headers.
func (w *WebSource) Documents() []models.Document {
	out := make([]models.Document, len(w.docs))
	copy(out, w.docs)
	return out
}

func (w *WebSource) PageCount() int { return len(w.docs) }

func (w *WebSource) PageText(ctx context.Context, page int) (string, error) {
	if page < 0 || page >= len(w.docs) {
		return "", fmt.Errorf("page %d out of range [0, %d)", page, len(w.docs))
	}
	return w.docs[page].Content, nil
}

func (w *WebSource) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Host != w.baseHost {
		return false
	}

	path := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range w.config.AllowedExtensions {
		if strings.HasSuffix(path, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	for _, pattern := range w.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

var noisePatterns = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
}

func cleanLine(line string) string {
	line = strings.Join(strings.Fields(line), " ")
	for _, pattern := range noisePatterns {
		line = strings.ReplaceAll(line, pattern, "")
	}
	return strings.TrimSpace(line)
}

// extractMainContent returns the main content area of a page with one
// block element per line, so paragraph chunking sees the page structure.
func extractMainContent(doc *goquery.Document) string {
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".lesson",
		"#lesson",
	}

	root := doc.Find("body")
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			root = selected.First()
			break
		}
	}

	var lines []string
	root.Find("h1, h2, h3, h4, h5, h6, p, li, pre, td").Each(func(_ int, s *goquery.Selection) {
		if line := cleanLine(s.Text()); line != "" {
			lines = append(lines, line)
		}
	})
	if len(lines) == 0 {
		if line := cleanLine(root.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func (w *WebSource) crawl(ctx context.Context, urlStr string, depth int) error {
	if depth > w.config.MaxDepth || w.visited[urlStr] || len(w.docs) >= w.config.MaxPages {
		return nil
	}
	if !w.shouldProcessURL(urlStr) {
		return nil
	}

	w.visited[urlStr] = true
	if w.config.OnProgress != nil {
		w.config.OnProgress(urlStr)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return err
	}

	w.docs = append(w.docs, models.Document{
		ID:      fmt.Sprintf("%d", len(w.docs)),
		URL:     urlStr,
		Title:   strings.TrimSpace(doc.Find("title").Text()),
		Content: extractMainContent(doc),
		Metadata: map[string]interface{}{
			"depth":        depth,
			"time":         time.Now(),
			"contentType":  resp.Header.Get("Content-Type"),
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	})

	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			w.log.Debug().Err(err).Str("href", href).Msg("skipping unparsable link")
			return
		}
		base, _ := url.Parse(urlStr)
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		links = append(links, abs.String())
	})

	for _, link := range links {
		if err := w.crawl(ctx, link, depth+1); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn().Err(err).Str("url", link).Msg("failed to fetch page")
		}
	}
	return nil
}
