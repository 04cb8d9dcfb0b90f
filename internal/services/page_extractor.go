package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/markusmobius/go-trafilatura"
	cache "github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"

	"github.com/marianar97/maggie-web-api-endpoint/internal/security"
)

const (
	pageUserAgent     = "MaggieBot/1.0 (+https://maggieweb.vercel.app/bot)"
	pageMaxBodySize   = 5 * 1024 * 1024 // 5MB
	pageMaxConcurrent = 8
	pageDefaultDelay  = 500 * time.Millisecond
	pageMaxDelay      = 10 * time.Second
)

// PageDetails is what a fetched article page contributes to a resource
type PageDetails struct {
	Title   string
	Text    string
	Image   string
	Favicon string
}

// PageExtractor downloads article pages politely and extracts their main text.
// It honors robots.txt, spaces requests per domain and bounds concurrent downloads.
type PageExtractor struct {
	client    *http.Client
	userAgent string

	robots         *cache.Cache // scheme://host -> *robotstxt.RobotsData
	domainLimiters sync.Map     // host -> *rate.Limiter
	slots          chan struct{}

	lookupHost security.LookupFunc

	// allowPrivate disables the private address guard, for tests against httptest servers
	allowPrivate bool
}

// NewPageExtractor creates an extractor with a connection-pooled client
func NewPageExtractor() *PageExtractor {
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &PageExtractor{
		client: &http.Client{
			Transport: transport,
			Timeout:   20 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (max 5)")
				}
				return nil
			},
		},
		userAgent:  pageUserAgent,
		robots:     cache.New(24*time.Hour, 1*time.Hour),
		slots:      make(chan struct{}, pageMaxConcurrent),
		lookupHost: net.DefaultResolver.LookupIPAddr,
	}
}

// Extract fetches a page and returns its readable text and imagery
func (p *PageExtractor) Extract(ctx context.Context, pageURL string) (*PageDetails, error) {
	parsed, err := p.validateURL(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	allowed, delay := p.checkRobots(ctx, parsed)
	if !allowed {
		return nil, fmt.Errorf("access blocked by robots.txt for: %s", pageURL)
	}

	if err := p.domainLimiter(parsed.Host, delay).Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.slots }()

	body, err := p.download(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	return extractDetails(body, parsed)
}

func (p *PageExtractor) download(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned HTTP %d", resp.StatusCode)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "text/html") && !strings.Contains(contentType, "application/xhtml+xml") {
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, pageMaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}
	if len(body) > pageMaxBodySize {
		return nil, fmt.Errorf("page too large (max %d bytes)", pageMaxBodySize)
	}
	return body, nil
}

// extractDetails runs content extraction and looks up the page icon
func extractDetails(body []byte, pageURL *url.URL) (*PageDetails, error) {
	result, err := trafilatura.Extract(bytes.NewReader(body), trafilatura.Options{
		OriginalURL: pageURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}
	if result == nil || strings.TrimSpace(result.ContentText) == "" {
		return nil, fmt.Errorf("no content extracted from page")
	}

	details := &PageDetails{
		Title: result.Metadata.Title,
		Text:  result.ContentText,
		Image: result.Metadata.Image,
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return details, nil
	}
	if details.Image == "" {
		if content, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
			details.Image = resolveURL(pageURL, content)
		}
	}
	if href, ok := doc.Find(`link[rel~="icon"]`).First().Attr("href"); ok {
		details.Favicon = resolveURL(pageURL, href)
	} else {
		details.Favicon = pageURL.Scheme + "://" + pageURL.Host + "/favicon.ico"
	}

	return details, nil
}

func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	return u.String()
}

// checkRobots reports whether the path may be fetched and the crawl delay to use.
// Missing or unreadable robots.txt allows the fetch.
func (p *PageExtractor) checkRobots(ctx context.Context, pageURL *url.URL) (bool, time.Duration) {
	origin := pageURL.Scheme + "://" + pageURL.Host

	robots, found := p.robots.Get(origin)
	if !found {
		data, err := p.fetchRobots(ctx, origin)
		if err != nil {
			return true, pageDefaultDelay
		}
		p.robots.Set(origin, data, cache.DefaultExpiration)
		robots = data
	}

	group := robots.(*robotstxt.RobotsData).FindGroup(p.userAgent)
	delay := pageDefaultDelay
	if group.CrawlDelay > 0 {
		delay = min(group.CrawlDelay, pageMaxDelay)
	}
	return group.Test(pageURL.Path), delay
}

func (p *PageExtractor) fetchRobots(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("robots.txt returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, err
	}
	return robotstxt.FromBytes(body)
}

// domainLimiter returns the limiter for a host, created from the first crawl delay seen
func (p *PageExtractor) domainLimiter(host string, delay time.Duration) *rate.Limiter {
	if limiter, ok := p.domainLimiters.Load(host); ok {
		return limiter.(*rate.Limiter)
	}
	actual, _ := p.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Every(delay), 1))
	return actual.(*rate.Limiter)
}

// validateURL rejects URLs that would make the server reach internal networks
func (p *PageExtractor) validateURL(ctx context.Context, raw string) (*url.URL, error) {
	if p.allowPrivate {
		return url.Parse(raw)
	}
	return security.CheckOutboundURL(ctx, raw, p.lookupHost)
}

// logExtractFailure keeps enrichment failures out of the error path
func logExtractFailure(pageURL string, err error) {
	log.Printf("⚠️  [RESOURCES] Could not extract %s: %v", pageURL, err)
}
