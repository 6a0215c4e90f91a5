// Package browser fetches rendered web pages with go-rod for the web_fetch tool.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/zivhm/yacb/internal/config"
	"github.com/zivhm/yacb/internal/logger"
	"github.com/zivhm/yacb/internal/tools"
)

var log = logger.Component("browser")

// Page is the readable content of a fetched page
type Page struct {
	URL   string
	Title string
	Text  string
}

// FetchFunc loads a page and returns its text, or the text of the elements
// matching selector when one is given
type FetchFunc func(ctx context.Context, rawURL, selector string) (Page, error)

// Browser lazily launches one headless Chrome and reuses it for every fetch
type Browser struct {
	timeout  time.Duration
	headless bool
	stealth  bool

	mu  sync.Mutex
	rod *rod.Browser
}

// New creates a browser from the web tool config. Chrome is not started
// until the first fetch.
func New(cfg config.WebToolConfig) *Browser {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Browser{
		timeout:  timeout,
		headless: cfg.Headless,
		stealth:  cfg.Stealth,
	}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rod != nil {
		return b.rod, nil
	}

	path, found := launcher.LookPath()
	if !found {
		return nil, errors.New("Chrome/Chromium not found")
	}

	l := launcher.New().
		Bin(path).
		Headless(b.headless).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	log.Info("🌐 browser launched (headless=%v, stealth=%v)", b.headless, b.stealth)
	b.rod = browser
	return browser, nil
}

// Close shuts down the browser if it was started
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rod != nil {
		_ = b.rod.Close()
		b.rod = nil
	}
}

// Fetch navigates to rawURL and extracts visible text
func (b *Browser) Fetch(ctx context.Context, rawURL, selector string) (Page, error) {
	if err := validateURL(rawURL); err != nil {
		return Page{}, err
	}
	browser, err := b.connect()
	if err != nil {
		return Page{}, err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return Page{}, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	// Stealth must be injected before navigation
	if b.stealth {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			return Page{}, fmt.Errorf("failed to inject stealth: %w", err)
		}
	}

	page = page.Timeout(b.timeout)
	if err := page.Navigate(rawURL); err != nil {
		return Page{}, fmt.Errorf("failed to navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return Page{}, fmt.Errorf("page load timeout: %w", err)
	}

	out := Page{URL: rawURL}
	if info, err := page.Info(); err == nil {
		out.Title = info.Title
		out.URL = info.URL
	}

	if selector == "" {
		body, err := page.Element("body")
		if err != nil {
			return Page{}, fmt.Errorf("failed to find body: %w", err)
		}
		text, err := body.Text()
		if err != nil {
			return Page{}, fmt.Errorf("failed to extract text: %w", err)
		}
		out.Text = cleanText(text)
		return out, nil
	}

	elements, err := page.Elements(selector)
	if err != nil {
		return Page{}, fmt.Errorf("selector error: %w", err)
	}
	var parts []string
	for _, el := range elements {
		if text, err := el.Text(); err == nil {
			if text = strings.TrimSpace(text); text != "" {
				parts = append(parts, text)
			}
		}
	}
	out.Text = cleanText(strings.Join(parts, "\n\n"))
	return out, nil
}

// validateURL checks if a URL is valid and safe to navigate to
func validateURL(urlStr string) error {
	if urlStr == "" {
		return errors.New("URL is required")
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("Only http/https URLs allowed")
	}
	if u.Host == "" {
		return errors.New("URL has no host")
	}

	lower := strings.ToLower(urlStr)
	if strings.Contains(lower, "javascript:") || strings.Contains(lower, "file:") || strings.Contains(lower, "data:") {
		return errors.New("dangerous URL scheme detected")
	}

	return nil
}

var (
	spaceRe   = regexp.MustCompile(` {2,}`)
	newlineRe = regexp.MustCompile(`\n{3,}`)
)

// cleanText normalizes text by collapsing whitespace
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\t", " ")
	text = spaceRe.ReplaceAllString(text, " ")
	text = newlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all|any|previous|prior) instructions`),
	regexp.MustCompile(`(?i)reveal (the )?(system prompt|hidden prompt|developer message)`),
	regexp.MustCompile(`(?i)do not follow safety`),
	regexp.MustCompile(`(?i)bypass (security|guardrails|polic(y|ies))`),
	regexp.MustCompile(`(?i)act as (system|developer|administrator|root)`),
}

// injectionSignals lists the prompt-injection patterns found in page text
func injectionSignals(text string) []string {
	hits := []string{}
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			hits = append(hits, re.String())
		}
	}
	return hits
}

type fetchResult struct {
	URL              string   `json:"url"`
	Title            string   `json:"title,omitempty"`
	Truncated        bool     `json:"truncated"`
	Length           int      `json:"length"`
	Text             string   `json:"text"`
	SecurityWarnings []string `json:"security_warnings"`
}

type fetchError struct {
	Error string `json:"error"`
	URL   string `json:"url"`
}

// NewFetchTool wraps a fetch function as the web_fetch tool. Results are
// JSON; failures carry an "error" key.
func NewFetchTool(fetch FetchFunc, maxChars int) *tools.Func {
	if maxChars <= 0 {
		maxChars = 12000
	}
	return &tools.Func{
		Name:        "web_fetch",
		Description: "Open a URL in a headless browser and return the page title and readable text. Optionally restrict to elements matching a CSS selector.",
		Parameters: []tools.Parameter{
			{Name: "url", Type: "string", Description: "URL to fetch (http or https)", Required: true},
			{Name: "selector", Type: "string", Description: "Optional CSS selector to extract"},
			{Name: "max_chars", Type: "integer", Description: "Maximum characters of text to return"},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			rawURL := tools.StringParam(params, "url")
			limit := maxChars
			if n, ok := tools.IntParam(params, "max_chars"); ok && n >= 100 {
				limit = n
			}

			if err := validateURL(rawURL); err != nil {
				return encode(fetchError{Error: err.Error(), URL: rawURL}), nil
			}
			page, err := fetch(ctx, rawURL, tools.StringParam(params, "selector"))
			if err != nil {
				log.Debug("web_fetch %s failed: %v", rawURL, err)
				return encode(fetchError{Error: err.Error(), URL: rawURL}), nil
			}

			text := page.Text
			runes := []rune(text)
			truncated := len(runes) > limit
			if truncated {
				text = string(runes[:limit])
			}
			return encode(fetchResult{
				URL:              page.URL,
				Title:            page.Title,
				Truncated:        truncated,
				Length:           len([]rune(text)),
				Text:             text,
				SecurityWarnings: injectionSignals(text),
			}), nil
		},
	}
}

func encode(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}
