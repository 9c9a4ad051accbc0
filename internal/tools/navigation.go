package tools

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/adapters"
)

// BrowserOptions configures scrape_url.
type BrowserOptions struct {
	Headless     bool
	Timeout      time.Duration
	AllowPrivate bool
	MaxChars     int
	// Resolver looks up hostnames for the private address check. Nil uses
	// net.DefaultResolver.
	Resolver HostResolver
}

// Browser drives a shared headless browser, launched on first use.
type Browser struct {
	opts  BrowserOptions
	guard URLGuard

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewBrowser returns a browser that has not been launched yet.
func NewBrowser(opts BrowserOptions) *Browser {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 20000
	}
	return &Browser{opts: opts, guard: URLGuard{AllowPrivate: opts.AllowPrivate, Resolver: opts.Resolver}}
}

// Provider exposes scrape_url.
func (b *Browser) Provider() *adapters.Provider {
	return adapters.NewProvider("navigation",
		adapters.NewGoToolAdapter("scrape_url", b.scrape,
			adapters.WithDescription("Opens a web page and returns its title and visible text."),
			adapters.WithCategory(mcpdesk.CategoryNavigation),
			adapters.WithParameters(adapters.Required("url", mcpdesk.ParamString, "http or https URL"))),
	)
}

func (b *Browser) scrape(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	raw, err := stringArg(args, "url")
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()
	if err := b.guard.Check(ctx, raw); err != nil {
		return nil, err
	}

	browser, err := b.ensure()
	if err != nil {
		return nil, err
	}
	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	// Every request the page makes, redirects included, passes the guard.
	var (
		blockedMu sync.Mutex
		blocked   error
	)
	router := page.HijackRequests()
	if err := router.Add("*", "", func(h *rod.Hijack) {
		if err := b.guard.Check(ctx, h.Request.URL().String()); err != nil {
			if h.Request.Type() == proto.NetworkResourceTypeDocument {
				blockedMu.Lock()
				blocked = err
				blockedMu.Unlock()
			}
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	}); err != nil {
		return nil, fmt.Errorf("failed to intercept requests: %w", err)
	}
	go router.Run()
	defer func() { _ = router.Stop() }()

	blockedErr := func() error {
		blockedMu.Lock()
		defer blockedMu.Unlock()
		return blocked
	}
	if err := page.Navigate(raw); err != nil {
		if berr := blockedErr(); berr != nil {
			return nil, berr
		}
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("page load failed: %w", err)
	}
	if berr := blockedErr(); berr != nil {
		return nil, berr
	}
	final := raw
	if info, err := page.Info(); err == nil && info.URL != "" {
		final = info.URL
		if err := b.guard.Check(ctx, final); err != nil {
			return nil, err
		}
	}

	title, err := page.Eval(`() => document.title`)
	if err != nil {
		return nil, fmt.Errorf("failed to read title: %w", err)
	}
	body, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	text := CleanText(body.Value.Str())
	truncated := false
	if r := []rune(text); len(r) > b.opts.MaxChars {
		text = string(r[:b.opts.MaxChars])
		truncated = true
	}
	return map[string]interface{}{
		"summary":   fmt.Sprintf("%s: %s", title.Value.Str(), text),
		"url":       final,
		"title":     title.Value.Str(),
		"text":      text,
		"truncated": truncated,
	}, nil
}

func (b *Browser) ensure() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	l := launcher.New().Headless(b.opts.Headless)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	b.launcher, b.browser = l, browser
	return browser, nil
}

// Close shuts the browser down if it was launched.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.launcher.Kill()
	b.browser, b.launcher = nil, nil
	return err
}

// HostResolver resolves hostnames; *net.Resolver implements it.
type HostResolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// URLGuard accepts only http(s) URLs and, unless AllowPrivate is set, refuses
// hosts that are or resolve to loopback, private or link-local addresses.
type URLGuard struct {
	AllowPrivate bool
	Resolver     HostResolver
}

// Check validates raw.
func (g URLGuard) Check(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("only http and https URLs are allowed, got %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	if g.AllowPrivate {
		return nil
	}
	if isPrivateHost(host) {
		return fmt.Errorf("access to private or loopback addresses is denied: %s", host)
	}
	if net.ParseIP(host) != nil {
		return nil
	}

	resolver := g.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to resolve host '%s': %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("host '%s' has no addresses", host)
	}
	for _, a := range addrs {
		if isPrivateIP(a.IP) {
			return fmt.Errorf("access to private or loopback addresses is denied: %s resolves to %s", host, a.IP)
		}
	}
	return nil
}

// CheckURL is URLGuard.Check with the system resolver.
func CheckURL(ctx context.Context, raw string, allowPrivate bool) error {
	return URLGuard{AllowPrivate: allowPrivate}.Check(ctx, raw)
}

func isPrivateHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "ip6-localhost", "ip6-loopback":
		return true
	}
	if strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && isPrivateIP(ip)
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
