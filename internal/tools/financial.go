package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/adapters"
)

// Quote is a point-in-time view of one listed security.
type Quote struct {
	Ticker        string  `json:"ticker"`
	Name          string  `json:"name,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change,omitempty"`
	ChangePercent float64 `json:"change_percent,omitempty"`
	MarketCap     float64 `json:"market_cap,omitempty"`
	PE            float64 `json:"pe,omitempty"`
	Sector        string  `json:"sector,omitempty"`
}

// QuoteSource looks up quotes.
type QuoteSource interface {
	Quote(ctx context.Context, ticker string) (Quote, error)
}

// HTTPQuoteSource fetches quotes from a JSON endpoint. The endpoint may
// contain a {ticker} placeholder; otherwise the ticker is sent as a query
// parameter.
type HTTPQuoteSource struct {
	endpoint string
	client   *http.Client
}

// NewHTTPQuoteSource returns a source for endpoint. A nil client gets a
// 10 second timeout.
func NewHTTPQuoteSource(endpoint string, client *http.Client) *HTTPQuoteSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPQuoteSource{endpoint: endpoint, client: client}
}

// Quote implements QuoteSource.
func (s *HTTPQuoteSource) Quote(ctx context.Context, ticker string) (Quote, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return Quote{}, fmt.Errorf("ticker is empty")
	}

	target := s.endpoint
	if strings.Contains(target, "{ticker}") {
		target = strings.ReplaceAll(target, "{ticker}", url.PathEscape(ticker))
	} else {
		u, err := url.Parse(target)
		if err != nil {
			return Quote{}, fmt.Errorf("invalid quote endpoint: %w", err)
		}
		q := u.Query()
		q.Set("ticker", ticker)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("quote request for %s failed: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Quote{}, fmt.Errorf("no information found for %q", ticker)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("quote service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return Quote{}, fmt.Errorf("failed to decode quote for %s: %w", ticker, err)
	}
	if quote.Ticker == "" {
		quote.Ticker = ticker
	}
	return quote, nil
}

// FinancialProvider exposes get_stock_info and compare_stocks.
func FinancialProvider(src QuoteSource) *adapters.Provider {
	lookup := func(ctx context.Context, ticker string) (Quote, error) {
		if src == nil {
			return Quote{}, fmt.Errorf("no quote source is configured")
		}
		return src.Quote(ctx, ticker)
	}

	info := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		ticker, err := stringArg(args, "ticker")
		if err != nil {
			return nil, err
		}
		q, err := lookup(ctx, ticker)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"summary": describeQuote(q),
			"quote":   q,
		}, nil
	}

	compare := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		tickers, err := tickerList(args["tickers"])
		if err != nil {
			return nil, err
		}
		quotes := make([]Quote, 0, len(tickers))
		for _, t := range tickers {
			q, err := lookup(ctx, t)
			if err != nil {
				return nil, err
			}
			quotes = append(quotes, q)
		}

		labels := make([]string, len(quotes))
		prices := make([]float64, len(quotes))
		changes := make([]float64, len(quotes))
		lines := make([]string, len(quotes))
		for i, q := range quotes {
			labels[i], prices[i], changes[i] = q.Ticker, q.Price, q.ChangePercent
			lines[i] = describeQuote(q)
		}
		return map[string]interface{}{
			"summary": strings.Join(lines, "; "),
			"title":   "Price comparison: " + strings.Join(labels, ", "),
			"quotes":  quotes,
			"chart": map[string]interface{}{
				"type":   "bar",
				"labels": labels,
				"series": []map[string]interface{}{
					{"name": "price", "values": prices},
					{"name": "change_percent", "values": changes},
				},
			},
		}, nil
	}

	return adapters.NewProvider("financial",
		adapters.NewGoToolAdapter("get_stock_info", info,
			adapters.WithDescription("Gets price and fundamentals for a stock ticker (e.g. AAPL, MSFT)."),
			adapters.WithCategory(mcpdesk.CategoryFinancial),
			adapters.WithParameters(adapters.Required("ticker", mcpdesk.ParamString, "stock symbol"))),
		adapters.NewGoToolAdapter("compare_stocks", compare,
			adapters.WithDescription("Compares prices of several tickers and returns a chart."),
			adapters.WithCategory(mcpdesk.CategoryFinancial),
			adapters.WithParameters(adapters.Required("tickers", mcpdesk.ParamAny, "list of symbols or a comma separated string"))),
	)
}

func tickerList(v interface{}) ([]string, error) {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []interface{}:
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("tickers must be strings, got %T", e)
			}
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("tickers must be a list or a comma separated string, got %T", v)
	}
	var out []string
	for _, s := range raw {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("at least two tickers are needed for a comparison")
	}
	return out, nil
}

func describeQuote(q Quote) string {
	var b strings.Builder
	name := q.Ticker
	if q.Name != "" {
		name = fmt.Sprintf("%s (%s)", q.Name, q.Ticker)
	}
	fmt.Fprintf(&b, "%s trades at %s", name, formatNum(q.Price))
	if q.Currency != "" {
		fmt.Fprintf(&b, " %s", q.Currency)
	}
	if q.ChangePercent != 0 {
		fmt.Fprintf(&b, ", %+.2f%% today", q.ChangePercent)
	}
	if q.PE != 0 {
		fmt.Fprintf(&b, ", P/E %.2f", q.PE)
	}
	return b.String()
}
