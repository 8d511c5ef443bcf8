package baidu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hqzhang/indexhunter/internal/config"
	"github.com/hqzhang/indexhunter/internal/models"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const (
	searchIndexPath = "/api/SearchApi/index"
	trendIndexPath  = "/api/FeedSearchApi/getFeedIndex"
	decryptKeyPath  = "/Interface/ptbk"
)

// CipherTextFunc produces the Cipher-Text header value for a page URL. The
// upstream validates it per request; generation is pluggable because it runs
// an obfuscated script outside this module.
type CipherTextFunc func(pageURL string) (string, error)

// Client talks to the index upstream with borrowed account credentials. All
// requests share one rate limiter so concurrent crawl workers respect the
// global request spacing, and transport failures retry with exponential
// backoff. Body-level error statuses never retry here: they are verdicts on
// the account, and the caller decides what to do with it.
type Client struct {
	httpClient *http.Client
	cfg        config.UpstreamConfig
	limiter    *rate.Limiter
	cipherText CipherTextFunc
	logger     *slog.Logger
}

// NewClient creates a new Client
func NewClient(cfg config.UpstreamConfig, cipherText CipherTextFunc, logger *slog.Logger) *Client {
	spacing := cfg.RequestSpacing
	if spacing <= 0 {
		spacing = 3 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Every(spacing), 1),
		cipherText: cipherText,
		logger:     logger,
	}
}

// SearchIndex fetches the encrypted search-index series for one keyword and
// area over a date range. The outcome tells the caller whether the account
// survived the request.
func (c *Client) SearchIndex(ctx context.Context, creds models.CookieFields, keyword string, area int, startDate, endDate string) (*SearchIndexResult, Outcome, error) {
	reqURL := c.cfg.BaseURL + searchIndexPath + "?" + indexQuery(keyword, area, startDate, endDate)

	body, err := c.get(ctx, reqURL, creds, keyword)
	if err != nil {
		return nil, OutcomeTransport, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, OutcomeTransport, fmt.Errorf("decode search index response: %w", err)
	}

	if outcome := classifyStatus(resp.Status, resp.Message); outcome != OutcomeOK {
		return nil, outcome, fmt.Errorf("search index request rejected: status %d: %s", resp.Status, resp.Message)
	}
	if len(resp.Data.UserIndexes) == 0 {
		return nil, OutcomeBadRequest, fmt.Errorf("search index response has no series for %q", keyword)
	}

	series := resp.Data.UserIndexes[0]
	return &SearchIndexResult{
		Keyword: keyword,
		Area:    area,
		UniqID:  resp.Data.UniqID,
		All:     series.All.Data,
		Wise:    series.Wise.Data,
		PC:      series.PC.Data,
	}, OutcomeOK, nil
}

// TrendIndex fetches the encrypted feed-trend series.
func (c *Client) TrendIndex(ctx context.Context, creds models.CookieFields, keyword string, area int, startDate, endDate string) (*TrendIndexResult, Outcome, error) {
	reqURL := c.cfg.BaseURL + trendIndexPath + "?" + indexQuery(keyword, area, startDate, endDate)

	body, err := c.get(ctx, reqURL, creds, keyword)
	if err != nil {
		return nil, OutcomeTransport, err
	}

	var resp trendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, OutcomeTransport, fmt.Errorf("decode trend index response: %w", err)
	}

	if outcome := classifyStatus(resp.Status, resp.Message); outcome != OutcomeOK {
		return nil, outcome, fmt.Errorf("trend index request rejected: status %d: %s", resp.Status, resp.Message)
	}
	if len(resp.Data.Index) == 0 {
		return nil, OutcomeBadRequest, fmt.Errorf("trend index response has no series for %q", keyword)
	}

	return &TrendIndexResult{
		Keyword: keyword,
		Area:    area,
		UniqID:  resp.Data.UniqID,
		Data:    resp.Data.Index[0].Data,
	}, OutcomeOK, nil
}

// FetchKey retrieves the decryption key for one response's uniqid. Keys are
// never reused across uniqids, so there is nothing to cache.
func (c *Client) FetchKey(ctx context.Context, creds models.CookieFields, uniqid string) (string, error) {
	reqURL := c.cfg.BaseURL + decryptKeyPath + "?uniqid=" + url.QueryEscape(uniqid)

	body, err := c.get(ctx, reqURL, creds, "")
	if err != nil {
		return "", err
	}

	var resp keyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode key response: %w", err)
	}
	if resp.Status != StatusOK || resp.Data == "" {
		return "", fmt.Errorf("%w: status %d: %s", models.ErrKeyUnavailable, resp.Status, resp.Message)
	}
	return resp.Data, nil
}

// get performs a rate-limited request with the browser header set and the
// assembled Cookie header, retrying transport failures up to MaxAttempts.
func (c *Client) get(ctx context.Context, reqURL string, creds models.CookieFields, keyword string) ([]byte, error) {
	attempts := c.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(500*time.Millisecond))

	var body []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		if err := c.setHeaders(req, creds, keyword); err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("upstream request failed", slog.String("url", reqURL), slog.Any("error", err))
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
			if resp.StatusCode >= 500 {
				return retry.RetryableError(err)
			}
			return err
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) setHeaders(req *http.Request, creds models.CookieFields, keyword string) error {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Referer", c.cfg.Referer)
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("sec-ch-ua", `"Google Chrome";v="137", "Chromium";v="137", "Not/A)Brand";v="24"`)
	req.Header.Set("sec-ch-ua-mobile", "?0")
	req.Header.Set("sec-ch-ua-platform", `"macOS"`)
	req.Header.Set("Cookie", creds.Header())

	if c.cipherText != nil && keyword != "" {
		encoded := url.QueryEscape(keyword)
		pageURL := c.cfg.Referer + "#/trend/" + encoded + "?words=" + encoded
		cipher, err := c.cipherText(pageURL)
		if err != nil {
			return fmt.Errorf("generate cipher text: %w", err)
		}
		req.Header.Set("Cipher-Text", cipher)
	}
	return nil
}

// indexQuery assembles the query string shared by the search and trend
// endpoints. The word parameter is a JSON array literal as the web app sends
// it.
func indexQuery(keyword string, area int, startDate, endDate string) string {
	word := fmt.Sprintf(`[[{"name":"%s","wordType":1}]]`, keyword)

	q := url.Values{}
	q.Set("area", strconv.Itoa(area))
	q.Set("word", word)
	q.Set("startDate", startDate)
	q.Set("endDate", endDate)
	return q.Encode()
}
