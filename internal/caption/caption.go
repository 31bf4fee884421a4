// Package caption talks to an Ollama vision endpoint to produce photo
// captions and tags. The endpoint is optional: an empty URL disables
// both stages, and an unreachable endpoint trips a cool-down so a scan
// over a large library does not hammer a dead service.
package caption

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/photoindex/internal/conf"
	"github.com/tphakala/photoindex/internal/errors"
	"github.com/tphakala/photoindex/internal/logging"
)

const (
	captionPrompt = "Describe this photo in one or two concise sentences. " +
		"Focus on the main subject, setting, and any notable details. " +
		"Be specific and descriptive."

	tagPrompt = "List tags for this photo as a comma-separated list. " +
		"Include: specific objects, scenes, activities, locations/landmarks, " +
		"colors, mood, weather, time of day, and any other relevant descriptors. " +
		"Be specific (e.g. 'golden retriever' not just 'dog', 'Eiffel Tower' not just 'tower'). " +
		"Return ONLY the comma-separated tags, nothing else. " +
		"Example: sunset, beach, ocean, golden hour, waves, silhouette"

	captionNumPredict = 150
	tagNumPredict     = 200
	temperature       = 0.3

	probeTimeout = 5 * time.Second

	// One request per interval shared across all workers; burst covers
	// the concurrency gate so a fresh client does not stall.
	requestInterval = time.Second

	// Consecutive transport or server failures before the cool-down
	// kicks in.
	cooldownAfter = 3
)

// Client is the vision-endpoint client shared by the caption and tags
// stages. Safe for concurrent use.
type Client struct {
	url     string
	model   string
	timeout time.Duration

	httpClient *http.Client
	limiter    *rate.Limiter
	sem        chan struct{}
	logger     *slog.Logger

	cooldown time.Duration

	mu         sync.Mutex
	failStreak int
	coolUntil  time.Time
}

// NewClient builds a client from the Ollama settings. An empty URL
// yields a disabled client; callers check Enabled before queueing
// caption or tag work.
func NewClient(settings conf.OllamaSettings) *Client {
	logger := logging.ForService("caption")
	if logger == nil {
		logger = slog.Default().With("service", "caption")
	}

	timeout := time.Duration(settings.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	concurrent := settings.MaxConcurrent
	if concurrent <= 0 {
		concurrent = 1
	}

	c := &Client{
		url:        strings.TrimRight(settings.URL, "/"),
		model:      settings.Model,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(requestInterval), concurrent),
		sem:        make(chan struct{}, concurrent),
		logger:     logger,
		cooldown:   time.Duration(settings.Cooldown) * time.Second,
	}
	if c.url == "" {
		logger.Info("captioning disabled, no endpoint configured")
	} else {
		logger.Info("caption client ready",
			"url", c.url, "model", c.model,
			"timeout", timeout, "max_concurrent", concurrent,
			"cooldown", c.cooldown)
	}
	return c
}

// Enabled reports whether an endpoint is configured at all.
func (c *Client) Enabled() bool { return c != nil && c.url != "" }

// Available probes the endpoint with a short timeout. Used before a
// scan hands out caption work, so a down endpoint skips cleanly
// instead of failing file by file.
func (c *Client) Available(ctx context.Context) bool {
	if !c.Enabled() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.url+"/api/tags", http.NoBody)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("endpoint probe failed", "url", c.url, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Caption asks the model to describe the image (a JPEG payload). An
// empty caption after think-block stripping is not an error; the stage
// records the attempt and moves on, matching how flaky vision output
// is treated everywhere else.
func (c *Client) Caption(ctx context.Context, jpeg []byte) (string, error) {
	raw, err := c.generate(ctx, captionPrompt, captionNumPredict, jpeg)
	if err != nil {
		return "", err
	}
	return StripThinkBlocks(raw), nil
}

// Tags asks the model for comma-separated labels and normalizes them.
func (c *Client) Tags(ctx context.Context, jpeg []byte) ([]string, error) {
	raw, err := c.generate(ctx, tagPrompt, tagNumPredict, jpeg)
	if err != nil {
		return nil, err
	}
	return NormalizeTags(StripThinkBlocks(raw)), nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Images  []string        `json:"images"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *Client) generate(ctx context.Context, prompt string, numPredict int, jpeg []byte) (string, error) {
	if !c.Enabled() {
		return "", errors.Newf("captioning disabled, no endpoint configured").
			Component("caption").
			Category(errors.CategoryExternalDisabled).
			Build()
	}
	if remaining, cooling := c.coolingDown(); cooling {
		return "", errors.Newf("endpoint cooling down for %s after repeated failures", remaining.Round(time.Second)).
			Component("caption").
			Category(errors.CategoryExternalDisabled).
			Context("url", c.url).
			Build()
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return "", errors.New(ctx.Err()).
			Component("caption").
			Category(errors.CategoryCancellation).
			Build()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", errors.New(err).
			Component("caption").
			Category(errors.CategoryCancellation).
			Build()
	}

	payload, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(jpeg)},
		Stream:  false,
		Options: generateOptions{Temperature: temperature, NumPredict: numPredict},
	})
	if err != nil {
		return "", errors.New(err).
			Component("caption").
			Category(errors.CategoryValidation).
			Context("operation", "marshal-request").
			Build()
	}

	start := time.Now()
	url := c.url + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", errors.New(err).
			Component("caption").
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure()
		return "", errors.New(err).
			Component("caption").
			Category(errors.CategoryNetwork).
			NetworkContext(url, c.timeout).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return "", errors.New(err).
			Component("caption").
			Category(errors.CategoryNetwork).
			Context("url", url).
			Build()
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= http.StatusInternalServerError {
			c.recordFailure()
		}
		return "", errors.Newf("endpoint returned status %d: %s", resp.StatusCode, preview(body)).
			Component("caption").
			Category(errors.CategoryExternalService).
			Context("url", url).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", errors.New(err).
			Component("caption").
			Category(errors.CategoryExternalService).
			Context("url", url).
			Context("operation", "decode-response").
			Build()
	}

	c.recordSuccess()
	c.logger.Debug("generate call finished",
		"duration_ms", time.Since(start).Milliseconds(),
		"num_predict", numPredict,
		"response_bytes", len(out.Response))
	return out.Response, nil
}

func (c *Client) coolingDown() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := time.Until(c.coolUntil)
	return remaining, remaining > 0
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failStreak = 0
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failStreak++
	if c.failStreak < cooldownAfter || c.cooldown <= 0 {
		return
	}
	c.coolUntil = time.Now().Add(c.cooldown)
	c.failStreak = 0
	c.logger.Warn("endpoint cooling down",
		"url", c.url,
		"until", c.coolUntil.Format(time.RFC3339),
		"after_failures", cooldownAfter)
}

func preview(body []byte) string {
	const limit = 200
	if len(body) <= limit {
		return string(body)
	}
	return fmt.Sprintf("%s...", body[:limit])
}
