package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"civicmatch/internal/cache"
	"civicmatch/internal/match"
	"civicmatch/internal/observability"
	"civicmatch/internal/policy"
)

const (
	fallbackPrefix      = "Fallback match: "
	fallbackFamilyConf  = 75
	fallbackGenericConf = 65
)

const matchSchema = `{
  "type": "object",
  "required": ["match"],
  "properties": {
    "match": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "title": {"type": "string"},
        "name": {"type": "string"},
        "description": {"type": "string"},
        "category": {"type": "string"},
        "confidence": {"type": "number"},
        "reasoning": {"type": "string"},
        "matchReason": {"type": "string"},
        "tags": {"type": "array", "items": {"type": "string"}},
        "civicTags": {"type": "array", "items": {"type": "string"}},
        "priority": {"enum": ["high", "medium", "low"]}
      }
    }
  }
}`

type ClaudeConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	MaxTokens        int64
	ThrottleInterval time.Duration
	Timeout          time.Duration
	MaxRetries       int
	// RetryBase is the first backoff step; later steps double.
	RetryBase  time.Duration
	HTTPClient *http.Client
}

// ParseError reports a model answer that could not be turned into a match.
type ParseError struct {
	Payload string
	Err     error
}

func (e *ParseError) Error() string {
	return "parse model response: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Claude asks the Anthropic messages API to pick a policy category. Answers
// are cached per input, outbound calls are spaced by the throttle interval
// and every failure degrades to the keyword heuristic.
type Claude struct {
	cfg      ClaudeConfig
	client   anthropic.Client
	limiter  *rate.Limiter
	cache    cache.Cache
	fills    singleflight.Group
	catalog  policy.Catalog
	schema   *jsonschema.Schema
	logger   *zap.Logger
	observer *observability.FallbackObserver
}

func NewClaude(cfg ClaudeConfig, deps Deps) (*Claude, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("claude provider requires an api key")
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-haiku-20240307"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 250 * time.Millisecond
	}
	schema, err := jsonschema.CompileString("match.schema.json", matchSchema)
	if err != nil {
		return nil, fmt.Errorf("compile match schema: %w", err)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	limit := rate.Inf
	if cfg.ThrottleInterval > 0 {
		limit = rate.Every(cfg.ThrottleInterval)
	}

	c := &Claude{
		cfg:      cfg,
		client:   anthropic.NewClient(opts...),
		limiter:  rate.NewLimiter(limit, 1),
		cache:    deps.Cache,
		catalog:  deps.Catalog,
		schema:   schema,
		logger:   deps.Logger,
		observer: deps.Observer,
	}
	if c.cache == nil {
		c.cache = cache.NewMemory()
	}
	if len(c.catalog.Categories) == 0 {
		c.catalog = policy.Default()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

func (c *Claude) Name() string { return "claude" }

type query struct {
	input         string
	original      string
	location      string
	rejected      []string
	clarification string
	refine        bool
}

func (c *Claude) MatchPolicies(ctx context.Context, req match.Request) (match.Response, error) {
	q := query{
		input:         req.UserInput,
		location:      req.LocationHint,
		clarification: req.ClarificationText,
	}
	return c.resolve(ctx, cache.Key("match", req.UserInput, req.LocationHint), q)
}

func (c *Claude) RefinePolicies(ctx context.Context, ref match.Refinement) (match.Response, error) {
	rejected := slices.Clone(ref.RejectedIDs)
	slices.Sort(rejected)
	rejected = slices.Compact(rejected)
	q := query{
		input:         ref.Input(),
		original:      ref.OriginalInput,
		location:      ref.LocationHint,
		rejected:      rejected,
		clarification: ref.Clarification,
		refine:        true,
	}
	key := cache.Key("refine", ref.OriginalInput, q.input, ref.LocationHint, strings.Join(rejected, ","))
	return c.resolve(ctx, key, q)
}

func (c *Claude) resolve(ctx context.Context, key string, q query) (match.Response, error) {
	start := time.Now()
	if resp, ok := c.lookup(ctx, key); ok {
		c.logger.Debug("claude cache hit", zap.Int("input_len", len(q.input)))
		return resp, nil
	}

	// The fill is shared by every caller waiting on key and outlives any one
	// of them; each attempt is still bounded by cfg.Timeout.
	fillCtx := context.WithoutCancel(ctx)
	ch := c.fills.DoChan(key, func() (any, error) {
		if resp, ok := c.lookup(fillCtx, key); ok {
			return resp, nil
		}
		resp, err := c.call(fillCtx, q)
		if err != nil {
			return nil, err
		}
		resp.ProcessingTime = time.Since(start).Milliseconds()
		if err := c.cache.Set(fillCtx, key, resp); err != nil {
			c.logger.Warn("claude cache store failed", zap.String("cache", c.cache.Name()), zap.Error(err))
		}
		return resp, nil
	})

	select {
	case <-ctx.Done():
		return match.Response{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return match.Response{}, ctxErr
			}
			c.logger.Warn("claude request failed, using fallback", zap.Error(res.Err))
			c.observer.RecordFallback(c.Name(), fallbackReason(res.Err))
			return c.fallback(q, start), nil
		}
		return res.Val.(match.Response).Clone(), nil
	}
}

func (c *Claude) lookup(ctx context.Context, key string) (match.Response, bool) {
	resp, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("claude cache lookup failed", zap.String("cache", c.cache.Name()), zap.Error(err))
		return match.Response{}, false
	}
	return resp, ok
}

func (c *Claude) call(ctx context.Context, q query) (match.Response, error) {
	prompt := c.prompt(q)
	backoff := retry.NewExponential(c.cfg.RetryBase)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithCappedDuration(5*time.Second, backoff)
	backoff = retry.WithMaxRetries(uint64(max(c.cfg.MaxRetries, 0)), backoff)

	text, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (string, error) {
		out, err := c.complete(ctx, prompt)
		if err != nil && retryable(ctx, err) {
			c.logger.Debug("claude attempt failed, retrying", zap.Error(err))
			return "", retry.RetryableError(err)
		}
		return out, err
	})
	if err != nil {
		return match.Response{}, err
	}

	m, err := c.parse(text)
	if err != nil {
		return match.Response{}, err
	}
	if q.refine && slices.Contains(q.rejected, m.ID) {
		return match.Response{}, &ParseError{Payload: text, Err: fmt.Errorf("model returned rejected id %q", m.ID)}
	}
	return match.Response{
		Matches:    []match.PolicyMatch{m},
		Confidence: match.MeanConfidence([]match.PolicyMatch{m}),
		Metadata: map[string]any{
			"model":            c.cfg.Model,
			"total_categories": len(c.catalog.Categories),
		},
	}, nil
}

// complete runs one throttled, time-bounded attempt and returns the first
// text block of the answer.
func (c *Claude) complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: c.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", &ParseError{Err: errors.New("no text content in response")}
}

func (c *Claude) prompt(q query) string {
	var b strings.Builder
	b.WriteString("You are a policy matching expert. Analyze this civic priority and map it to the most relevant policy category.\n\n")
	if q.refine && q.original != "" && q.original != q.input {
		fmt.Fprintf(&b, "ORIGINAL PRIORITY: %q\n", q.original)
	}
	fmt.Fprintf(&b, "USER PRIORITY: %q\n", q.input)
	if q.location != "" {
		fmt.Fprintf(&b, "LOCATION (context only): %s\n", q.location)
	}
	if q.clarification != "" && q.clarification != q.input {
		fmt.Fprintf(&b, "CLARIFICATION: %s\n", q.clarification)
	}
	if len(q.rejected) > 0 {
		fmt.Fprintf(&b, "REJECTED CATEGORY IDS (never return these): %s\n", strings.Join(q.rejected, ", "))
	}
	b.WriteString(`
INSTRUCTIONS:
- Map to a broad policy category (not location-specific)
- This concern may apply at federal, state, or local levels
- Focus on policy substance, not geographic constraints
- Provide a confidence score (0-100) based on how well the category matches
- Give a brief reason for the match

AVAILABLE POLICY CATEGORIES:
`)
	b.WriteString(c.catalog.Menu())
	b.WriteString(`
Return your response as JSON in this exact format:
{
  "match": {
    "id": "policy-category-id",
    "title": "Policy Category Name",
    "description": "Brief description of what this policy covers",
    "category": "policy-category-id",
    "confidence": 85,
    "reasoning": "Brief explanation of why this matches the user's concern",
    "tags": ["environment", "regulation"],
    "priority": "medium"
  }
}

Return only valid JSON, no other text.`)
	return b.String()
}

type modelAnswer struct {
	Match struct {
		ID          string   `json:"id"`
		Title       string   `json:"title"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Category    string   `json:"category"`
		Confidence  *float64 `json:"confidence"`
		Reasoning   string   `json:"reasoning"`
		MatchReason string   `json:"matchReason"`
		Tags        []string `json:"tags"`
		CivicTags   []string `json:"civicTags"`
		Priority    string   `json:"priority"`
	} `json:"match"`
}

func (c *Claude) parse(text string) (match.PolicyMatch, error) {
	payload := stripFences(text)
	var raw any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return match.PolicyMatch{}, &ParseError{Payload: text, Err: err}
	}
	if err := c.schema.Validate(raw); err != nil {
		return match.PolicyMatch{}, &ParseError{Payload: text, Err: err}
	}
	var answer modelAnswer
	if err := json.Unmarshal([]byte(payload), &answer); err != nil {
		return match.PolicyMatch{}, &ParseError{Payload: text, Err: err}
	}

	a := answer.Match
	m := match.PolicyMatch{
		ID:          a.ID,
		Title:       firstNonEmpty(a.Title, a.Name),
		Description: firstNonEmpty(a.Description, "Policy description not provided"),
		Category:    firstNonEmpty(a.Category, a.ID),
		Confidence:  75,
		Reasoning:   firstNonEmpty(a.Reasoning, a.MatchReason, "AI-generated match"),
		Tags:        a.Tags,
		Priority:    match.Priority(a.Priority),
	}
	if m.Tags == nil {
		m.Tags = a.CivicTags
	}
	if a.Confidence != nil {
		m.Confidence = match.ClampConfidence(int(math.Round(*a.Confidence)))
	}
	if cat, ok := c.catalog.Lookup(a.ID); ok {
		m.Title = firstNonEmpty(m.Title, cat.Name)
		if len(m.Tags) == 0 {
			m.Tags = slices.Clone(cat.Tags)
		}
	}
	if m.Title == "" {
		m.Title = "General Policy"
	}
	if !m.Priority.Valid() {
		m.Priority = match.PriorityFor(float64(m.Confidence)/100, 5, "")
	}
	return m, nil
}

func (c *Claude) fallback(q query, start time.Time) match.Response {
	resp := match.Response{Matches: []match.PolicyMatch{}}
	var skip func(string) bool
	if q.refine {
		skip = rejectedSet(q.rejected)
	}
	if f, ok := pickFamily(q.input, skip); ok {
		conf := fallbackFamilyConf
		reason := fallbackPrefix + "keyword-based match for " + f.Topic + " concerns"
		if f.generic() {
			conf = fallbackGenericConf
			reason = fallbackPrefix + "default category when a specific one cannot be determined"
		}
		m := f.toMatch(conf, reason)
		m.Metadata = map[string]any{"fallback": true}
		resp.Matches = append(resp.Matches, m)
	}
	resp.ProcessingTime = time.Since(start).Milliseconds()
	resp.Confidence = match.MeanConfidence(resp.Matches)
	resp.Metadata = map[string]any{
		"fallback":         true,
		"total_categories": len(families) + 1,
	}
	return resp
}

// retryable reports transport failures worth another attempt: network
// errors, attempt timeouts, 429 and 5xx answers.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func fallbackReason(err error) string {
	var parseErr *ParseError
	var apiErr *anthropic.Error
	switch {
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &apiErr):
		return fmt.Sprintf("status_%d", apiErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
