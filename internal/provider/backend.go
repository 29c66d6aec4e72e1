package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"civicmatch/internal/match"
)

// ErrCategoryMatching marks a failure of the category-matching endpoint.
// Unlike sentiment analysis it has no fallback and is always surfaced.
var ErrCategoryMatching = errors.New("category matching failed")

const (
	neutralIntensity = 5
	neutralUrgency   = "medium"
)

type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Endpoint, e.Code, e.Body)
}

// Backend calls the category-matching and sentiment-analysis service and
// reshapes its answers into policy matches.
type Backend struct {
	baseURL string
	topK    int
	client  *http.Client
	logger  *zap.Logger
}

func NewBackend(baseURL string, topK int, client *http.Client, logger *zap.Logger) (*Backend, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", baseURL, err)
	}
	if topK <= 0 {
		topK = 5
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		baseURL: strings.TrimRight(baseURL, "/"),
		topK:    topK,
		client:  client,
		logger:  logger,
	}, nil
}

func (b *Backend) Name() string { return "backend" }

type categoryMatch struct {
	CategoryID      int      `json:"category_id"`
	CategoryName    string   `json:"category_name"`
	CategoryType    string   `json:"category_type"`
	ConfidenceScore float64  `json:"confidence_score"`
	SimilarityScore float64  `json:"similarity_score"`
	Keywords        []string `json:"keywords"`
}

type categoryResult struct {
	Matches                 []categoryMatch `json:"matches"`
	TotalCategoriesSearched int             `json:"total_categories_searched"`
	ProcessingTimeMS        float64         `json:"processing_time_ms"`
	ModelInfo               map[string]any  `json:"model_info"`
}

type sentiment struct {
	Intensity float64
	Urgency   string
	Raw       map[string]any
}

func (b *Backend) MatchPolicies(ctx context.Context, req match.Request) (match.Response, error) {
	var result categoryResult
	err := b.post(ctx, "/category-matching/find-matches", map[string]any{
		"user_input": req.UserInput,
		"top_k":      b.topK,
	}, &result)
	if err != nil {
		return match.Response{}, fmt.Errorf("%w: %w", ErrCategoryMatching, err)
	}

	sent := b.analyze(ctx, req.UserInput)

	matches := make([]match.PolicyMatch, 0, len(result.Matches))
	for _, cm := range result.Matches {
		matches = append(matches, match.PolicyMatch{
			ID:          "match_" + strconv.Itoa(cm.CategoryID),
			Title:       cm.CategoryName,
			Description: describe(cm),
			Category:    cm.CategoryType,
			Confidence:  match.ScoreToConfidence(cm.ConfidenceScore),
			Reasoning:   reason(cm, sent),
			Tags:        topKeywords(cm.Keywords, 3),
			Priority:    match.PriorityFor(cm.ConfidenceScore, sent.Intensity, sent.Urgency),
			Metadata: map[string]any{
				"similarity_score":    cm.SimilarityScore,
				"category_id":         cm.CategoryID,
				"category_type":       cm.CategoryType,
				"sentiment_intensity": sent.Intensity,
				"sentiment_urgency":   sent.Urgency,
			},
		})
	}

	var sentMeta any
	if sent.Raw != nil {
		sentMeta = sent.Raw
	}
	return match.Response{
		Matches:        matches,
		ProcessingTime: int64(result.ProcessingTimeMS),
		Confidence:     match.MeanConfidence(matches),
		Metadata: map[string]any{
			"model_info":                result.ModelInfo,
			"sentiment_analysis":        sentMeta,
			"total_categories_searched": result.TotalCategoriesSearched,
			"backend_processing_ms":     result.ProcessingTimeMS,
		},
	}, nil
}

func (b *Backend) RefinePolicies(ctx context.Context, ref match.Refinement) (match.Response, error) {
	rejected := rejectedCategoryIDs(ref.RejectedIDs)
	input := ref.OriginalInput
	if c := strings.TrimSpace(ref.Clarification); c != "" {
		input += " Additional context: " + c
	}

	var result categoryResult
	err := b.post(ctx, "/category-matching/refine-matches", map[string]any{
		"user_input":            input,
		"rejected_category_ids": rejected,
		"top_k":                 b.topK,
	}, &result)
	if err != nil {
		return match.Response{}, fmt.Errorf("%w: refine: %w", ErrCategoryMatching, err)
	}

	skip := make(map[int]bool, len(rejected))
	for _, id := range rejected {
		skip[id] = true
	}
	matches := make([]match.PolicyMatch, 0, len(result.Matches))
	for _, cm := range result.Matches {
		if skip[cm.CategoryID] {
			b.logger.Debug("backend returned rejected category", zap.Int("category_id", cm.CategoryID))
			continue
		}
		matches = append(matches, match.PolicyMatch{
			ID:          "refined_" + strconv.Itoa(cm.CategoryID),
			Title:       cm.CategoryName,
			Description: describe(cm),
			Category:    cm.CategoryType,
			Confidence:  match.ScoreToConfidence(cm.ConfidenceScore),
			Reasoning:   "Refined match based on your feedback: " + cm.CategoryName,
			Tags:        topKeywords(cm.Keywords, 3),
			Priority:    match.PriorityFor(cm.ConfidenceScore, neutralIntensity, neutralUrgency),
			Metadata: map[string]any{
				"similarity_score": cm.SimilarityScore,
				"category_id":      cm.CategoryID,
				"category_type":    cm.CategoryType,
				"is_refined":       true,
			},
		})
	}

	return match.Response{
		Matches:        matches,
		ProcessingTime: int64(result.ProcessingTimeMS),
		Confidence:     match.MeanConfidence(matches),
		Metadata: map[string]any{
			"model_info": result.ModelInfo,
			"refinement_context": map[string]any{
				"original_input": ref.OriginalInput,
				"rejected_ids":   append([]string(nil), ref.RejectedIDs...),
				"clarification":  ref.Clarification,
			},
			"total_categories_searched": result.TotalCategoriesSearched,
			"backend_processing_ms":     result.ProcessingTimeMS,
		},
	}, nil
}

// analyze asks for priority sentiment. Any failure yields the neutral
// defaults; the call is advisory.
func (b *Backend) analyze(ctx context.Context, text string) sentiment {
	out := sentiment{Intensity: neutralIntensity, Urgency: neutralUrgency}
	var raw map[string]any
	err := b.post(ctx, "/sentiment-analysis/analyze", map[string]any{
		"text":          text,
		"analysis_type": "priority",
	}, &raw)
	if err != nil {
		b.logger.Warn("sentiment analysis unavailable, using neutral defaults", zap.Error(err))
		return out
	}
	out.Raw = raw
	if v, ok := raw["intensity"].(float64); ok && v > 0 {
		out.Intensity = v
	}
	if v, ok := raw["urgency"].(string); ok && v != "" {
		out.Urgency = v
	}
	return out
}

// Health probes the service's liveness endpoint.
func (b *Backend) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Endpoint: "/health", Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return nil
}

func (b *Backend) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Endpoint: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// rejectedCategoryIDs maps shown match ids back to backend category ids.
// Ids that carry neither prefix are ignored.
func rejectedCategoryIDs(ids []string) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		rest, ok := strings.CutPrefix(id, "match_")
		if !ok {
			rest, ok = strings.CutPrefix(id, "refined_")
		}
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func describe(cm categoryMatch) string {
	switch cm.CategoryType {
	case "issue":
		return fmt.Sprintf("Political issue focused on %s. This represents a key policy area that aligns with your priorities.", strings.Join(topKeywords(cm.Keywords, 3), ", "))
	case "candidate_attribute":
		return fmt.Sprintf("Candidate characteristic: %s. Look for candidates who embody these qualities and values.", cm.CategoryName)
	case "policy":
		return fmt.Sprintf("Specific policy proposal: %s. This represents concrete legislative action on your priorities.", cm.CategoryName)
	case "attribute":
		return fmt.Sprintf("Political attribute: %s. This reflects a broader political philosophy or approach.", cm.CategoryName)
	default:
		return fmt.Sprintf("%s - %s", cm.CategoryName, strings.Join(topKeywords(cm.Keywords, 2), ", "))
	}
}

func reason(cm categoryMatch, sent sentiment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Matched based on semantic similarity (%d%%)", match.ScoreToConfidence(cm.SimilarityScore))
	switch {
	case sent.Intensity >= 8:
		b.WriteString(" and high priority intensity detected")
	case sent.Intensity >= 6:
		b.WriteString(" and moderate priority intensity")
	}
	switch sent.Urgency {
	case "high":
		b.WriteString(". Your urgent tone suggests this is a critical issue for you.")
	case "medium":
		b.WriteString(". This appears to be an important concern for you.")
	}
	return b.String()
}

func topKeywords(keywords []string, n int) []string {
	if len(keywords) > n {
		keywords = keywords[:n]
	}
	return append([]string{}, keywords...)
}
