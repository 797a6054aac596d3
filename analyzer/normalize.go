package analyzer

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/brettboylen/reddit-trend-analyzer/models"
)

// Kind tags the variant held by an Outcome
type Kind int

const (
	// KindOK is a well-formed payload with a truthy success field
	KindOK Kind = iota
	// KindStub is an unusable payload absorbed into an empty successful result
	KindStub
	// KindRejected is a non-2xx status or a payload whose success field is falsy
	KindRejected
	// KindMalformed replaces KindStub when the normalizer is strict
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindStub:
		return "stub"
	case KindRejected:
		return "rejected"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Outcome is the result of normalizing one webhook reply.
// Result is populated for KindOK and KindStub only.
type Outcome struct {
	Kind       Kind
	Result     models.AnalysisResult
	Reason     string
	StatusCode int
	Body       string
}

// Err returns the error the caller should surface, or nil when Result is usable
func (o Outcome) Err() error {
	switch o.Kind {
	case KindRejected:
		return &RejectedError{StatusCode: o.StatusCode, Body: o.Body}
	case KindMalformed:
		return &MalformedError{Reason: o.Reason}
	default:
		return nil
	}
}

// Normalizer turns untrusted webhook replies into AnalysisResult values.
// The zero value is the lenient policy: unusable payloads become an empty stub.
type Normalizer struct {
	Strict bool
}

// Normalize normalizes a raw response body received with the given HTTP status
func (n Normalizer) Normalize(body []byte, statusCode int, receivedAt time.Time) Outcome {
	if !isSuccessStatus(statusCode) {
		return rejected(statusCode, string(body))
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return n.stub(statusCode, receivedAt, "empty body")
	}

	value, err := decodeJSON(trimmed)
	if err != nil {
		return n.stub(statusCode, receivedAt, "body is not valid JSON")
	}

	return n.normalize(value, statusCode, string(body), receivedAt)
}

// NormalizeValue normalizes an already-received value. Strings and byte slices
// are parsed as JSON bodies; anything else is treated as the decoded payload.
func (n Normalizer) NormalizeValue(v any, statusCode int, receivedAt time.Time) Outcome {
	switch raw := v.(type) {
	case string:
		return n.Normalize([]byte(raw), statusCode, receivedAt)
	case []byte:
		return n.Normalize(raw, statusCode, receivedAt)
	case json.RawMessage:
		return n.Normalize(raw, statusCode, receivedAt)
	}

	// re-encode so typed Go values and generic maps go through one code path
	body, err := json.Marshal(v)
	if err != nil {
		if !isSuccessStatus(statusCode) {
			return rejected(statusCode, "")
		}
		return n.stub(statusCode, receivedAt, "value cannot be encoded as JSON")
	}
	return n.Normalize(body, statusCode, receivedAt)
}

func (n Normalizer) normalize(value any, statusCode int, body string, receivedAt time.Time) Outcome {
	if items, ok := value.([]any); ok {
		if len(items) == 0 {
			return n.stub(statusCode, receivedAt, "empty array")
		}
		value = items[0]
	}

	payload, ok := value.(map[string]any)
	if !ok {
		return n.stub(statusCode, receivedAt, "payload is not an object")
	}

	success, present := payload["success"]
	if !present {
		return n.stub(statusCode, receivedAt, "missing success field")
	}
	if !truthy(success) {
		return rejected(statusCode, body)
	}

	result := models.AnalysisResult{
		Success:   true,
		Timestamp: parseTimestamp(payload["timestamp"], receivedAt),
		Posts:     normalizePosts(payload["posts"]),
		Summary:   normalizeSummary(payload["summary"]),
	}
	result.TotalPosts = len(result.Posts)
	if total, ok := nonNegativeInt(payload["totalPosts"]); ok {
		result.TotalPosts = total
	}

	return Outcome{Kind: KindOK, Result: result, StatusCode: statusCode}
}

func (n Normalizer) stub(statusCode int, receivedAt time.Time, reason string) Outcome {
	if n.Strict {
		return Outcome{Kind: KindMalformed, Reason: reason, StatusCode: statusCode}
	}
	return Outcome{
		Kind:       KindStub,
		Result:     EmptyResult(receivedAt),
		Reason:     reason,
		StatusCode: statusCode,
	}
}

// EmptyResult is the successful result with no posts used for unusable payloads
func EmptyResult(at time.Time) models.AnalysisResult {
	return models.AnalysisResult{
		Success:    true,
		Timestamp:  at,
		TotalPosts: 0,
		Posts:      []models.Post{},
		Summary: models.Summary{
			BestGrowthOpportunities: []string{},
		},
	}
}

func rejected(statusCode int, body string) Outcome {
	return Outcome{Kind: KindRejected, StatusCode: statusCode, Body: body}
}

func isSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// decodeJSON decodes exactly one JSON value, keeping numbers as json.Number
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}

	// trailing garbage after the first value makes the whole body invalid
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return value, nil
}

func normalizePosts(v any) []models.Post {
	items, _ := v.([]any)
	posts := make([]models.Post, 0, len(items))
	for _, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		posts = append(posts, models.Post{
			Title:      DecodeEntities(stringField(fields, "title")),
			Subreddit:  stringField(fields, "subreddit"),
			Author:     stringField(fields, "author"),
			Upvotes:    count(fields["upvotes"]),
			Comments:   count(fields["comments"]),
			URL:        stringField(fields, "url"),
			AIInsight:  stringField(fields, "aiInsight"),
			Engagement: stringField(fields, "engagement"),
			GrowthTip:  stringField(fields, "growthTip"),
		})
	}
	return posts
}

func normalizeSummary(v any) models.Summary {
	fields, _ := v.(map[string]any)
	summary := models.Summary{
		HighEngagementPosts:     count(fields["highEngagementPosts"]),
		TrendingPosts:           count(fields["trendingPosts"]),
		BestGrowthOpportunities: []string{},
	}

	items, _ := fields["bestGrowthOpportunities"].([]any)
	for _, item := range items {
		if s, ok := item.(string); ok {
			summary.BestGrowthOpportunities = append(summary.BestGrowthOpportunities, DecodeEntities(s))
		}
	}
	return summary
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func parseTimestamp(v any, fallback time.Time) time.Time {
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return ts
}

// truthy follows the loose truthiness the webhook's consumers have always applied
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// nonNegativeInt accepts only integral JSON numbers >= 0
func nonNegativeInt(v any) (int, bool) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := num.Int64(); err == nil {
		if i < 0 || i > math.MaxInt32 {
			return 0, false
		}
		return int(i), true
	}
	f, err := num.Float64()
	if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// count coerces a counter field to a non-negative int; anything unusable is 0
func count(v any) int {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0
		}
		f = parsed
	case string:
		// out-of-range values come back as ±Inf and are clamped below
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0
		}
		f = parsed
	default:
		return 0
	}

	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}
