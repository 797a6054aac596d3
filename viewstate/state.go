package viewstate

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/brettboylen/reddit-trend-analyzer/models"
)

// Phase is where a session is in its submit cycle
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseError
	PhaseSuccess
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseError:
		return "error"
	case PhaseSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Filter selects which posts are visible
type Filter string

const (
	FilterAll            Filter = "all"
	FilterHighEngagement Filter = "high"
)

// Sort orders the visible posts
type Sort string

const (
	SortTopUpvotes   Sort = "top"
	SortMostComments Sort = "comments"
	SortRecent       Sort = "recent"
)

var (
	ErrUnknownFilter = errors.New("unknown filter")
	ErrUnknownSort   = errors.New("unknown sort")
)

// ParseFilter parses a filter name; matching is case-insensitive
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case FilterAll, FilterHighEngagement:
		return f, nil
	default:
		return "", fmt.Errorf("%w %q (want all or high)", ErrUnknownFilter, s)
	}
}

// ParseSort parses a sort name; matching is case-insensitive
func ParseSort(s string) (Sort, error) {
	switch o := Sort(strings.ToLower(strings.TrimSpace(s))); o {
	case SortTopUpvotes, SortMostComments, SortRecent:
		return o, nil
	default:
		return "", fmt.Errorf("%w %q (want top, comments or recent)", ErrUnknownSort, s)
	}
}

// ViewState is everything a renderer needs to draw one session.
// Result is set only in PhaseSuccess and ErrorMessage only in PhaseError.
type ViewState struct {
	Phase        Phase                  `json:"phase"`
	Result       *models.AnalysisResult `json:"result,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	Filter       Filter                 `json:"filter"`
	Sort         Sort                   `json:"sort"`
}

// clone copies the result so callers can't reach the controller's posts
func (s ViewState) clone() ViewState {
	if s.Result != nil {
		result := *s.Result
		result.Posts = slices.Clone(result.Posts)
		result.Summary.BestGrowthOpportunities = slices.Clone(result.Summary.BestGrowthOpportunities)
		s.Result = &result
	}
	return s
}
