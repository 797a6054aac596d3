package viewstate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brettboylen/reddit-trend-analyzer/models"
)

func samplePosts() []models.Post {
	return []models.Post{
		{Title: "a", Upvotes: 100, Comments: 5, Engagement: "medium"},
		{Title: "b", Upvotes: 2092, Comments: 698, Engagement: "high"},
		{Title: "c", Upvotes: 100, Comments: 81, Engagement: "HIGH"},
		{Title: "d", Upvotes: 1956, Comments: 81, Engagement: "low"},
		{Title: "e", Upvotes: 100, Comments: 223, Engagement: "High"},
		{Title: "f", Upvotes: 0, Comments: 0, Engagement: ""},
	}
}

func titles(posts []models.Post) []string {
	out := make([]string, 0, len(posts))
	for _, post := range posts {
		out = append(out, post.Title)
	}
	return out
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name     string
		filter   Filter
		sort     Sort
		expected []string
	}{
		{"All by upvotes", FilterAll, SortTopUpvotes, []string{"b", "d", "a", "c", "e", "f"}},
		{"All by comments", FilterAll, SortMostComments, []string{"b", "e", "c", "d", "a", "f"}},
		{"All recent", FilterAll, SortRecent, []string{"a", "b", "c", "d", "e", "f"}},
		{"High by upvotes", FilterHighEngagement, SortTopUpvotes, []string{"b", "c", "e"}},
		{"High by comments", FilterHighEngagement, SortMostComments, []string{"b", "e", "c"}},
		{"High recent", FilterHighEngagement, SortRecent, []string{"b", "c", "e"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, titles(Derive(samplePosts(), tc.filter, tc.sort)))
		})
	}
}

func TestDeriveOrderingProperties(t *testing.T) {
	posts := samplePosts()

	byUpvotes := Derive(posts, FilterAll, SortTopUpvotes)
	for i := 1; i < len(byUpvotes); i++ {
		assert.GreaterOrEqual(t, byUpvotes[i-1].Upvotes, byUpvotes[i].Upvotes)
	}

	byComments := Derive(posts, FilterAll, SortMostComments)
	for i := 1; i < len(byComments); i++ {
		assert.GreaterOrEqual(t, byComments[i-1].Comments, byComments[i].Comments)
	}

	assert.Equal(t, posts, Derive(posts, FilterAll, SortRecent))
}

func TestDeriveHighEngagementIsSubset(t *testing.T) {
	posts := samplePosts()
	high := Derive(posts, FilterHighEngagement, SortRecent)

	assert.Less(t, len(high), len(posts))
	for _, post := range high {
		assert.Contains(t, posts, post)
		assert.Equal(t, "high", strings.ToLower(post.Engagement))
	}
}

func TestDeriveDoesNotMutateInput(t *testing.T) {
	posts := samplePosts()
	before := append([]models.Post(nil), posts...)

	_ = Derive(posts, FilterHighEngagement, SortTopUpvotes)
	_ = Derive(posts, FilterAll, SortMostComments)

	assert.Equal(t, before, posts)
}

func TestDeriveEmpty(t *testing.T) {
	assert.Empty(t, Derive(nil, FilterAll, SortTopUpvotes))
	assert.NotNil(t, Derive(nil, FilterAll, SortTopUpvotes))
}

func TestParseFilterAndSort(t *testing.T) {
	f, err := ParseFilter(" High ")
	assert.NoError(t, err)
	assert.Equal(t, FilterHighEngagement, f)

	_, err = ParseFilter("medium")
	assert.ErrorIs(t, err, ErrUnknownFilter)

	s, err := ParseSort("COMMENTS")
	assert.NoError(t, err)
	assert.Equal(t, SortMostComments, s)

	_, err = ParseSort("new")
	assert.ErrorIs(t, err, ErrUnknownSort)
}

func TestPhaseString(t *testing.T) {
	text, err := PhaseSuccess.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "success", string(text))
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "loading", PhaseLoading.String())
	assert.Equal(t, "error", PhaseError.String())
}
