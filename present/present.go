// Package present builds render-ready view models from a session's view state.
// Nothing here decides what is shown, only how it is labelled.
package present

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/brettboylen/reddit-trend-analyzer/models"
	"github.com/brettboylen/reddit-trend-analyzer/viewstate"
)

const redditBaseURL = "https://www.reddit.com/"

var imageURLPattern = regexp.MustCompile(`(?i)\.(png|jpg|jpeg|gif|webp)$`)

// PostCard holds presentation-ready data for one post card
type PostCard struct {
	Title           string `json:"title"`
	URL             string `json:"url"`
	IsImage         bool   `json:"isImage"`
	Subreddit       string `json:"subreddit"`
	SubredditURL    string `json:"subredditUrl"`
	Author          string `json:"author"`
	AuthorURL       string `json:"authorUrl"`
	Upvotes         int    `json:"upvotes"`
	UpvotesLabel    string `json:"upvotesLabel"`
	Comments        int    `json:"comments"`
	CommentsLabel   string `json:"commentsLabel"`
	Engagement      string `json:"engagement"`
	EngagementLabel string `json:"engagementLabel"`
	EngagementColor string `json:"engagementColor"`
	AIInsight       string `json:"aiInsight,omitempty"`
	GrowthTip       string `json:"growthTip,omitempty"`
}

// SummaryPanel holds presentation-ready data for the summary sidebar
type SummaryPanel struct {
	HighEngagementPosts     int      `json:"highEngagementPosts"`
	TrendingPosts           int      `json:"trendingPosts"`
	BestGrowthOpportunities []string `json:"bestGrowthOpportunities"`
}

// ResultsHeader is the line above the results
type ResultsHeader struct {
	AnalyzedAt     time.Time `json:"analyzedAt"`
	AnalyzedAgo    string    `json:"analyzedAgo"`
	PostCountLabel string    `json:"postCountLabel"`
	VisibleCount   int       `json:"visibleCount"`
}

// Page is everything a renderer needs for one session
type Page struct {
	Phase        string           `json:"phase"`
	Loading      bool             `json:"loading"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Filter       viewstate.Filter `json:"filter"`
	Sort         viewstate.Sort   `json:"sort"`
	Header       *ResultsHeader   `json:"header,omitempty"`
	Posts        []PostCard       `json:"posts"`
	Summary      *SummaryPanel    `json:"summary,omitempty"`
}

// BuildPage builds the page for a state and its visible posts
func BuildPage(state viewstate.ViewState, visible []models.Post, now time.Time) Page {
	page := Page{
		Phase:        state.Phase.String(),
		Loading:      state.Phase == viewstate.PhaseLoading,
		ErrorMessage: state.ErrorMessage,
		Filter:       state.Filter,
		Sort:         state.Sort,
		Posts:        Cards(visible),
	}

	if state.Result != nil {
		page.Header = &ResultsHeader{
			AnalyzedAt:     state.Result.Timestamp,
			AnalyzedAgo:    RelativeTime(state.Result.Timestamp, now),
			PostCountLabel: PostCountLabel(state.Result.TotalPosts),
			VisibleCount:   len(visible),
		}
		page.Summary = &SummaryPanel{
			HighEngagementPosts:     state.Result.Summary.HighEngagementPosts,
			TrendingPosts:           state.Result.Summary.TrendingPosts,
			BestGrowthOpportunities: state.Result.Summary.BestGrowthOpportunities,
		}
		if page.Summary.BestGrowthOpportunities == nil {
			page.Summary.BestGrowthOpportunities = []string{}
		}
	}

	return page
}

// Cards converts posts to cards, keeping their order
func Cards(posts []models.Post) []PostCard {
	cards := make([]PostCard, 0, len(posts))
	for _, post := range posts {
		cards = append(cards, Card(post))
	}
	return cards
}

// Card converts one post to a card
func Card(post models.Post) PostCard {
	level := EngagementLevel(post.Engagement)
	return PostCard{
		Title:           post.Title,
		URL:             post.URL,
		IsImage:         IsImageURL(post.URL),
		Subreddit:       post.Subreddit,
		SubredditURL:    redditLink(post.Subreddit),
		Author:          post.Author,
		AuthorURL:       redditLink(post.Author),
		Upvotes:         post.Upvotes,
		UpvotesLabel:    FormatCount(post.Upvotes),
		Comments:        post.Comments,
		CommentsLabel:   FormatCount(post.Comments) + " comments",
		Engagement:      level,
		EngagementLabel: level + " engagement",
		EngagementColor: EngagementColor(level),
		AIInsight:       post.AIInsight,
		GrowthTip:       post.GrowthTip,
	}
}

// EngagementLevel maps the webhook's engagement label onto high, medium, low or unknown
func EngagementLevel(engagement string) string {
	switch level := strings.ToLower(strings.TrimSpace(engagement)); level {
	case "high", "medium", "low":
		return level
	default:
		return "unknown"
	}
}

// EngagementColor is the badge colour for an engagement level
func EngagementColor(level string) string {
	switch level {
	case "high":
		return "green"
	case "medium":
		return "orange"
	default:
		return "gray"
	}
}

// IsImageURL reports whether the URL points straight at an image file
func IsImageURL(url string) bool {
	return imageURLPattern.MatchString(url)
}

// FormatCount formats a count Reddit-style: 999, 1.2k, 3.4M
func FormatCount(n int) string {
	switch {
	case n >= 1_000_000:
		return strconv.FormatFloat(float64(n)/1_000_000, 'f', 1, 64) + "M"
	case n >= 1_000:
		return strconv.FormatFloat(float64(n)/1_000, 'f', 1, 64) + "k"
	default:
		return strconv.Itoa(n)
	}
}

// RelativeTime describes how long before now t was
func RelativeTime(t, now time.Time) string {
	seconds := int(now.Sub(t).Seconds())

	switch {
	case seconds < 60:
		return "just now"
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", seconds/3600)
	default:
		return fmt.Sprintf("%dd ago", seconds/86400)
	}
}

// PostCountLabel is "1 post" or "N posts"
func PostCountLabel(n int) string {
	if n == 1 {
		return "1 post"
	}
	return fmt.Sprintf("%d posts", n)
}

func redditLink(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if name == "" {
		return ""
	}
	return redditBaseURL + name
}
