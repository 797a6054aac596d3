package models

import (
	"time"
)

// Post represents a single Reddit submission as reported by the analysis webhook
type Post struct {
	Title      string `json:"title"`
	Subreddit  string `json:"subreddit"`
	Author     string `json:"author"`
	Upvotes    int    `json:"upvotes"`
	Comments   int    `json:"comments"`
	URL        string `json:"url"`
	AIInsight  string `json:"aiInsight"`
	Engagement string `json:"engagement"`
	GrowthTip  string `json:"growthTip"`
}

// Summary holds the aggregate numbers the webhook reports alongside the posts
type Summary struct {
	HighEngagementPosts     int      `json:"highEngagementPosts"`
	TrendingPosts           int      `json:"trendingPosts"`
	BestGrowthOpportunities []string `json:"bestGrowthOpportunities"`
}

// AnalysisResult is the normalized root object of a webhook reply.
// TotalPosts is what the server reported and may disagree with len(Posts).
type AnalysisResult struct {
	Success    bool      `json:"success"`
	Timestamp  time.Time `json:"timestamp"`
	TotalPosts int       `json:"totalPosts"`
	Posts      []Post    `json:"posts"`
	Summary    Summary   `json:"summary"`
}

// AnalysisRequest is the body POSTed to the webhook; empty inputs are omitted
type AnalysisRequest struct {
	Keywords  string `json:"keywords,omitempty"`
	Subreddit string `json:"subreddit,omitempty"`
}

// AnalysisRecord is one row of analysis history
type AnalysisRecord struct {
	ID         string    `json:"id"`
	Keywords   string    `json:"keywords"`
	Subreddit  string    `json:"subreddit"`
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code"`
	TotalPosts int       `json:"total_posts"`
	PostCount  int       `json:"post_count"`
	AnalyzedAt time.Time `json:"analyzed_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// Statistics holds aggregate statistics over the analysis history
type Statistics struct {
	TotalAnalyses            int            `json:"total_analyses"`
	FailedAnalyses           int            `json:"failed_analyses"`
	TopPostsByUpvotes        []Post         `json:"top_posts_by_upvotes"`
	TopSubredditsByPostCount map[string]int `json:"top_subreddits_by_post_count"`
	StartTime                time.Time      `json:"start_time"`
	LastUpdated              time.Time      `json:"last_updated"`
}
