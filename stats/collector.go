package stats

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-trend-analyzer/models"
)

const (
	defaultTopPostsLimit      = 10
	defaultTopSubredditsLimit = 10
)

// History is the read side of the analysis history
type History interface {
	GetTopPostsByUpvotes(limit int) ([]models.Post, error)
	GetTopSubredditsByPostCount(limit int) (map[string]int, error)
	GetAnalysisCounts() (total int, failed int, err error)
}

// Collector keeps an in-memory statistics snapshot refreshed from the history
type Collector struct {
	history            History
	refreshInterval    time.Duration
	topPostsLimit      int
	topSubredditsLimit int
	stats              models.Statistics
	log                *logrus.Logger
	mutex              sync.RWMutex
}

// NewCollector creates a new collector; refreshInterval is in seconds
func NewCollector(history History, refreshInterval int, log *logrus.Logger) *Collector {
	if refreshInterval < 1 {
		refreshInterval = 30
	}

	return &Collector{
		history:            history,
		refreshInterval:    time.Duration(refreshInterval) * time.Second,
		topPostsLimit:      defaultTopPostsLimit,
		topSubredditsLimit: defaultTopSubredditsLimit,
		stats: models.Statistics{
			TopPostsByUpvotes:        make([]models.Post, 0, defaultTopPostsLimit),
			TopSubredditsByPostCount: make(map[string]int),
			StartTime:                time.Now(),
			LastUpdated:              time.Now(),
		},
		log: log,
	}
}

// Start refreshes the statistics on every tick until ctx is cancelled
func (c *Collector) Start(ctx context.Context) error {
	c.UpdateStatistics()

	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	c.log.WithField("refresh_interval_sec", c.refreshInterval.Seconds()).Info("Statistics collector started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.UpdateStatistics()
			c.logStatistics()
		}
	}
}

// UpdateStatistics reloads the statistics from the history.
// On any read error the previous snapshot is kept.
func (c *Collector) UpdateStatistics() {
	topPosts, err := c.history.GetTopPostsByUpvotes(c.topPostsLimit)
	if err != nil {
		c.log.WithError(err).Error("Failed to get top posts")
		return
	}

	topSubreddits, err := c.history.GetTopSubredditsByPostCount(c.topSubredditsLimit)
	if err != nil {
		c.log.WithError(err).Error("Failed to get top subreddits")
		return
	}

	total, failed, err := c.history.GetAnalysisCounts()
	if err != nil {
		c.log.WithError(err).Error("Failed to get analysis counts")
		return
	}

	c.mutex.Lock()
	c.stats.TopPostsByUpvotes = topPosts
	c.stats.TopSubredditsByPostCount = topSubreddits
	c.stats.TotalAnalyses = total
	c.stats.FailedAnalyses = failed
	c.stats.LastUpdated = time.Now()
	c.mutex.Unlock()
}

// logStatistics logs the current statistics
func (c *Collector) logStatistics() {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	c.log.WithFields(logrus.Fields{
		"total_analyses":  c.stats.TotalAnalyses,
		"failed_analyses": c.stats.FailedAnalyses,
		"top_subreddits":  len(c.stats.TopSubredditsByPostCount),
		"running_since":   time.Since(c.stats.StartTime).String(),
	}).Debug("Statistics updated")
}

// GetStatistics returns a copy of the current statistics
func (c *Collector) GetStatistics() models.Statistics {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	stats := c.stats
	stats.TopPostsByUpvotes = make([]models.Post, len(c.stats.TopPostsByUpvotes))
	copy(stats.TopPostsByUpvotes, c.stats.TopPostsByUpvotes)
	stats.TopSubredditsByPostCount = make(map[string]int, len(c.stats.TopSubredditsByPostCount))
	for subreddit, count := range c.stats.TopSubredditsByPostCount {
		stats.TopSubredditsByPostCount[subreddit] = count
	}
	return stats
}
