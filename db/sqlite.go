package db

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/reddit-trend-analyzer/models"
)

// Database stores the history of analyses and the posts they returned
type Database struct {
	db    *sql.DB
	mutex sync.RWMutex
	log   *logrus.Logger
}

// NewDatabase creates a new SQLite database connection
func NewDatabase(dbPath string, log *logrus.Logger) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:  db,
		log: log,
	}

	if err := database.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.db.Close()
}

// initTables creates the necessary tables if they don't exist
func (d *Database) initTables() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		keywords TEXT NOT NULL,
		subreddit TEXT NOT NULL,
		outcome TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		total_posts INTEGER NOT NULL,
		post_count INTEGER NOT NULL,
		analyzed_at TIMESTAMP NOT NULL,
		received_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS analysis_posts (
		analysis_id TEXT NOT NULL REFERENCES analyses(id),
		position INTEGER NOT NULL,
		title TEXT NOT NULL,
		subreddit TEXT NOT NULL,
		author TEXT NOT NULL,
		upvotes INTEGER NOT NULL,
		comments INTEGER NOT NULL,
		url TEXT NOT NULL,
		ai_insight TEXT NOT NULL,
		engagement TEXT NOT NULL,
		growth_tip TEXT NOT NULL,
		PRIMARY KEY (analysis_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_analyzed_at ON analyses(analyzed_at DESC);
	CREATE INDEX IF NOT EXISTS idx_analysis_posts_upvotes ON analysis_posts(upvotes DESC);
	CREATE INDEX IF NOT EXISTS idx_analysis_posts_subreddit ON analysis_posts(subreddit);
	`

	_, err := d.db.Exec(query)
	return err
}

// SaveAnalysis saves an analysis record and its posts in one transaction
func (d *Database) SaveAnalysis(record models.AnalysisRecord, posts []models.Post) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
	INSERT INTO analyses (
		id, keywords, subreddit, outcome, status_code,
		total_posts, post_count, analyzed_at, received_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID, record.Keywords, record.Subreddit, record.Outcome, record.StatusCode,
		record.TotalPosts, record.PostCount, record.AnalyzedAt.UTC(), record.ReceivedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}

	stmt, err := tx.Prepare(`
	INSERT INTO analysis_posts (
		analysis_id, position, title, subreddit, author, upvotes,
		comments, url, ai_insight, engagement, growth_tip
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare post insert: %w", err)
	}
	defer stmt.Close()

	for i, post := range posts {
		_, err := stmt.Exec(
			record.ID, i, post.Title, post.Subreddit, post.Author, post.Upvotes,
			post.Comments, post.URL, post.AIInsight, post.Engagement, post.GrowthTip,
		)
		if err != nil {
			return fmt.Errorf("failed to save post %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit analysis: %w", err)
	}

	d.log.WithFields(logrus.Fields{
		"analysis_id": record.ID,
		"outcome":     record.Outcome,
		"post_count":  len(posts),
	}).Debug("Saved analysis history")

	return nil
}

// GetRecentAnalyses returns the N most recent analyses, newest first
func (d *Database) GetRecentAnalyses(limit int) ([]models.AnalysisRecord, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT id, keywords, subreddit, outcome, status_code,
		total_posts, post_count, analyzed_at, received_at
	FROM analyses
	ORDER BY analyzed_at DESC
	LIMIT ?
	`

	rows, err := d.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent analyses: %w", err)
	}
	defer rows.Close()

	records := make([]models.AnalysisRecord, 0, limit)
	for rows.Next() {
		var record models.AnalysisRecord

		err := rows.Scan(
			&record.ID, &record.Keywords, &record.Subreddit, &record.Outcome, &record.StatusCode,
			&record.TotalPosts, &record.PostCount, &record.AnalyzedAt, &record.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

// GetTopPostsByUpvotes returns the top N distinct posts by upvotes across all analyses.
// A post seen by several analyses is keyed by URL and reported with its highest count.
func (d *Database) GetTopPostsByUpvotes(limit int) ([]models.Post, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT title, subreddit, author, MAX(upvotes) AS upvotes,
		comments, url, ai_insight, engagement, growth_tip
	FROM analysis_posts
	GROUP BY CASE WHEN url = '' THEN analysis_id || ':' || position ELSE url END
	ORDER BY upvotes DESC
	LIMIT ?
	`

	rows, err := d.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top posts: %w", err)
	}
	defer rows.Close()

	posts := make([]models.Post, 0, limit)
	for rows.Next() {
		var post models.Post

		err := rows.Scan(
			&post.Title, &post.Subreddit, &post.Author, &post.Upvotes,
			&post.Comments, &post.URL, &post.AIInsight, &post.Engagement, &post.GrowthTip,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}

		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return posts, nil
}

// GetTopSubredditsByPostCount returns the top N subreddits by number of posts returned
func (d *Database) GetTopSubredditsByPostCount(limit int) (map[string]int, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT subreddit, COUNT(*) as post_count
	FROM analysis_posts
	WHERE subreddit != ''
	GROUP BY subreddit
	ORDER BY post_count DESC
	LIMIT ?
	`

	rows, err := d.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top subreddits: %w", err)
	}
	defer rows.Close()

	subreddits := make(map[string]int)
	for rows.Next() {
		var subreddit string
		var count int

		if err := rows.Scan(&subreddit, &count); err != nil {
			return nil, fmt.Errorf("failed to scan subreddit post count: %w", err)
		}

		subreddits[subreddit] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return subreddits, nil
}

// GetAnalysisCounts returns the total number of analyses and how many of them failed
func (d *Database) GetAnalysisCounts() (total int, failed int, err error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT COUNT(*), COALESCE(SUM(CASE WHEN outcome IN ('ok', 'stub') THEN 0 ELSE 1 END), 0)
	FROM analyses
	`

	if err := d.db.QueryRow(query).Scan(&total, &failed); err != nil {
		return 0, 0, fmt.Errorf("failed to get analysis counts: %w", err)
	}

	return total, failed, nil
}
