package viewstate

import (
	"sort"
	"strings"

	"github.com/brettboylen/reddit-trend-analyzer/models"
)

// Derive returns the posts to display for the given filter and sort.
// The input slice is never modified; ties keep their original relative order.
func Derive(posts []models.Post, filter Filter, order Sort) []models.Post {
	visible := make([]models.Post, 0, len(posts))
	for _, post := range posts {
		if filter == FilterHighEngagement && !strings.EqualFold(post.Engagement, "high") {
			continue
		}
		visible = append(visible, post)
	}

	switch order {
	case SortTopUpvotes:
		sort.SliceStable(visible, func(i, j int) bool {
			return visible[i].Upvotes > visible[j].Upvotes
		})
	case SortMostComments:
		sort.SliceStable(visible, func(i, j int) bool {
			return visible[i].Comments > visible[j].Comments
		})
	case SortRecent:
		// posts carry no timestamp of their own; server order is the recency order
	}

	return visible
}
