package ingestion

import (
	"strings"
	"time"

	"github.com/clubfeed/eventpipe/internal/models"
)

// wellFormed reports whether a post identifies itself and carries both a
// caption and an image reference.
func wellFormed(post models.RawPost) bool {
	return post.Shortcode() != "" &&
		strings.TrimSpace(post.Caption) != "" &&
		strings.TrimSpace(post.ImageURL) != ""
}

// Shortcodes returns the distinct shortcodes of the well-formed posts, in
// batch order. It is the key set for the single SeenSet read of a run.
func Shortcodes(posts []models.RawPost) []string {
	seen := make(map[string]bool, len(posts))
	codes := make([]string, 0, len(posts))
	for _, post := range posts {
		if !wellFormed(post) {
			continue
		}
		code := post.Shortcode()
		if seen[code] {
			continue
		}
		seen[code] = true
		codes = append(codes, code)
	}
	return codes
}

// FilterPosts keeps well-formed posts published at or after cutoff whose
// shortcode is not in seen. Repeated shortcodes keep their first occurrence.
func FilterPosts(posts []models.RawPost, cutoff time.Time, seen map[string]bool) []models.RawPost {
	kept := make([]models.RawPost, 0, len(posts))
	batch := make(map[string]bool, len(posts))

	for _, post := range posts {
		if !wellFormed(post) {
			continue
		}
		if post.PostedAt.Before(cutoff) {
			continue
		}
		code := post.Shortcode()
		if seen[code] || batch[code] {
			continue
		}
		batch[code] = true
		kept = append(kept, post)
	}

	return kept
}
