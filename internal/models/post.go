package models

import (
	"net/url"
	"strings"
	"time"
)

// RawPost is a social-media post as delivered by the source collector.
type RawPost struct {
	SourceID    string    `json:"source_id"`
	Permalink   string    `json:"permalink"`
	Caption     string    `json:"caption"`
	ImageURL    string    `json:"image_url"`
	PostedAt    time.Time `json:"posted_at"`
	OwnerHandle string    `json:"owner_handle"`
}

// Shortcode returns the post identifier embedded in the permalink, or "" when
// the permalink does not identify a post.
func (p RawPost) Shortcode() string {
	return ShortcodeFromPermalink(p.Permalink)
}

// postPathKinds are the permalink path segments that precede a shortcode.
var postPathKinds = map[string]bool{
	"p":     true,
	"reel":  true,
	"reels": true,
	"tv":    true,
}

// ShortcodeFromPermalink extracts the shortcode from permalinks such as
// https://www.instagram.com/p/C1a2B3c4/ or https://instagram.com/club/reel/XyZ/.
func ShortcodeFromPermalink(permalink string) string {
	permalink = strings.TrimSpace(permalink)
	if permalink == "" {
		return ""
	}

	parsed, err := url.Parse(permalink)
	if err != nil || parsed.Host == "" {
		return ""
	}

	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i := 0; i < len(segments)-1; i++ {
		if !postPathKinds[strings.ToLower(segments[i])] {
			continue
		}
		if code := segments[i+1]; isShortcode(code) {
			return code
		}
	}

	return ""
}

func isShortcode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
