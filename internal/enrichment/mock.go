package enrichment

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/clubfeed/eventpipe/internal/models"
)

// MockExtractor is a rule-based extractor for offline runs without OpenAI access.
// It finds at most one event per caption.
type MockExtractor struct{}

func NewMockExtractor() *MockExtractor {
	return &MockExtractor{}
}

var (
	isoDatePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	monthDayPattern = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})\b`)
	clockPattern    = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	locationPattern = regexp.MustCompile(`(?im)(?:📍|location:|where:)\s*(.+)$`)
)

// Extract finds a date, a start time and a location in the caption.
func (m *MockExtractor) Extract(ctx context.Context, req ExtractRequest) ([]models.CandidateEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	caption := strings.TrimSpace(req.Caption)
	date := findDate(caption, req.PostedAt)
	if date == "" {
		return []models.CandidateEvent{}, nil
	}

	candidate := models.CandidateEvent{
		Title:       firstLine(caption),
		Date:        date,
		Description: truncate(caption, 280),
		ImageURL:    req.ImageURL,
	}
	if times := clockPattern.FindAllStringSubmatch(caption, 2); len(times) > 0 {
		candidate.StartTime = clock(times[0])
		if len(times) > 1 {
			candidate.EndTime = clock(times[1])
		}
	}
	if loc := locationPattern.FindStringSubmatch(caption); loc != nil {
		candidate.Location = strings.TrimSpace(loc[1])
	}
	if strings.Contains(strings.ToLower(caption), "free") {
		zero := 0.0
		candidate.Price = &zero
	}

	return []models.CandidateEvent{candidate.Normalize()}, nil
}

func findDate(caption string, postedAt time.Time) string {
	if m := isoDatePattern.FindStringSubmatch(caption); m != nil {
		return m[1]
	}
	m := monthDayPattern.FindStringSubmatch(caption)
	if m == nil {
		return ""
	}
	ref := postedAt
	if ref.IsZero() {
		ref = time.Now()
	}
	month := strings.ToUpper(m[1][:1]) + strings.ToLower(m[1][1:])
	parsed, err := time.Parse("Jan 2 2006", fmt.Sprintf("%s %s %d", month, m[2], ref.Year()))
	if err != nil {
		return ""
	}
	// A date already behind the post date refers to next year.
	if parsed.Before(ref.AddDate(0, 0, -1)) {
		parsed = parsed.AddDate(1, 0, 0)
	}
	return parsed.Format("2006-01-02")
}

func clock(m []string) string {
	minutes := m[2]
	if minutes == "" {
		minutes = "00"
	}
	return fmt.Sprintf("%s:%s %s", m[1], minutes, strings.ToUpper(m[3]))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return truncate(strings.TrimSpace(line), 120)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// HashEmbedder embeds text by hashing word tokens into a fixed number of
// buckets. Texts sharing most words score close to 1 under cosine similarity.
type HashEmbedder struct {
	dimensions int
}

func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &HashEmbedder{dimensions: dimensions}
}

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return nil, ErrEmptyEmbedding
	}

	vec := make([]float32, h.dimensions)
	for _, tok := range tokens {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		vec[f.Sum32()%uint32(h.dimensions)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// Cosine returns the cosine similarity of two equal-length vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
