package report

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format selects a report rendering.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "txt"
)

// ParseFormat validates a user-supplied format string. Empty defaults
// to JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return FormatJSON, nil
	case "txt", "text":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", s)
	}
}

// Render serializes the report in the requested format.
func Render(r *Report, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(r, "", "  ")
	case FormatText:
		return []byte(RenderText(r)), nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", f)
	}
}

// RenderText produces the plain-text rendering used for downloads.
func RenderText(r *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "PRODUCT REVIEW REPORT\n")
	fmt.Fprintf(&b, "=====================\n\n")
	fmt.Fprintf(&b, "Item:      %s\n", r.Metadata.ItemID)
	fmt.Fprintf(&b, "Job:       %s\n", r.Metadata.JobID)
	fmt.Fprintf(&b, "Generated: %s\n\n", r.Metadata.Timestamp.Format("2006-01-02 15:04:05"))

	fmt.Fprintf(&b, "PRODUCT\n-------\n")
	fmt.Fprintf(&b, "Title:         %s\n", orNA(r.Product.Title))
	fmt.Fprintf(&b, "Rating:        %.1f/5 (%d reviews)\n", r.Product.RatingAverage, r.Product.TotalReviews)
	fmt.Fprintf(&b, "Price:         %s\n", orNA(r.Product.Price))
	fmt.Fprintf(&b, "Reviews used:  %d\n\n", r.Product.ReviewsExtracted)

	if s := r.Analysis.Sentiment; s != nil {
		fmt.Fprintf(&b, "SENTIMENT\n---------\n")
		fmt.Fprintf(&b, "Overall:    %s (confidence %.2f)\n", orNA(s.Overall), s.Confidence)
		if s.RatingCoherence != "" {
			fmt.Fprintf(&b, "Coherence:  %s\n", s.RatingCoherence)
		}
		writeList(&b, "Key points", s.KeyPoints)
		b.WriteString("\n")
	}

	if t := r.Analysis.Themes; t != nil {
		fmt.Fprintf(&b, "THEMES\n------\n")
		writeList(&b, "Strengths", t.Strengths)
		writeList(&b, "Weaknesses", t.Weaknesses)
		writeList(&b, "Emerging themes", t.EmergingThemes)
		writeList(&b, "Recommendations", t.Recommendations)
		if len(t.Keywords) > 0 {
			fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(t.Keywords, ", "))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "PERFORMANCE\n-----------\n")
	fmt.Fprintf(&b, "Fetch:     %.2fs\n", r.Performance.FetchDuration)
	fmt.Fprintf(&b, "Analysis:  %.2fs\n", r.Performance.AnalysisDuration)
	fmt.Fprintf(&b, "Total:     %.2fs\n", r.Performance.TotalDuration)
	fmt.Fprintf(&b, "Authenticated: %v\n", r.Performance.Authenticated)

	if r.Errors.TotalErrors > 0 {
		fmt.Fprintf(&b, "\nERRORS (%d)\n----------\n", r.Errors.TotalErrors)
		for _, e := range r.Errors.FetchErrors {
			fmt.Fprintf(&b, "- fetch: %s\n", e)
		}
		for _, e := range r.Errors.AnalysisErrors {
			fmt.Fprintf(&b, "- analysis: %s\n", e)
		}
	}

	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, item := range items {
		fmt.Fprintf(b, "  - %s\n", item)
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
