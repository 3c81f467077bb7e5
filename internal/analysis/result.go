package analysis

// Sentiment is the model's judgement of overall review sentiment.
type Sentiment struct {
	Overall         string         `json:"overall"`
	Confidence      float64        `json:"confidence"`
	Distribution    map[string]int `json:"distribution,omitempty"`
	KeyPoints       []string       `json:"key_points,omitempty"`
	RatingCoherence string         `json:"rating_coherence,omitempty"`
	Note            string         `json:"note,omitempty"`
}

// Themes holds the recurring topics and actionable insights extracted
// from the review corpus.
type Themes struct {
	Strengths       []string `json:"strengths,omitempty"`
	Weaknesses      []string `json:"weaknesses,omitempty"`
	EmergingThemes  []string `json:"emerging_themes,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	Note            string   `json:"note,omitempty"`
}
