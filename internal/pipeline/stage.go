// Package pipeline drives items through the fixed stage sequence with
// per-stage retry, backoff and fallback, publishing progress events as
// it goes.
package pipeline

// StageKind identifies one pipeline stage. Each kind is bound at
// compile time to its collaborator call and retry budget.
type StageKind string

const (
	StageNavigate    StageKind = "navigate"
	StageExtract     StageKind = "extract_content"
	StageSentiment   StageKind = "analyze_sentiment"
	StageThemes      StageKind = "analyze_themes"
	StageBuildReport StageKind = "build_report"
	StagePersist     StageKind = "persist_report"
)

func (k StageKind) String() string { return string(k) }

// stageOrder is the execution sequence for one item.
var stageOrder = [...]StageKind{
	StageNavigate,
	StageExtract,
	StageSentiment,
	StageThemes,
	StageBuildReport,
	StagePersist,
}
