package dto

// Subject types exposed in the report contract.
const (
	SubjectTypeExam          = "exam"
	SubjectTypeQuestionnaire = "questionnaire"
)

// EntityReport is the versioned JSON contract emitted for one (batch, level, entity).
type EntityReport struct {
	SchemaVersion string          `json:"schema_version"`
	BatchCode     string          `json:"batch_code"`
	Level         string          `json:"level"`
	EntityID      string          `json:"entity_id"`
	EntityName    string          `json:"entity_name,omitempty"`
	Subjects      []SubjectReport `json:"subjects"`
}

// SubjectReport carries the statistics of one subject.
type SubjectReport struct {
	SubjectID         string             `json:"subject_id"`
	SubjectName       string             `json:"subject_name"`
	Type              string             `json:"type"`
	StudentCount      int                `json:"student_count"`
	Metrics           SubjectMetrics     `json:"metrics"`
	SchoolRankings    []SchoolRanking    `json:"school_rankings,omitempty"`
	RankField         string             `json:"rank_field,omitempty"`
	RankDistribution  *RankDistribution  `json:"rank_distribution,omitempty"`
	RegionRank        *int               `json:"region_rank,omitempty"`
	TotalSchools      *int               `json:"total_schools,omitempty"`
	RankPercentile    *float64           `json:"rank_percentile,omitempty"`
	RankCategory      string             `json:"rank_category,omitempty"`
	Percentiles       map[string]float64 `json:"percentiles,omitempty"`
	GradeDistribution []GradeBand        `json:"grade_distribution,omitempty"`
	Discrimination    *Discrimination    `json:"discrimination,omitempty"`
	Dimensions        []DimensionReport  `json:"dimensions,omitempty"`
	DimensionIndex    *float64           `json:"dimension_index,omitempty"`
	Questions         []QuestionReport   `json:"questions,omitempty"`
	Items             []ItemReport       `json:"items,omitempty"`
}

// SubjectMetrics are the headline numbers of a subject.
type SubjectMetrics struct {
	Avg        float64 `json:"avg"`
	StdDev     float64 `json:"stddev"`
	Max        float64 `json:"max"`
	Min        float64 `json:"min"`
	Difficulty float64 `json:"difficulty"`
}

// SchoolRanking is one row of the region-level school ranking.
type SchoolRanking struct {
	SchoolID   string  `json:"school_id"`
	SchoolName string  `json:"school_name,omitempty"`
	Avg        float64 `json:"avg"`
	Rank       int     `json:"rank"`
	// RankValue is set when schools are ranked by something other than avg.
	RankValue  *float64 `json:"rank_value,omitempty"`
	Percentile float64  `json:"percentile"`
	Category   string   `json:"category,omitempty"`
}

// RankDistribution summarises the ranking values and lists school ids by position band.
type RankDistribution struct {
	Total    int      `json:"total"`
	Mean     float64  `json:"mean"`
	Median   float64  `json:"median"`
	StdDev   float64  `json:"stddev"`
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	Top10    []string `json:"top_10_percent"`
	Top25    []string `json:"top_25_percent"`
	Middle50 []string `json:"middle_50_percent"`
	Bottom25 []string `json:"bottom_25_percent"`
}

// GradeBand is one grade band; Percentage is a ratio in [0,1].
type GradeBand struct {
	Band       string  `json:"band"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Discrimination summarises the discrimination index of a subject or item.
type Discrimination struct {
	Index     float64 `json:"index"`
	Level     string  `json:"level"`
	GroupSize int     `json:"group_size"`
}

// DimensionReport carries the statistics of one dimension.
type DimensionReport struct {
	Code               string        `json:"code"`
	Name               string        `json:"name"`
	Avg                float64       `json:"avg"`
	ScoreRate          float64       `json:"score_rate"`
	Weight             float64       `json:"weight"`
	WeightedAvg        float64       `json:"weighted_avg"`
	Rank               *int          `json:"rank,omitempty"`
	Reliability        *float64      `json:"reliability,omitempty"`
	OptionDistribution []OptionShare `json:"option_distribution,omitempty"`
}

// OptionShare is one option of a distribution; Percentage is on a 0-100 scale.
type OptionShare struct {
	Option     int     `json:"option"`
	Label      string  `json:"label,omitempty"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// QuestionReport is the option distribution of one survey question.
type QuestionReport struct {
	QuestionID         string        `json:"question_id"`
	Missing            int           `json:"missing"`
	OptionDistribution []OptionShare `json:"option_distribution"`
}

// ItemReport is the item analysis of one exam question.
type ItemReport struct {
	QuestionID          string  `json:"question_id"`
	Avg                 float64 `json:"avg"`
	Difficulty          float64 `json:"difficulty"`
	DifficultyLevel     string  `json:"difficulty_level"`
	Discrimination      float64 `json:"discrimination"`
	DiscriminationLevel string  `json:"discrimination_level"`
}
