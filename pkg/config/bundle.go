package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// The bundle file keeps scale points and dimensions as lists because viper lowercases map keys.
type bundleFile struct {
	Version  string              `mapstructure:"version"`
	Grades   *models.GradeScheme `mapstructure:"grades"`
	Subjects []subjectFile       `mapstructure:"subjects"`
}

type subjectFile struct {
	SubjectID   string                    `mapstructure:"subject_id"`
	SubjectName string                    `mapstructure:"subject_name"`
	MaxScore    float64                   `mapstructure:"max_score"`
	Questions   []models.QuestionConfig   `mapstructure:"questions"`
	Dimensions  []models.DimensionMapping `mapstructure:"dimensions"`
	Scale       *scaleFile                `mapstructure:"scale"`
}

type scaleFile struct {
	InstrumentType string               `mapstructure:"instrument_type"`
	ScaleLevel     int                  `mapstructure:"scale_level"`
	Points         []scalePoint         `mapstructure:"points"`
	ReversePoints  []scalePoint         `mapstructure:"reverse_points"`
	Dimensions     []scaleDimensionFile `mapstructure:"dimensions"`
}

type scalePoint struct {
	Level int     `mapstructure:"level"`
	Score float64 `mapstructure:"score"`
	Label string  `mapstructure:"label"`
}

type scaleDimensionFile struct {
	DimensionID      string   `mapstructure:"dimension_id"`
	ForwardQuestions []string `mapstructure:"forward_questions"`
	ReverseQuestions []string `mapstructure:"reverse_questions"`
}

// LoadBundle reads the calculation bundle (subjects, dimensions, scales and grade
// thresholds) from a YAML or JSON file and validates it.
func LoadBundle(path string) (models.Bundle, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return models.Bundle{}, fmt.Errorf("read bundle %s: %w", path, err)
	}
	var file bundleFile
	if err := v.Unmarshal(&file); err != nil {
		return models.Bundle{}, fmt.Errorf("decode bundle %s: %w", path, err)
	}
	bundle := file.bundle()
	if err := ValidateBundle(bundle); err != nil {
		return models.Bundle{}, err
	}
	return bundle, nil
}

func (f bundleFile) bundle() models.Bundle {
	bundle := models.Bundle{Version: f.Version, Grades: models.DefaultGradeScheme()}
	if f.Grades != nil {
		bundle.Grades = *f.Grades
	}
	for _, s := range f.Subjects {
		subject := models.SubjectConfig{
			SubjectID:   s.SubjectID,
			SubjectName: s.SubjectName,
			MaxScore:    s.MaxScore,
			Questions:   s.Questions,
			Dimensions:  s.Dimensions,
		}
		if s.Scale != nil {
			scale := s.Scale.scale()
			subject.Scale = &scale
		}
		bundle.Subjects = append(bundle.Subjects, subject)
	}
	return bundle
}

func (s scaleFile) scale() models.ScaleConfig {
	level := s.ScaleLevel
	if level == 0 {
		level = len(s.Points)
	}
	scale := models.NewLikertScale(s.InstrumentType, level)
	if len(s.Points) > 0 {
		scale.ForwardMap = map[int]float64{}
		for _, p := range s.Points {
			scale.ForwardMap[p.Level] = p.Score
			if p.Label != "" {
				if scale.OptionLabels == nil {
					scale.OptionLabels = map[int]string{}
				}
				scale.OptionLabels[p.Level] = p.Label
			}
		}
		scale.ReverseMap = models.ReverseOf(scale.ForwardMap, level)
	}
	if len(s.ReversePoints) > 0 {
		scale.ReverseMap = map[int]float64{}
		for _, p := range s.ReversePoints {
			scale.ReverseMap[p.Level] = p.Score
		}
	}
	for _, d := range s.Dimensions {
		scale.Dimensions[d.DimensionID] = models.ScaleDimension{
			ForwardQuestions: d.ForwardQuestions,
			ReverseQuestions: d.ReverseQuestions,
		}
	}
	return scale
}

var bundleValidator = validator.New()

// ValidateBundle checks field constraints, unique subjects and ordered grade thresholds.
func ValidateBundle(b models.Bundle) error {
	if err := bundleValidator.Struct(b); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, true, "invalid bundle")
	}
	seen := map[string]bool{}
	for _, s := range b.Subjects {
		if seen[s.SubjectID] {
			return appErrors.Clonef(appErrors.ErrValidation, "subject %s configured twice", s.SubjectID)
		}
		seen[s.SubjectID] = true
		if s.Scale != nil && s.Scale.ScaleLevel < 2 {
			return appErrors.Clonef(appErrors.ErrValidation, "subject %s scale needs at least two levels", s.SubjectID)
		}
	}
	for name, t := range map[string]models.GradeThresholds{"primary": b.Grades.Primary, "middle": b.Grades.Middle} {
		if !(t.Excellent >= t.Good && t.Good >= t.Pass) {
			return appErrors.Clonef(appErrors.ErrValidation, "%s grade thresholds must descend", name)
		}
	}
	return nil
}
