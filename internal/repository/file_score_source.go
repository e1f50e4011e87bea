package repository

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

// Column prefixes carrying per-question and per-dimension scores.
const (
	QuestionColumnPrefix  = "q:"
	DimensionColumnPrefix = "dim:"
)

var requiredHeaders = []string{"student_id", "school_id", "subject_id"}

// FileScoreSource reads score rows from an .xlsx workbook or a .csv file. When the
// file carries a batch_code column only rows of the requested batch are returned.
type FileScoreSource struct {
	path   string
	logger *zap.Logger
}

// NewFileScoreSource constructs a file-backed score source.
func NewFileScoreSource(path string, logger *zap.Logger) *FileScoreSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileScoreSource{path: path, logger: logger}
}

// LoadScores parses the file.
func (s *FileScoreSource) LoadScores(ctx context.Context, batchCode string) ([]models.ScoreRecord, error) {
	var (
		table [][]string
		err   error
	)
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".xlsx", ".xlsm":
		table, err = readWorkbook(s.path)
	case ".csv":
		table, err = readCSV(s.path)
	default:
		return nil, appErrors.Clonef(appErrors.ErrStructuralInput, "unsupported score file %s", s.path)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := ParseScoreTable(table, batchCode)
	if err != nil {
		return nil, err
	}
	s.logger.Info("score file loaded", zap.String("path", s.path), zap.Int("rows", len(records)))
	return records, nil
}

func readWorkbook(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, appErrors.Clone(appErrors.ErrStructuralInput, "workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrStructuralInput.Code, true, "malformed csv")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseScoreTable converts a header row plus data rows into score records. A missing
// required header is a structural error; unparsable numbers are left missing so that
// validation can report them.
func ParseScoreTable(table [][]string, batchCode string) ([]models.ScoreRecord, error) {
	if len(table) == 0 {
		return nil, appErrors.Clone(appErrors.ErrStructuralInput, "score table is empty")
	}
	header := map[string]int{}
	var questions, dimensions []string
	for i, h := range table[0] {
		h = strings.TrimSpace(h)
		header[strings.ToLower(h)] = i
		switch {
		case strings.HasPrefix(h, QuestionColumnPrefix):
			questions = append(questions, h)
		case strings.HasPrefix(h, DimensionColumnPrefix):
			dimensions = append(dimensions, h)
		}
	}
	for _, h := range requiredHeaders {
		if _, ok := header[h]; !ok {
			return nil, appErrors.Clonef(appErrors.ErrStructuralInput, "required column %s is missing", h)
		}
	}

	cell := func(row []string, name string) string {
		i, ok := header[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	records := make([]models.ScoreRecord, 0, len(table)-1)
	for _, row := range table[1:] {
		if isBlank(row) {
			continue
		}
		if batch := cell(row, "batch_code"); batch != "" && batchCode != "" && batch != batchCode {
			continue
		}
		rec := models.ScoreRecord{
			StudentID:   cell(row, "student_id"),
			SchoolID:    cell(row, "school_id"),
			SchoolName:  cell(row, "school_name"),
			SubjectID:   cell(row, "subject_id"),
			SubjectName: cell(row, "subject_name"),
			SubjectType: models.SubjectType(strings.ToLower(cell(row, "subject_type"))),
			TotalScore:  parseScore(cell(row, "total_score")),
			Absent:      parseBool(cell(row, "absent")),
		}
		if rec.SubjectType == "" {
			rec.SubjectType = models.SubjectTypeExam
		}
		if v := parseScore(cell(row, "max_score")); v != nil {
			rec.MaxScore = *v
		}
		if v, err := strconv.Atoi(cell(row, "grade_level")); err == nil {
			rec.GradeLevel = v
		}
		for _, col := range questions {
			rec.QuestionScores = append(rec.QuestionScores, models.QuestionScore{
				QuestionID: strings.TrimPrefix(col, QuestionColumnPrefix),
				Score:      parseScore(cell(row, strings.ToLower(col))),
			})
		}
		for _, col := range dimensions {
			if v := parseScore(cell(row, strings.ToLower(col))); v != nil {
				rec.DimensionScores = append(rec.DimensionScores, models.DimensionScore{
					DimensionID: strings.TrimPrefix(col, DimensionColumnPrefix),
					Score:       *v,
				})
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseScore(raw string) *float64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseBool(raw string) bool {
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "y", "absent":
		return true
	}
	return false
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
