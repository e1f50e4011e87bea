package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sma-stats-engine/internal/models"
	appErrors "github.com/noah-isme/sma-stats-engine/pkg/errors"
)

type fileStore interface {
	Save(name string, data []byte) (string, error)
	Read(name string) ([]byte, error)
	List(dir string) ([]string, error)
}

// JSONResultStore keeps one JSON document per entity under results/{batch}/{level}/.
// The document being replaced is copied to history/ first. It serves deployments
// that read scores from a file and have no database.
type JSONResultStore struct {
	files fileStore
}

// NewJSONResultStore constructs the store.
func NewJSONResultStore(files fileStore) *JSONResultStore {
	return &JSONResultStore{files: files}
}

func resultPath(batchCode string, level models.EntityLevel, entityID string) string {
	return path.Join("results", url.PathEscape(batchCode), string(level), url.PathEscape(entityID)+".json")
}

// Replace implements the result sink.
func (s *JSONResultStore) Replace(_ context.Context, res *models.AggregationResult) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CalculatedAt.IsZero() {
		res.CalculatedAt = time.Now().UTC()
	}
	current := resultPath(res.BatchCode, res.Level, res.EntityID)
	previous, err := s.files.Read(current)
	switch {
	case err == nil:
		archive := path.Join("history", url.PathEscape(res.BatchCode), string(res.Level), url.PathEscape(res.EntityID),
			strconv.FormatInt(time.Now().UTC().UnixNano(), 10)+".json")
		if _, err := s.files.Save(archive, previous); err != nil {
			return fmt.Errorf("archive result: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("read previous result: %w", err)
	}

	payload, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if _, err := s.files.Save(current, payload); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// Find returns the stored result of an entity.
func (s *JSONResultStore) Find(_ context.Context, batchCode string, level models.EntityLevel, entityID string) (*models.AggregationResult, error) {
	data, err := s.files.Read(resultPath(batchCode, level, entityID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, appErrors.Clonef(appErrors.ErrNotFound, "no result for %s/%s/%s", batchCode, level, entityID)
		}
		return nil, fmt.Errorf("find result: %w", err)
	}
	return decodeResult(data)
}

// ListByBatch returns every stored result of a batch, region first.
func (s *JSONResultStore) ListByBatch(_ context.Context, batchCode string) ([]models.AggregationResult, error) {
	names, err := s.files.List(path.Join("results", url.PathEscape(batchCode)))
	if err != nil {
		return nil, err
	}
	out := make([]models.AggregationResult, 0, len(names))
	for _, name := range names {
		data, err := s.files.Read(name)
		if err != nil {
			return nil, fmt.Errorf("list results: %w", err)
		}
		res, err := decodeResult(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, nil
}

func decodeResult(data []byte) (*models.AggregationResult, error) {
	var res models.AggregationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}
