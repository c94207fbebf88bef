// Package dataset loads retrieval training data, partitions it into the
// sequential task stream, and produces encoded batches for the bi-encoder.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"

	apperrors "github.com/continualrank/trainer/pkg/errors"
)

// Passage is a single context text with an optional title.
type Passage struct {
	ID    int    `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

// Record is one training example: a query with its ordered positive and
// hard-negative contexts. Records are immutable once loaded.
type Record struct {
	Question         string    `json:"question"`
	PositiveCtxs     []Passage `json:"positive_ctxs"`
	HardNegativeCtxs []Passage `json:"hard_negative_ctxs"`
}

// TestRecord is one held-out query with the texts considered relevant to it.
type TestRecord struct {
	Question string   `json:"question"`
	Answers  []string `json:"answer"`
}

// LoadRecords reads a JSON array of Records and validates each one: the
// question must be non-empty and at least one positive and one hard-negative
// context must be present.
func LoadRecords(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset file %s: %w", path, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, apperrors.Newf(apperrors.ErrMalformedDataset, apperrors.ClassData, "parsing %s: %v", path, err)
	}
	for i, r := range records {
		if r.Question == "" {
			return nil, apperrors.Newf(apperrors.ErrMalformedDataset, apperrors.ClassData, "%s: record %d has no question", path, i)
		}
		if len(r.PositiveCtxs) == 0 {
			return nil, apperrors.Newf(apperrors.ErrMalformedDataset, apperrors.ClassData, "%s: record %d has no positive context", path, i)
		}
		if len(r.HardNegativeCtxs) == 0 {
			return nil, apperrors.Newf(apperrors.ErrMalformedDataset, apperrors.ClassData, "%s: record %d has no hard-negative context", path, i)
		}
	}
	return records, nil
}

// LoadPassages reads the index corpus: a JSON array of Passages in the order
// they will be embedded.
func LoadPassages(path string) ([]Passage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index file %s: %w", path, err)
	}
	var passages []Passage
	if err := json.Unmarshal(data, &passages); err != nil {
		return nil, apperrors.Newf(apperrors.ErrMalformedDataset, apperrors.ClassData, "parsing %s: %v", path, err)
	}
	for i, p := range passages {
		if p.Text == "" {
			return nil, apperrors.Newf(apperrors.ErrMalformedDataset, apperrors.ClassData, "%s: passage %d has no text", path, i)
		}
	}
	return passages, nil
}

// LoadTestRecords reads the held-out query set as a JSON array of
// TestRecords.
func LoadTestRecords(path string) ([]TestRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading test file %s: %w", path, err)
	}
	var records []TestRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, apperrors.Newf(apperrors.ErrMalformedDataset, apperrors.ClassData, "parsing %s: %v", path, err)
	}
	for i, r := range records {
		if r.Question == "" {
			return nil, apperrors.Newf(apperrors.ErrMalformedDataset, apperrors.ClassData, "%s: test record %d has no question", path, i)
		}
	}
	return records, nil
}
