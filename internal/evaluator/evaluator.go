// Package evaluator scores retrieval quality after each task. It loads the
// persisted index and test embedding artifacts, ranks the index by
// dot-product similarity for every test query, and reports top-k accuracy
// and mean reciprocal rank against the test set's relevant passages.
package evaluator

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/continualrank/trainer/internal/artifact"
	"github.com/continualrank/trainer/internal/dataset"
	"github.com/continualrank/trainer/internal/mathx"
)

var topK = []int{1, 5, 10, 20, 50, 100}

// Params is the evaluation contract: embedding dimensionality, the datasets
// behind both artifacts, the artifact paths, the device label, and the task
// id the run is on.
type Params struct {
	Dim       int
	IndexSet  []dataset.Passage
	IndexPath string
	TestSet   []dataset.TestRecord
	TestPath  string
	Device    string
	TaskID    int
}

// Evaluator computes retrieval metrics for one task.
type Evaluator struct {
	params Params
	logger *slog.Logger
}

// New creates an Evaluator.
func New(params Params) *Evaluator {
	return &Evaluator{
		params: params,
		logger: slog.Default().With("component", "evaluator", "task_id", params.TaskID),
	}
}

// Evaluate loads both artifacts, validates them against their datasets, and
// returns a mapping from metric name to scalar.
func (e *Evaluator) Evaluate() (map[string]float64, error) {
	index, err := artifact.Read(e.params.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("loading index artifact: %w", err)
	}
	queries, err := artifact.Read(e.params.TestPath)
	if err != nil {
		return nil, fmt.Errorf("loading test artifact: %w", err)
	}
	if len(index) != len(e.params.IndexSet) {
		return nil, fmt.Errorf("index artifact has %d embeddings, dataset has %d passages", len(index), len(e.params.IndexSet))
	}
	if len(queries) != len(e.params.TestSet) {
		return nil, fmt.Errorf("test artifact has %d embeddings, dataset has %d queries", len(queries), len(e.params.TestSet))
	}
	if len(index[0]) != e.params.Dim {
		return nil, fmt.Errorf("index artifact dimension %d, want %d", len(index[0]), e.params.Dim)
	}

	relevant := e.relevanceSets()

	hits := make(map[int]int, len(topK))
	var reciprocalRanks float64
	evaluated := 0

	for qi, qv := range queries {
		rel := relevant[qi]
		if len(rel) == 0 {
			continue
		}
		evaluated++

		ranked := rankByScore(qv, index)
		for _, k := range topK {
			limit := k
			if limit > len(ranked) {
				limit = len(ranked)
			}
			for _, doc := range ranked[:limit] {
				if _, ok := rel[doc]; ok {
					hits[k]++
					break
				}
			}
		}
		for rank, doc := range ranked {
			if _, ok := rel[doc]; ok {
				reciprocalRanks += 1 / float64(rank+1)
				break
			}
		}
	}

	scores := make(map[string]float64, len(topK)+1)
	for _, k := range topK {
		name := fmt.Sprintf("accuracy_top_%d", k)
		if evaluated == 0 {
			scores[name] = 0
			continue
		}
		scores[name] = float64(hits[k]) / float64(evaluated)
	}
	if evaluated == 0 {
		scores["mrr"] = 0
	} else {
		scores["mrr"] = reciprocalRanks / float64(evaluated)
	}

	e.logger.Info("evaluation complete",
		"device", e.params.Device,
		"queries_evaluated", evaluated,
		"index_size", len(index),
	)
	return scores, nil
}

// relevanceSets maps every test query to the index positions whose passage
// text matches one of its answers.
func (e *Evaluator) relevanceSets() []map[int]struct{} {
	byText := make(map[string][]int, len(e.params.IndexSet))
	for i, p := range e.params.IndexSet {
		byText[normalize(p.Text)] = append(byText[normalize(p.Text)], i)
	}

	sets := make([]map[int]struct{}, len(e.params.TestSet))
	for qi, record := range e.params.TestSet {
		rel := make(map[int]struct{})
		for _, answer := range record.Answers {
			for _, idx := range byText[normalize(answer)] {
				rel[idx] = struct{}{}
			}
		}
		sets[qi] = rel
	}
	return sets
}

// rankByScore orders index positions by descending dot-product score, tie
// broken by position for determinism.
func rankByScore(query []float32, index [][]float32) []int {
	type scored struct {
		pos   int
		score float32
	}
	docs := make([]scored, len(index))
	for i, vec := range index {
		docs[i] = scored{pos: i, score: mathx.Dot(query, vec)}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].score != docs[j].score {
			return docs[i].score > docs[j].score
		}
		return docs[i].pos < docs[j].pos
	})
	ranked := make([]int, len(docs))
	for i, d := range docs {
		ranked[i] = d.pos
	}
	return ranked
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
