package model

import (
	"math"
	"testing"

	"github.com/continualrank/trainer/internal/dataset"
	"github.com/continualrank/trainer/pkg/config"
)

func testBiencoderConfig() config.BiencoderConfig {
	return config.BiencoderConfig{
		LearningRate: 0.01,
		AdamEps:      1e-8,
		WeightDecay:  0.01,
		WarmupSteps:  0,
		MaxGradNorm:  2.0,
		EmbeddingDim: 8,
		VocabSize:    64,
	}
}

// testBatch builds a two-query batch with one hard negative per query.
func testBatch() *dataset.Batch {
	return &dataset.Batch{
		Queries:   [][]int{{3, 7, 11}, {5, 9}},
		Contexts:  [][]int{{13, 17}, {19, 23, 29}, {31, 37}, {41, 43, 47}},
		Positives: []int{0, 2},
	}
}

func TestForwardProducesUnitEmbeddings(t *testing.T) {
	m := New(testBiencoderConfig(), 100, 42)
	batch := testBatch()

	q, ctx, _, _ := m.Forward(batch)
	if len(q) != 2 || len(ctx) != 4 {
		t.Fatalf("got %d query and %d context embeddings, want 2 and 4", len(q), len(ctx))
	}
	for i, vec := range append(q, ctx...) {
		if len(vec) != m.Dim() {
			t.Fatalf("embedding %d has dimension %d, want %d", i, len(vec), m.Dim())
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		norm = math.Sqrt(norm)
		if math.Abs(norm-1) > 1e-4 {
			t.Errorf("embedding %d has norm %v, want 1", i, norm)
		}
	}
}

func TestLossAndCorrect(t *testing.T) {
	m := New(testBiencoderConfig(), 100, 42)
	batch := testBatch()

	q, ctx, _, _ := m.Forward(batch)
	loss, correct := m.Loss(q, ctx, batch.Positives)
	if math.IsNaN(float64(loss)) || math.IsInf(float64(loss), 0) {
		t.Fatalf("loss is not finite: %v", loss)
	}
	if loss <= 0 {
		t.Errorf("loss = %v, want > 0 for an untrained model", loss)
	}
	if correct < 0 || correct > len(batch.Queries) {
		t.Errorf("correct = %d, want within [0, %d]", correct, len(batch.Queries))
	}
}

func TestLossSingleQueryBatch(t *testing.T) {
	m := New(testBiencoderConfig(), 100, 42)
	batch := &dataset.Batch{
		Queries:   [][]int{{3, 7}},
		Contexts:  [][]int{{13}, {19}},
		Positives: []int{0},
	}
	q, ctx, _, _ := m.Forward(batch)
	loss, correct := m.Loss(q, ctx, batch.Positives)
	if math.IsNaN(float64(loss)) {
		t.Fatalf("single-query loss is NaN")
	}
	if correct < 0 || correct > 1 {
		t.Errorf("correct = %d for one query", correct)
	}
}

func TestTrainStepUpdatesParameters(t *testing.T) {
	m := New(testBiencoderConfig(), 100, 42)
	batch := testBatch()

	before := make(map[string][]float32)
	for _, p := range m.Params() {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		before[p.Name] = data
	}

	result := m.TrainStep(batch, nil)
	if m.GlobalStep() != 1 {
		t.Errorf("GlobalStep = %d after one step, want 1", m.GlobalStep())
	}
	if result.Penalty != 0 {
		t.Errorf("penalty = %v without a hook, want 0", result.Penalty)
	}
	if result.LR <= 0 {
		t.Errorf("LR = %v, want > 0 with no warmup", result.LR)
	}

	changed := false
	for _, p := range m.Params() {
		prev := before[p.Name]
		for i := range p.Data {
			if p.Data[i] != prev[i] {
				changed = true
			}
		}
	}
	if !changed {
		t.Error("no parameter changed after a training step")
	}
}

func TestTrainStepReducesLossOnFixedBatch(t *testing.T) {
	m := New(testBiencoderConfig(), 100, 42)
	batch := testBatch()

	initial, _ := m.EvalStep(batch)
	for i := 0; i < 30; i++ {
		m.TrainStep(batch, nil)
	}
	final, _ := m.EvalStep(batch)
	if final >= initial {
		t.Errorf("loss did not decrease after repeated steps on one batch: %v -> %v", initial, final)
	}
}

type constantPenalty struct {
	value float32
}

func (p constantPenalty) Penalty([]*Param) float32 { return p.value }

func TestTrainStepAddsPenaltyToLoss(t *testing.T) {
	cfg := testBiencoderConfig()
	a := New(cfg, 100, 42)
	b := New(cfg, 100, 42)
	batch := testBatch()

	plain := a.TrainStep(batch, nil)
	penalized := b.TrainStep(batch, constantPenalty{value: 1.5})

	if penalized.Penalty != 1.5 {
		t.Errorf("penalty = %v, want 1.5", penalized.Penalty)
	}
	if got, want := penalized.Loss-plain.Loss, float32(1.5); float32(math.Abs(float64(got-want))) > 1e-5 {
		t.Errorf("penalized loss exceeds plain loss by %v, want 1.5", got)
	}
}

func TestEvalStepLeavesModelUntouched(t *testing.T) {
	m := New(testBiencoderConfig(), 100, 42)
	batch := testBatch()

	before := make(map[string][]float32)
	for _, p := range m.Params() {
		data := make([]float32, len(p.Data))
		copy(data, p.Data)
		before[p.Name] = data
	}

	if _, correct := m.EvalStep(batch); correct < 0 || correct > len(batch.Queries) {
		t.Errorf("correct out of range")
	}
	if m.GlobalStep() != 0 {
		t.Errorf("GlobalStep = %d after EvalStep, want 0", m.GlobalStep())
	}
	for _, p := range m.Params() {
		prev := before[p.Name]
		for i := range p.Data {
			if p.Data[i] != prev[i] {
				t.Fatalf("parameter %s changed during EvalStep", p.Name)
			}
		}
	}
}

func TestEncodeTowersAreIndependent(t *testing.T) {
	m := New(testBiencoderConfig(), 100, 42)
	tokens := [][]int{{3, 7, 11}}

	q := m.EncodeQueries(tokens)
	c := m.EncodeContexts(tokens)
	if len(q) != 1 || len(c) != 1 {
		t.Fatalf("got %d query and %d context embeddings, want 1 each", len(q), len(c))
	}
	same := true
	for i := range q[0] {
		if q[0][i] != c[0][i] {
			same = false
			break
		}
	}
	if same {
		t.Error("question and context towers produced identical embeddings for the same input")
	}
}

func TestSeededInitializationIsDeterministic(t *testing.T) {
	a := New(testBiencoderConfig(), 100, 42)
	b := New(testBiencoderConfig(), 100, 42)
	for i, p := range a.Params() {
		other := b.Params()[i]
		if p.Name != other.Name {
			t.Fatalf("parameter order differs: %s vs %s", p.Name, other.Name)
		}
		for j := range p.Data {
			if p.Data[j] != other.Data[j] {
				t.Fatalf("parameter %s differs between identically seeded models", p.Name)
			}
		}
	}
}
