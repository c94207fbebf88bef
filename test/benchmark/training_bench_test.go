// Package benchmark measures the hot paths of a training run: forward and
// backward passes through the bi-encoder, score-matrix construction, and the
// EWC penalty. Run with:
//
//	go test -bench=. -benchmem ./test/benchmark/...
package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/continualrank/trainer/internal/continual"
	"github.com/continualrank/trainer/internal/dataset"
	"github.com/continualrank/trainer/internal/mathx"
	"github.com/continualrank/trainer/internal/model"
	"github.com/continualrank/trainer/pkg/config"
)

func benchConfig(dim int) config.BiencoderConfig {
	return config.BiencoderConfig{
		LearningRate: 2e-5,
		AdamEps:      1e-8,
		WeightDecay:  0.01,
		MaxGradNorm:  2.0,
		EmbeddingDim: dim,
		VocabSize:    1 << 12,
	}
}

func benchBatch(size, negatives, seqLen int) *dataset.Batch {
	batch := &dataset.Batch{
		Queries:   make([][]int, size),
		Contexts:  make([][]int, 0, size*(1+negatives)),
		Positives: make([]int, size),
	}
	tokens := func(offset int) []int {
		ids := make([]int, seqLen)
		for i := range ids {
			ids[i] = (offset*seqLen+i)%((1<<12)-1) + 1
		}
		return ids
	}
	for i := 0; i < size; i++ {
		batch.Queries[i] = tokens(i)
		batch.Positives[i] = i * (1 + negatives)
		for j := 0; j <= negatives; j++ {
			batch.Contexts = append(batch.Contexts, tokens(size+i*(1+negatives)+j))
		}
	}
	return batch
}

func BenchmarkTrainStep(b *testing.B) {
	for _, size := range []int{8, 32, 128} {
		b.Run(fmt.Sprintf("batch_%d", size), func(b *testing.B) {
			m := model.New(benchConfig(128), b.N+1, 42)
			batch := benchBatch(size, 1, 64)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				m.TrainStep(batch, nil)
			}
		})
	}
}

func BenchmarkEvalStep(b *testing.B) {
	m := model.New(benchConfig(128), 1000, 42)
	batch := benchBatch(32, 1, 64)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.EvalStep(batch)
	}
}

func BenchmarkEWCPenalty(b *testing.B) {
	m := model.New(benchConfig(128), 1000, 42)
	ewc := continual.NewEWC(100, m)

	tok := dataset.NewTokenizer(1<<12, 64)
	records := make([]dataset.Record, 16)
	for i := range records {
		records[i] = dataset.Record{
			Question:         fmt.Sprintf("benchmark query %d", i),
			PositiveCtxs:     []dataset.Passage{{Text: fmt.Sprintf("benchmark positive passage %d", i)}},
			HardNegativeCtxs: []dataset.Passage{{Text: fmt.Sprintf("benchmark negative passage %d", i)}},
		}
	}
	loader := dataset.NewLoader(records, tok, 8, 1, 2)
	if err := ewc.OnTaskStart(context.Background(), 1, loader); err != nil {
		b.Fatalf("OnTaskStart: %v", err)
	}
	for _, p := range m.Params() {
		for i := range p.Data {
			p.Data[i] += 0.01
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.ZeroGrad()
		ewc.Penalty(m.Params())
	}
}

func BenchmarkScoreMatrix(b *testing.B) {
	for _, size := range []int{32, 128} {
		b.Run(fmt.Sprintf("queries_%d", size), func(b *testing.B) {
			m := model.New(benchConfig(128), 1000, 42)
			batch := benchBatch(size, 1, 64)
			q, c, _, _ := m.Forward(batch)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				out := mathx.ScoreMatrix(q, c)
				_ = out
			}
		})
	}
}

func BenchmarkEncode(b *testing.B) {
	tok := dataset.NewTokenizer(1<<15, 256)
	text := "continual learning of dense retrieval models rebuilds the passage index after every task to track how representations drift across the stream"
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	for i := 0; i < b.N; i++ {
		ids := tok.Encode(text)
		_ = ids
	}
}
