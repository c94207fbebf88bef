package dataset

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Batch is one encoded training batch. Contexts holds, for every query in
// order, its positive context followed by its hard negatives, so query i's
// positive sits at index i*(1+negatives). During loss computation the other
// queries' contexts act as in-batch negatives.
type Batch struct {
	Queries   [][]int
	Contexts  [][]int
	Positives []int
}

// Size returns the number of queries in the batch.
func (b *Batch) Size() int {
	return len(b.Queries)
}

// Loader produces encoded batches from a task's records. Batch encoding runs
// on a bounded worker pool; delivery order always matches record order. A
// Loader is re-iterable: every Each call walks the full task again, which is
// what the Fisher estimation pass relies on.
type Loader struct {
	records   []Record
	tok       *Tokenizer
	batchSize int
	negatives int
	workers   int

	// Limit caps the number of batches per pass when > 0 (fast dev runs).
	Limit int
}

// NewLoader builds a Loader over records with the given batch geometry.
func NewLoader(records []Record, tok *Tokenizer, batchSize, negatives, workers int) *Loader {
	if workers < 1 {
		workers = 1
	}
	return &Loader{
		records:   records,
		tok:       tok,
		batchSize: batchSize,
		negatives: negatives,
		workers:   workers,
	}
}

// Len returns the number of records backing the loader.
func (l *Loader) Len() int {
	return len(l.records)
}

// NumBatches returns how many batches one full pass yields.
func (l *Loader) NumBatches() int {
	n := (len(l.records) + l.batchSize - 1) / l.batchSize
	if l.Limit > 0 && n > l.Limit {
		n = l.Limit
	}
	return n
}

// Each encodes every batch and invokes fn for each one in order. Encoding is
// parallel across batches but fn always observes the stream sequentially.
func (l *Loader) Each(ctx context.Context, fn func(batch *Batch) error) error {
	n := l.NumBatches()
	if n == 0 {
		return nil
	}
	batches := make([]*Batch, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batches[i] = l.encodeBatch(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, batch := range batches {
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) encodeBatch(idx int) *Batch {
	start := idx * l.batchSize
	end := start + l.batchSize
	if end > len(l.records) {
		end = len(l.records)
	}
	window := l.records[start:end]

	batch := &Batch{
		Queries:   make([][]int, 0, len(window)),
		Contexts:  make([][]int, 0, len(window)*(1+l.negatives)),
		Positives: make([]int, 0, len(window)),
	}
	for i, r := range window {
		batch.Queries = append(batch.Queries, l.tok.Encode(r.Question))
		batch.Positives = append(batch.Positives, i*(1+l.negatives))
		batch.Contexts = append(batch.Contexts, l.tok.Encode(r.PositiveCtxs[0].Text))
		for j := 0; j < l.negatives; j++ {
			neg := r.HardNegativeCtxs[j%len(r.HardNegativeCtxs)]
			batch.Contexts = append(batch.Contexts, l.tok.Encode(neg.Text))
		}
	}
	return batch
}

// TextLoader produces ordered batches of encoded texts for the indexing and
// testing passes. Like Loader, encoding is parallel while delivery stays in
// corpus order.
type TextLoader struct {
	texts     []string
	tok       *Tokenizer
	batchSize int
	workers   int

	// Limit caps the number of batches per pass when > 0.
	Limit int
}

// NewTextLoader builds a TextLoader over the given texts.
func NewTextLoader(texts []string, tok *Tokenizer, batchSize, workers int) *TextLoader {
	if workers < 1 {
		workers = 1
	}
	return &TextLoader{texts: texts, tok: tok, batchSize: batchSize, workers: workers}
}

// Len returns the number of texts backing the loader.
func (l *TextLoader) Len() int {
	return len(l.texts)
}

// NumBatches returns how many batches one full pass yields.
func (l *TextLoader) NumBatches() int {
	n := (len(l.texts) + l.batchSize - 1) / l.batchSize
	if l.Limit > 0 && n > l.Limit {
		n = l.Limit
	}
	return n
}

// Each encodes every text batch and invokes fn for each one in order.
func (l *TextLoader) Each(ctx context.Context, fn func(tokens [][]int) error) error {
	n := l.NumBatches()
	if n == 0 {
		return nil
	}
	batches := make([][][]int, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := i * l.batchSize
			end := start + l.batchSize
			if end > len(l.texts) {
				end = len(l.texts)
			}
			tokens := make([][]int, 0, end-start)
			for _, text := range l.texts[start:end] {
				tokens = append(tokens, l.tok.Encode(text))
			}
			batches[i] = tokens
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, tokens := range batches {
		if err := fn(tokens); err != nil {
			return err
		}
	}
	return nil
}
