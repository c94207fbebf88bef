package model

import (
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/continualrank/trainer/internal/dataset"
	"github.com/continualrank/trainer/internal/mathx"
	"github.com/continualrank/trainer/pkg/config"
)

// PenaltyHook lets a continual-learning strategy mutate the training loss
// before the optimizer step. Implementations add their regularization
// gradient directly into each parameter's Grad buffer and return the scalar
// penalty added to the base loss. The backward pass here is manual, so the
// hook owns both halves of that contribution.
type PenaltyHook interface {
	Penalty(params []*Param) float32
}

// StepResult reports one training step.
type StepResult struct {
	Loss     float32
	Penalty  float32
	Correct  int
	LR       float64
	Duration time.Duration
}

// BiEncoder is the dual-tower retrieval model. The query and context towers
// are independently parameterized; training is driven manually through
// TrainStep so a strategy can inject a penalty between the forward and the
// optimizer step.
type BiEncoder struct {
	cfg config.BiencoderConfig

	question *Encoder
	context  *Encoder
	params   []*Param

	opt   *AdamW
	sched *Scheduler

	globalStep int
	logger     *slog.Logger
}

// New builds a BiEncoder with seeded initialization. totalSteps is the
// number of optimization steps the learning-rate schedule spans.
func New(cfg config.BiencoderConfig, totalSteps int, seed int64) *BiEncoder {
	rng := rand.New(rand.NewSource(seed))
	question := newEncoder("question_model", cfg.VocabSize, cfg.EmbeddingDim, rng)
	context := newEncoder("context_model", cfg.VocabSize, cfg.EmbeddingDim, rng)

	m := &BiEncoder{
		cfg:      cfg,
		question: question,
		context:  context,
		opt:      NewAdamW(cfg.AdamEps, cfg.WeightDecay),
		sched:    NewScheduler(cfg.LearningRate, cfg.WarmupSteps, totalSteps),
		logger:   slog.Default().With("component", "biencoder"),
	}
	m.params = append(m.params, question.params()...)
	m.params = append(m.params, context.params()...)
	return m
}

// Dim returns the embedding dimensionality of both towers.
func (m *BiEncoder) Dim() int {
	return m.cfg.EmbeddingDim
}

// Params returns every trainable parameter in a stable order.
func (m *BiEncoder) Params() []*Param {
	return m.params
}

// GlobalStep returns the number of optimization steps taken so far.
func (m *BiEncoder) GlobalStep() int {
	return m.globalStep
}

// ZeroGrad clears every parameter gradient.
func (m *BiEncoder) ZeroGrad() {
	for _, p := range m.params {
		p.ZeroGrad()
	}
}

// Forward encodes the batch's queries through the question tower and its
// concatenated contexts through the context tower.
func (m *BiEncoder) Forward(batch *dataset.Batch) (q, ctx [][]float32, qCache, ctxCache *encoderCache) {
	q, qCache = m.question.Forward(batch.Queries)
	ctx, ctxCache = m.context.Forward(batch.Contexts)
	return q, ctx, qCache, ctxCache
}

// Loss computes the in-batch-negatives contrastive objective: dot-product
// scores between every query and every context, log-softmax over the context
// axis, and NLL against each query's positive index. It also reports how many
// queries ranked their positive first. A single-query batch degenerates to a
// (1, C) score matrix and needs no special casing.
func (m *BiEncoder) Loss(q, ctx [][]float32, positives []int) (float32, int) {
	loss, correct, _ := m.lossGrad(q, ctx, positives, nil, nil)
	return loss, correct
}

// lossGrad computes the loss and, when dQ/dCtx are non-nil, the gradients of
// the mean NLL with respect to the query and context embeddings.
func (m *BiEncoder) lossGrad(q, ctx [][]float32, positives []int, dQ, dCtx [][]float32) (float32, int, [][]float32) {
	scores := mathx.ScoreMatrix(q, ctx)
	n := float32(len(q))

	var loss float32
	correct := 0
	for i, row := range scores {
		logProbs := mathx.LogSoftmax(row)
		loss += -logProbs[positives[i]] / n
		if mathx.Argmax(logProbs) == positives[i] {
			correct++
		}

		if dQ != nil {
			probs := mathx.Softmax(row)
			probs[positives[i]] -= 1
			for j := range probs {
				grad := probs[j] / n
				mathx.Axpy(grad, ctx[j], dQ[i])
				mathx.Axpy(grad, q[i], dCtx[j])
			}
		}
	}
	return loss, correct, scores
}

// SharedStep runs forward, computes the base loss, and backpropagates it
// into the parameter gradients. It does not touch the optimizer, which makes
// it reusable for both training steps and Fisher estimation passes.
func (m *BiEncoder) SharedStep(batch *dataset.Batch) (float32, int) {
	q, ctx, qCache, ctxCache := m.Forward(batch)

	dQ := zeroLike(q)
	dCtx := zeroLike(ctx)
	loss, correct, _ := m.lossGrad(q, ctx, batch.Positives, dQ, dCtx)

	m.question.Backward(qCache, dQ)
	m.context.Backward(ctxCache, dCtx)
	return loss, correct
}

// TrainStep runs one manual optimization step: zero-grad, forward plus base
// loss, strategy penalty hook, backward, gradient-norm clipping, optimizer
// step, scheduler step.
func (m *BiEncoder) TrainStep(batch *dataset.Batch, hook PenaltyHook) StepResult {
	start := time.Now()

	m.ZeroGrad()
	loss, correct := m.SharedStep(batch)

	var penalty float32
	if hook != nil {
		penalty = hook.Penalty(m.params)
	}

	m.clipGradNorm()
	lr := m.sched.LR()
	m.opt.Step(m.params, lr)
	m.sched.Step()
	m.globalStep++

	m.logger.Debug("train step",
		"step", m.globalStep,
		"loss", loss,
		"penalty", penalty,
		"lr", lr,
	)

	return StepResult{
		Loss:     loss + penalty,
		Penalty:  penalty,
		Correct:  correct,
		LR:       lr,
		Duration: time.Since(start),
	}
}

// EvalStep computes loss and correct predictions without touching gradients
// or parameters.
func (m *BiEncoder) EvalStep(batch *dataset.Batch) (float32, int) {
	q, ctx, _, _ := m.Forward(batch)
	return m.Loss(q, ctx, batch.Positives)
}

// EncodeQueries embeds token sequences through the question tower only.
func (m *BiEncoder) EncodeQueries(tokens [][]int) [][]float32 {
	out, _ := m.question.Forward(tokens)
	return out
}

// EncodeContexts embeds token sequences through the context tower only.
func (m *BiEncoder) EncodeContexts(tokens [][]int) [][]float32 {
	out, _ := m.context.Forward(tokens)
	return out
}

// clipGradNorm rescales all gradients so their global Euclidean norm does
// not exceed the configured bound.
func (m *BiEncoder) clipGradNorm() {
	maxNorm := float32(m.cfg.MaxGradNorm)
	if maxNorm <= 0 {
		return
	}
	var total float64
	for _, p := range m.params {
		n := mathx.Norm(p.Grad)
		total += float64(n) * float64(n)
	}
	norm := float32(math.Sqrt(total))
	if norm <= maxNorm {
		return
	}
	scale := maxNorm / norm
	for _, p := range m.params {
		mathx.Scale(scale, p.Grad)
	}
}

func zeroLike(rows [][]float32) [][]float32 {
	out := make([][]float32, len(rows))
	for i := range rows {
		out[i] = make([]float32, len(rows[i]))
	}
	return out
}
