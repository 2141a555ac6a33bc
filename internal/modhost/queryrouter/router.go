// Package queryrouter answers tenant questions with retrieved context,
// trying each inference tier in order until one answers.
package queryrouter

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/apperrors"
	"github.com/tansive/modhost/internal/modhost/events"
	"github.com/tansive/modhost/internal/modhost/metrics"
	"github.com/tansive/modhost/internal/modhost/schemavalidator"
)

// Answer reports which tier answered along with the context it was given.
type Answer struct {
	Answer  string `json:"answer"`
	Context string `json:"context"`
	Source  string `json:"source"`
}

type Router struct {
	retriever ContextProvider
	tiers     []Tier
	recorder  *events.Recorder
	metrics   *metrics.Metrics
}

func NewRouter(retriever ContextProvider, tiers []Tier, recorder *events.Recorder, m *metrics.Metrics) *Router {
	return &Router{retriever: retriever, tiers: tiers, recorder: recorder, metrics: m}
}

func BuildPrompt(docs, question string) string {
	return "Context: " + docs + "\n\nQuestion: " + question + "\n\nAnswer:"
}

func (r *Router) Ask(ctx context.Context, tenantID, moduleID, question string) (*Answer, apperrors.Error) {
	if question == "" {
		return nil, ErrInvalidQuestion.Msg("question is required")
	}
	if !schemavalidator.ValidResourceName(moduleID) {
		return nil, ErrInvalidQuestion.Msg("invalid module_id: " + moduleID)
	}

	docs, err := r.retriever.Retrieve(ctx, CollectionName(tenantID, moduleID), question)
	if err != nil {
		if !errors.Is(err, ErrCollectionNotFound) {
			log.Ctx(ctx).Error().Err(err).Str("module", moduleID).Msg("context retrieval failed")
			return nil, ErrRetrieval.Err(err)
		}
	}
	prompt := BuildPrompt(docs, question)

	for _, tier := range r.tiers {
		source := tier.Strategy.Source()
		text, err := r.attempt(ctx, tier, prompt)
		if err != nil {
			r.metrics.RouterAttempt(source, "failure")
			log.Ctx(ctx).Warn().Err(err).Str("source", source).Msg("inference tier failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		r.metrics.RouterAttempt(source, "success")
		r.recorder.Usage(ctx, tenantID, source+"_llm_request", 1)
		return &Answer{Answer: text, Context: docs, Source: source}, nil
	}
	return nil, ErrServiceUnavailable
}

func (r *Router) attempt(ctx context.Context, tier Tier, prompt string) (string, error) {
	if tier.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tier.Timeout)
		defer cancel()
	}
	return tier.Strategy.Complete(ctx, prompt)
}
