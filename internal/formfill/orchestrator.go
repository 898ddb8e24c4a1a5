package formfill

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/models"
	"github.com/ternarybob/peto/internal/services/llm"
)

// FillResult summarizes one form-fill run for the session orchestrator's
// terminal-state decision.
type FillResult struct {
	Passes             int
	FieldsFilled       int
	SensitiveHeld      int  // fields held back by the sensitivity rules
	SensitiveUnfilled  bool // a held-back field is still empty
	RequiredUnresolved bool // a required field could not be resolved
	QuotaDeferred      bool // an LLM batch was deferred on exhausted quota
}

// NeedsReview reports whether the run must hand off to a human.
func (r *FillResult) NeedsReview() bool {
	return r.SensitiveUnfilled || r.RequiredUnresolved
}

// Orchestrator runs the fill loop for one page navigation: scan, hold
// back sensitive fields, fast-map, extract options, AI-map, interact,
// expand sections, repeat until quiescent or the pass bound is hit.
//
// The phase order is load-bearing: pattern matching is free and precise,
// synonym mapping is free and broad, option extraction mutates popups and
// is expensive, LLM calls are quota-governed. Options are never extracted
// for fields the tracker has already closed.
type Orchestrator struct {
	detector   *Detector
	sensitive  *SensitiveDetector
	fast       *FastMapper
	ai         *AIMapper
	interactor *Interactor
	tracker    *Tracker
	expander   *Expander
	logger     arbor.ILogger

	maxPasses      int
	userID         string
	jobID          string
	resumePath     string
	jobDescription string
}

// OrchestratorDeps wires the engine components for one navigation.
type OrchestratorDeps struct {
	Detector   *Detector
	Sensitive  *SensitiveDetector
	Fast       *FastMapper
	AI         *AIMapper
	Interactor *Interactor
	Tracker    *Tracker
	Expander   *Expander
	Logger     arbor.ILogger
}

// NewOrchestrator creates the fill orchestrator for one job page.
func NewOrchestrator(deps OrchestratorDeps, maxPasses int, userID, jobID, resumePath, jobDescription string) *Orchestrator {
	if maxPasses <= 0 {
		maxPasses = 4
	}
	return &Orchestrator{
		detector:       deps.Detector,
		sensitive:      deps.Sensitive,
		fast:           deps.Fast,
		ai:             deps.AI,
		interactor:     deps.Interactor,
		tracker:        deps.Tracker,
		expander:       deps.Expander,
		logger:         deps.Logger,
		maxPasses:      maxPasses,
		userID:         userID,
		jobID:          jobID,
		resumePath:     resumePath,
		jobDescription: jobDescription,
	}
}

// Fill runs passes until quiescent. Recoverable per-field errors are
// recorded and the loop continues; only scan failures propagate.
func (o *Orchestrator) Fill(ctx context.Context, profile *models.ProfileView) (*FillResult, error) {
	result := &FillResult{}
	heldSensitive := make(map[string]bool)

	for pass := 0; pass < o.maxPasses; pass++ {
		result.Passes = pass + 1
		filledThisPass := 0

		descriptors, err := o.detector.Scan(ctx)
		if err != nil {
			return result, fmt.Errorf("pass %d scan failed: %w", pass+1, err)
		}

		sensitive, candidates := o.sensitive.Partition(descriptors, profile)
		for _, desc := range sensitive {
			heldSensitive[desc.StableID] = true
			if desc.Filled {
				delete(heldSensitive, desc.StableID)
			}
		}

		var eligible []models.FieldDescriptor
		for _, desc := range candidates {
			if o.tracker.Eligible(desc.StableID) {
				eligible = append(eligible, desc)
			}
		}
		if len(eligible) == 0 && pass > 0 {
			break
		}

		// Resume uploads resolve locally, before any mapping table.
		uploadHits := o.resumeUploads(eligible)
		filledThisPass += o.applyMapping(ctx, eligible, uploadHits)

		patternHits, remaining := o.fast.PatternPass(eligible, profile)
		filledThisPass += o.applyMapping(ctx, eligible, patternHits)

		fastHits, unresolved := o.fast.BatchPass(remaining, profile)
		filledThisPass += o.applyMapping(ctx, remaining, fastHits)
		remaining = unresolved

		// Only now: open dropdowns to enumerate options. Expensive, and
		// gated on the field not already being closed.
		for i := range remaining {
			if remaining[i].Category.IsDropdown() && o.tracker.Eligible(remaining[i].StableID) {
				if err := o.detector.ExtractOptions(ctx, &remaining[i]); err != nil {
					o.logger.Debug().Err(err).
						Str("stable_id", remaining[i].StableID).
						Msg("Option extraction failed")
				}
			}
		}

		aiHits, err := o.ai.Map(ctx, o.userID, o.jobID, remaining, profile, o.jobDescription)
		if err != nil {
			if errors.Is(err, llm.ErrQuotaExhausted) {
				result.QuotaDeferred = true
				o.logger.Info().
					Str("job_id", o.jobID).
					Int("pass", pass+1).
					Msg("LLM quota exhausted - deferring AI batch")
			} else {
				o.logger.Warn().Err(err).
					Str("job_id", o.jobID).
					Msg("AI mapping failed - continuing with partial mapping")
			}
		}
		filledThisPass += o.applyMapping(ctx, remaining, aiHits)

		grew, err := o.expander.ExpandIfNeeded(ctx, profile)
		if err != nil {
			o.logger.Warn().Err(err).Msg("Section expansion failed")
		}

		result.FieldsFilled = o.tracker.SucceededCount()
		if !grew && filledThisPass == 0 {
			break
		}
	}

	o.finalize(ctx, result, heldSensitive, profile)
	return result, nil
}

// finalize takes one last read-only scan to decide review conditions.
func (o *Orchestrator) finalize(ctx context.Context, result *FillResult, heldSensitive map[string]bool, profile *models.ProfileView) {
	result.SensitiveHeld = len(heldSensitive)
	result.FieldsFilled = o.tracker.SucceededCount()

	descriptors, err := o.detector.Scan(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Final scan failed - assuming review needed")
		result.RequiredUnresolved = true
		return
	}

	for _, desc := range descriptors {
		if heldSensitive[desc.StableID] {
			if !desc.Filled {
				result.SensitiveUnfilled = true
			}
			continue
		}
		if desc.Required && !desc.Filled && !o.tracker.Succeeded(desc.StableID) {
			result.RequiredUnresolved = true
		}
	}
}

// resumeUploads maps file inputs that the injected resume satisfies.
func (o *Orchestrator) resumeUploads(descriptors []models.FieldDescriptor) models.Mapping {
	hits := make(models.Mapping)
	if o.resumePath == "" {
		return hits
	}
	for _, desc := range descriptors {
		if desc.Category == models.CategoryFileUpload && looksLikeResumeField(desc.Label) {
			hits[desc.StableID] = models.Simple(o.resumePath)
		}
	}
	return hits
}

func looksLikeResumeField(label string) bool {
	norm := normalizeLabel(label)
	return strings.Contains(norm, "resume") || strings.Contains(norm, "cv") || strings.Contains(norm, "curriculum")
}

// applyMapping drives every resolved value through the interactor and
// returns the number of fields newly succeeded.
func (o *Orchestrator) applyMapping(ctx context.Context, descriptors []models.FieldDescriptor, mapping models.Mapping) int {
	if len(mapping) == 0 {
		return 0
	}
	byID := descriptorIndex(descriptors)

	filled := 0
	for id, value := range mapping {
		desc, ok := byID[id]
		if !ok || !o.tracker.Eligible(id) {
			continue
		}
		if err := o.interactor.Apply(ctx, desc, value); err != nil {
			o.logger.Debug().Err(err).
				Str("stable_id", id).
				Msg("Field interaction failed")
			continue
		}
		if value.Kind != models.ResolvedSkip {
			filled++
		}
	}
	return filled
}
