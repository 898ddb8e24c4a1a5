package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/formfill"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/models"
	"github.com/ternarybob/peto/internal/vnc"
)

// Runner drives one application job end to end: acquire a sandboxed
// browser session, stage the resume, reach the form, run the field
// engine, and decide the terminal state. The VNC session outlives the
// run only when a human needs to finish the job.
type Runner struct {
	cfg      *common.Config
	fleet    interfaces.Fleet
	profiles interfaces.ProfileService
	gateway  interfaces.LLMGateway
	actions  interfaces.ActionLogStorage
	events   interfaces.EventService
	catalog  *formfill.Catalog
	logger   arbor.ILogger

	// submitGrace keeps the viewer alive briefly after a confirmed
	// submission so the user sees the confirmation page.
	submitGrace time.Duration
	settleWait  time.Duration
	pageTimeout time.Duration
}

// NewRunner wires the session runner. Catalog overrides, when
// configured, are merged over the built-in synonym tables.
func NewRunner(cfg *common.Config, fleet interfaces.Fleet, profiles interfaces.ProfileService, gateway interfaces.LLMGateway, actions interfaces.ActionLogStorage, events interfaces.EventService, logger arbor.ILogger) *Runner {
	catalog := formfill.DefaultCatalog()
	if dir := cfg.FormFill.CatalogDir; dir != "" {
		if err := catalog.LoadOverrides(dir); err != nil {
			logger.Warn().Err(err).Str("dir", dir).Msg("Catalog overrides not loaded")
		}
	}

	return &Runner{
		cfg:         cfg,
		fleet:       fleet,
		profiles:    profiles,
		gateway:     gateway,
		actions:     actions,
		events:      events,
		catalog:     catalog,
		logger:      logger,
		submitGrace: 5 * time.Second,
		settleWait:  common.ParseDurationOr(cfg.FormFill.SettleWait, 500*time.Millisecond),
		pageTimeout: 20 * time.Second,
	}
}

// Run executes one job. It always returns a terminal SessionResult; the
// error surface is folded into the failed state.
func (r *Runner) Run(ctx context.Context, userID, jobID, jobURL string, progress func(int)) interfaces.SessionResult {
	report := func(pct int) {
		if progress != nil {
			progress(pct)
		}
	}
	defer r.gateway.ForgetJob(userID, jobID)

	log := r.logger
	log.Info().
		Str("user_id", userID).
		Str("job_id", jobID).
		Str("job_url", jobURL).
		Msg("Starting application session")

	profile, err := r.profiles.GetProfile(ctx, userID)
	if err != nil {
		return interfaces.SessionResult{
			State: models.SessionFailed,
			Error: fmt.Sprintf("profile unavailable: %v", err),
		}
	}

	coord, err := r.fleet.Acquire(ctx, userID, jobURL)
	if err != nil {
		msg := fmt.Sprintf("session allocation failed: %v", err)
		if errors.Is(err, vnc.ErrFleetFull) {
			msg = "no session capacity available"
		}
		return interfaces.SessionResult{State: models.SessionFailed, Error: msg}
	}
	sess := coord.Session()
	report(10)

	r.publish(models.EventVNCStarted, map[string]interface{}{
		"session_id": sess.ID,
		"user_id":    userID,
		"job_id":     jobID,
		"viewer_url": coord.ViewerURL(),
	})

	resumePath, err := injectResume(ctx, r.profiles, profile, sess.SandboxHome)
	if err != nil {
		// The run continues without an attachment; a required upload
		// field will surface through the review path instead.
		log.Warn().Err(err).Str("job_id", jobID).Msg("Resume not staged")
		resumePath = ""
	}

	driver := coord.Driver()
	if err := driver.Navigate(ctx, jobURL); err != nil {
		return r.failed(coord, jobID, fmt.Sprintf("navigation failed: %v", err))
	}
	if err := driver.WaitVisible(ctx, "body", r.pageTimeout); err != nil {
		log.Debug().Err(err).Msg("Page body not confirmed visible")
	}
	coord.Touch()
	report(25)

	// The posting text is captured before the entry click: many boards
	// replace the description with the form.
	jobDescription := r.pageDescription(ctx, driver)

	if captchaPresent(ctx, driver) {
		return r.readyForReview(coord, userID, jobID, "captcha challenge on job page")
	}

	reached, err := selectEntryAction(ctx, driver)
	if err != nil {
		return r.failed(coord, jobID, fmt.Sprintf("entry action failed: %v", err))
	}
	if !reached {
		return r.failed(coord, jobID, "no application form found on page")
	}
	coord.Touch()
	r.settle(ctx)
	report(35)

	fill := r.buildFillOrchestrator(driver, userID, jobID, resumePath, jobDescription)
	fillResult, err := fill.Fill(ctx, profile)
	if err != nil {
		return r.failed(coord, jobID, fmt.Sprintf("form fill failed: %v", err))
	}
	coord.Touch()
	report(80)

	log.Info().
		Str("job_id", jobID).
		Int("passes", fillResult.Passes).
		Int("filled", fillResult.FieldsFilled).
		Int("sensitive_held", fillResult.SensitiveHeld).
		Bool("quota_deferred", fillResult.QuotaDeferred).
		Msg("Form fill finished")

	if captchaPresent(ctx, driver) {
		return r.readyForReview(coord, userID, jobID, "captcha challenge before submit")
	}
	if fillResult.NeedsReview() {
		return r.readyForReview(coord, userID, jobID, reviewReason(fillResult))
	}

	submitted, err := attemptSubmit(ctx, driver, r.settleWait)
	if err != nil {
		return r.failed(coord, jobID, fmt.Sprintf("submit failed: %v", err))
	}
	report(95)
	if !submitted {
		return r.readyForReview(coord, userID, jobID, "submission not confirmed")
	}

	return r.submitted(ctx, coord, userID, jobID)
}

// buildFillOrchestrator assembles the field engine over the session's
// driver for one navigation.
func (r *Runner) buildFillOrchestrator(driver interfaces.BrowserDriver, userID, jobID, resumePath, jobDescription string) *formfill.Orchestrator {
	ff := r.cfg.FormFill
	tracker := formfill.NewTracker(ff.MaxRetries)
	recorder := formfill.NewRecorder(r.actions, userID, jobID, r.logger)
	interactor := formfill.NewInteractor(driver, tracker, recorder, formfill.InteractorConfig{
		MaxRetries:          ff.MaxRetries,
		SettleWait:          r.settleWait,
		RetryBackoff:        common.ParseDurationOr(ff.RetryBackoff, 200*time.Millisecond),
		SimilarityThreshold: ff.SimilarityThreshold,
	}, r.logger)

	return formfill.NewOrchestrator(formfill.OrchestratorDeps{
		Detector:   formfill.NewDetector(driver, r.logger),
		Sensitive:  formfill.NewSensitiveDetector(r.catalog, r.logger),
		Fast:       formfill.NewFastMapper(r.catalog, ff.SkillsCap, r.logger),
		AI:         formfill.NewAIMapper(r.gateway, r.logger),
		Interactor: interactor,
		Tracker:    tracker,
		Expander:   formfill.NewExpander(driver, r.settleWait, r.logger),
		Logger:     r.logger,
	}, ff.MaxPasses, userID, jobID, resumePath, jobDescription)
}

const maxDescriptionChars = 4000

// pageDescription grabs the posting text used as LLM context. Best
// effort; an empty description only degrades free-text answers.
func (r *Runner) pageDescription(ctx context.Context, driver interfaces.BrowserDriver) string {
	text, err := driver.TextOf(ctx, "body")
	if err != nil {
		return ""
	}
	if len(text) > maxDescriptionChars {
		text = text[:maxDescriptionChars]
	}
	return text
}

// submitted closes out a confirmed submission. The VNC session stays up
// for a short grace so the user sees the confirmation, then is released.
func (r *Runner) submitted(ctx context.Context, coord interfaces.Coordinator, userID, jobID string) interfaces.SessionResult {
	sess := coord.Session()

	if err := r.actions.MarkCompleted(ctx, userID, jobID); err != nil {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("Action log not marked completed")
	}

	select {
	case <-time.After(r.submitGrace):
	case <-ctx.Done():
	}
	r.release(sess.ID, jobID)

	return interfaces.SessionResult{
		State:     models.SessionSubmitted,
		SessionID: sess.ID,
	}
}

// readyForReview hands the live session to the user: the VNC viewer
// stays attached and automation stops.
func (r *Runner) readyForReview(coord interfaces.Coordinator, userID, jobID, reason string) interfaces.SessionResult {
	sess := coord.Session()
	r.logger.Info().
		Str("job_id", jobID).
		Str("session_id", sess.ID).
		Str("reason", reason).
		Msg("Session handed off for review")

	r.publish(models.EventReadyForReview, map[string]interface{}{
		"session_id": sess.ID,
		"user_id":    userID,
		"job_id":     jobID,
		"viewer_url": coord.ViewerURL(),
		"reason":     reason,
	})

	return interfaces.SessionResult{
		State:     models.SessionReadyForReview,
		SessionID: sess.ID,
		ViewerURL: coord.ViewerURL(),
		Error:     reason,
	}
}

func (r *Runner) failed(coord interfaces.Coordinator, jobID, msg string) interfaces.SessionResult {
	sess := coord.Session()
	r.logger.Warn().
		Str("job_id", jobID).
		Str("session_id", sess.ID).
		Str("error", msg).
		Msg("Session failed")

	r.release(sess.ID, jobID)
	return interfaces.SessionResult{
		State:     models.SessionFailed,
		SessionID: sess.ID,
		Error:     msg,
	}
}

func (r *Runner) release(sessionID, jobID string) {
	if err := r.fleet.Release(sessionID); err != nil {
		r.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Session release failed")
		return
	}
	r.publish(models.EventVNCClosed, map[string]interface{}{
		"session_id": sessionID,
		"job_id":     jobID,
	})
}

func (r *Runner) publish(t models.EventType, payload map[string]interface{}) {
	r.events.Publish(models.Event{Type: t, Payload: payload, Timestamp: time.Now()})
}

func (r *Runner) settle(ctx context.Context) {
	select {
	case <-time.After(r.settleWait):
	case <-ctx.Done():
	}
}

func reviewReason(res *formfill.FillResult) string {
	switch {
	case res.SensitiveUnfilled && res.RequiredUnresolved:
		return "sensitive fields held and required fields unresolved"
	case res.SensitiveUnfilled:
		return "sensitive fields held for the user"
	default:
		return "required fields unresolved"
	}
}

var _ interfaces.SessionRunner = (*Runner)(nil)
