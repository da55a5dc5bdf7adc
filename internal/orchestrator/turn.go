package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/tunesmith/internal/cover"
	"github.com/ent0n29/tunesmith/internal/music"
	"github.com/ent0n29/tunesmith/internal/persona"
	"github.com/ent0n29/tunesmith/internal/planner"
	"github.com/ent0n29/tunesmith/internal/policy"
	"github.com/ent0n29/tunesmith/internal/protocol"
	"github.com/ent0n29/tunesmith/internal/reliability"
	"github.com/ent0n29/tunesmith/internal/session"
)

// turn is the working state of one Step. Handlers mutate s and append to out; they return
// an error only when the turn must be aborted without persisting.
type turn struct {
	o      *Orchestrator
	s      *session.Session
	in     protocol.Inbound
	log    *zap.Logger
	intent planner.Kind
	out    []protocol.Outbound
}

func (t *turn) run(ctx context.Context) error {
	if t.in.Kind == protocol.InboundMediaAck {
		t.intent = "media_ack"
		t.log.Debug("media message acknowledged", zap.String("media_type", t.in.MediaType))
		return nil
	}

	in := planner.Plan(planner.StateOf(t.s), t.in.Text)
	t.intent = in.Kind
	t.log.Debug("planned intent", zap.String("intent", string(in.Kind)), zap.String("phase", string(t.s.Phase)))

	switch in.Kind {
	case planner.KindGenerateMusic:
		return t.generateFromBrief(ctx, in.Brief)
	case planner.KindClarify:
		t.s.Phase = session.PhaseClarifying
		t.say(msgClarify)
	case planner.KindSelectVariant:
		return t.selectVariant(ctx, in)
	case planner.KindRefineMusic:
		return t.refine(ctx, in)
	case planner.KindGenerateCover:
		return t.generateCover(ctx, in.Delta)
	case planner.KindGenerateVideo:
		return t.generateVideo(ctx)
	case planner.KindApprove:
		t.approve()
	case planner.KindSavePersona:
		return t.savePersona(ctx, in.Name, false)
	case planner.KindConfirmOverwrite:
		return t.savePersona(ctx, in.Name, true)
	case planner.KindCancel:
		t.s.PendingPersonaName = ""
		t.s.Phase = session.PhaseIdle
		t.say(msgPersonaCancelled)
	case planner.KindLoadPersona:
		return t.loadPersona(ctx, in.Name, in.Brief)
	case planner.KindListPersonas:
		return t.listPersonas(ctx)
	case planner.KindDeletePersona:
		return t.deletePersona(ctx, in.Name)
	case planner.KindReset:
		t.s.Reset()
		t.say(msgReset)
	case planner.KindHelp:
		t.say(msgHelp)
	default:
		t.say(unrecognizedFor(t.s))
	}
	return nil
}

func (t *turn) generateFromBrief(ctx context.Context, text string) error {
	params, err := t.interpret(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.log.Warn("brief interpretation failed", zap.Error(err))
		t.say(msgBriefNotUnderstood)
		return nil
	}
	ok, err := t.generateMusic(ctx, params)
	if err != nil || !ok {
		return err
	}
	t.s.Brief = text
	t.s.Refinements = nil
	t.s.RefinementRound = 0
	t.s.ActivePersona = ""
	t.presentCandidates()
	return nil
}

// interpret and refineParams bound the interpreter, which may call a remote model while
// the session lock is held.
func (t *turn) interpret(ctx context.Context, text string) (music.Params, error) {
	return reliability.CallWithBudget(ctx, t.o.cfg.BriefTimeout, func(ctx context.Context) (music.Params, error) {
		return t.o.deps.Interpreter.Interpret(ctx, policy.Redact(text))
	})
}

func (t *turn) refineParams(ctx context.Context, base music.Params, delta string) (music.Params, error) {
	return reliability.CallWithBudget(ctx, t.o.cfg.BriefTimeout, func(ctx context.Context) (music.Params, error) {
		return t.o.deps.Interpreter.Refine(ctx, base, policy.Redact(delta))
	})
}

// generateMusic requests a new variant pair and installs it as the candidates.
func (t *turn) generateMusic(ctx context.Context, params music.Params) (bool, error) {
	variants, ok, err := dispatch(ctx, t, session.OpMusic, t.o.cfg.MusicTimeout,
		func(ctx context.Context) ([]music.Variant, error) {
			vs, err := t.o.deps.Music.Generate(ctx, params)
			if err == nil && len(vs) < music.VariantsPerRequest {
				err = fmt.Errorf("%w: got %d variants", music.ErrGenerationFailed, len(vs))
			}
			return vs, err
		})
	if err != nil {
		return false, err
	}
	if !ok {
		t.say(msgMusicFailed)
		return false, nil
	}
	t.s.ReplaceCandidates(variants)
	t.s.Phase = session.PhaseAwaitingMusicSelection
	return true, nil
}

func (t *turn) presentCandidates() {
	c := t.s.Candidates
	title := c[0].Params.Title
	text := fmt.Sprintf(msgOptionsFmt, quoteOr(title, "your track"), len(c))
	if t.s.RefinementRound > 0 {
		text = fmt.Sprintf(msgRoundFmt, t.s.RefinementRound+1) + text
	}
	if t.s.ActivePersona != "" {
		text = fmt.Sprintf(msgPersonaUsedFmt, t.s.ActivePersona) + text
	}
	refs := make([]protocol.ArtifactRef, 0, len(c))
	for i, v := range c {
		refs = append(refs, protocol.ArtifactRef{
			Kind:      protocol.ArtifactMusic,
			Locator:   v.Locator,
			URL:       t.o.deps.Artifacts.URL(v.Locator),
			VariantID: v.ID,
			Label:     fmt.Sprintf("Option %d", i+1),
		})
	}
	t.emit(protocol.OutboundMusicOptions, text, refs)
}

func (t *turn) selectVariant(ctx context.Context, in planner.Intent) error {
	indices := in.Selection.Indices(len(t.s.Candidates))
	ids := make([]string, 0, len(indices))
	labels := make([]string, 0, len(indices))
	for _, i := range indices {
		ids = append(ids, t.s.Candidates[i].ID)
		labels = append(labels, fmt.Sprint(i+1))
	}
	if len(ids) == 0 {
		t.say(unrecognizedFor(t.s))
		return nil
	}
	if !sameIDs(t.s.Selected, ids) {
		t.s.Cover = nil
		t.s.Videos = nil
	}
	t.s.Selected = ids
	t.s.Phase = session.PhaseIdle

	if len(ids) == 1 {
		t.say(fmt.Sprintf(msgSelectedOneFmt, labels[0]))
	} else {
		t.say(fmt.Sprintf(msgSelectedManyFmt, strings.Join(labels, " and ")))
	}
	if in.AlsoCover {
		return t.generateCover(ctx, "")
	}
	t.say(msgNextAfterSelection)
	return nil
}

func (t *turn) refine(ctx context.Context, in planner.Intent) error {
	if len(t.s.Candidates) == 0 {
		return t.generateFromBrief(ctx, in.Delta)
	}
	base := t.s.Candidates[0].Params
	params := base
	if !in.Regenerate {
		refined, err := t.refineParams(ctx, base, in.Delta)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.Warn("refinement interpretation failed", zap.Error(err))
			t.say(msgBriefNotUnderstood)
			return nil
		}
		params = refined
	}
	ok, err := t.generateMusic(ctx, params)
	if err != nil || !ok {
		return err
	}
	if in.Delta != "" {
		t.s.Refinements = append(t.s.Refinements, in.Delta)
	}
	t.s.RefinementRound++
	t.presentCandidates()
	return nil
}

func (t *turn) generateCover(ctx context.Context, feedback string) error {
	primary, ok := t.s.Primary()
	if !ok {
		t.precondition(msgNeedSelectionForCover)
		return nil
	}
	description := strings.TrimSpace(strings.Join(nonEmpty(t.s.Brief, feedback), ". "))
	prompt := cover.StylePrompt(primary.Params.Style, primary.Params.Title, policy.Redact(description))

	img, ok, err := dispatch(ctx, t, session.OpCover, t.o.cfg.CoverTimeout,
		func(ctx context.Context) (cover.Image, error) {
			return t.o.deps.Covers.Generate(ctx, prompt)
		})
	if err != nil {
		return err
	}
	if !ok {
		t.say(msgCoverFailed)
		return nil
	}
	t.s.Cover = &session.Cover{Locator: img.Locator, Prompt: prompt}
	t.s.Videos = nil
	t.s.Phase = session.PhaseAwaitingCoverDecision
	t.emit(protocol.OutboundImage, msgCoverReady, []protocol.ArtifactRef{{
		Kind:    protocol.ArtifactImage,
		Locator: img.Locator,
		URL:     t.o.deps.Artifacts.URL(img.Locator),
	}})
	return nil
}

func (t *turn) generateVideo(ctx context.Context) error {
	selected := t.s.SelectedCandidates()
	switch {
	case len(selected) == 0:
		t.precondition(msgNeedSelectionForVideo)
		return nil
	case t.s.Cover == nil:
		t.precondition(msgNeedCoverForVideo)
		return nil
	}
	imageLocator := t.s.Cover.Locator

	videos, ok, err := dispatch(ctx, t, session.OpVideo, t.o.cfg.VideoTimeout,
		func(ctx context.Context) ([]session.Video, error) {
			out := make([]session.Video, len(selected))
			eg, egCtx := errgroup.WithContext(ctx)
			for i, v := range selected {
				eg.Go(func() error {
					locator, err := t.o.deps.Videos.Combine(egCtx, v.Locator, imageLocator)
					if err != nil {
						return err
					}
					out[i] = session.Video{VariantID: v.ID, Locator: locator}
					return nil
				})
			}
			return out, eg.Wait()
		})
	if err != nil {
		return err
	}
	if !ok {
		t.say(msgVideoFailed)
		return nil
	}
	// Asking for the video accepts the cover it is built from.
	t.s.Cover.Final = true
	t.s.Videos = videos
	t.s.Phase = session.PhaseAwaitingVideoDecision

	refs := make([]protocol.ArtifactRef, 0, len(videos))
	for _, v := range videos {
		refs = append(refs, protocol.ArtifactRef{
			Kind:      protocol.ArtifactVideo,
			Locator:   v.Locator,
			URL:       t.o.deps.Artifacts.URL(v.Locator),
			VariantID: v.VariantID,
		})
	}
	t.emit(protocol.OutboundVideo, msgVideoReady, refs)
	return nil
}

func (t *turn) approve() {
	switch t.s.Phase {
	case session.PhaseAwaitingCoverDecision:
		if t.s.Cover != nil {
			t.s.Cover.Final = true
		}
		t.s.Phase = session.PhaseIdle
		t.say(msgCoverApproved)
	case session.PhaseAwaitingVideoDecision:
		for i := range t.s.Videos {
			t.s.Videos[i].Final = true
		}
		t.s.Phase = session.PhaseIdle
		t.say(msgVideoApproved)
	default:
		t.say(unrecognizedFor(t.s))
	}
}

func (t *turn) savePersona(ctx context.Context, name string, overwrite bool) error {
	primary, ok := t.s.Primary()
	if !ok {
		t.precondition(msgNeedSelectionForPersona)
		return nil
	}
	if strings.TrimSpace(name) == "" {
		t.s.PendingPersonaName = ""
		t.s.Phase = session.PhaseAwaitingPersonaName
		t.say(msgAskPersonaName)
		return nil
	}

	p := persona.Persona{
		Name:            name,
		Description:     t.s.Brief,
		Params:          primary.Params,
		SourceVariantID: primary.ID,
	}
	saved, err := t.o.deps.Personas.Save(ctx, p, overwrite)
	switch {
	case errors.Is(err, persona.ErrAlreadyExists):
		t.s.PendingPersonaName = name
		t.s.Phase = session.PhaseAwaitingPersonaName
		t.say(fmt.Sprintf(msgPersonaExistsFmt, name))
		return nil
	case errors.Is(err, persona.ErrInvalidName):
		t.s.PendingPersonaName = ""
		t.s.Phase = session.PhaseAwaitingPersonaName
		t.say(msgPersonaInvalidName)
		return nil
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.log.Error("persona save failed", zap.Error(err))
		t.say(msgPersonaStoreFailed)
		return nil
	}

	t.registerBackendPersona(ctx, saved, primary)
	t.s.PendingPersonaName = ""
	t.s.Phase = session.PhaseIdle
	t.say(fmt.Sprintf(msgPersonaSavedFmt, saved.Name))
	return nil
}

// registerBackendPersona asks the music backend for a voice persona when it supports one.
// Failures only lose the backend voice; the saved parameters remain usable.
func (t *turn) registerBackendPersona(ctx context.Context, p persona.Persona, v music.Variant) {
	reg, ok := t.o.deps.Music.(music.PersonaRegistrar)
	if !ok || p.Params.BackendPersonaID != "" || v.TaskID == "" {
		return
	}
	id, err := reliability.CallWithBudget(ctx, registerTimeout, func(ctx context.Context) (string, error) {
		return reg.RegisterPersona(ctx, v, p.Name, p.Description)
	})
	if err != nil {
		t.log.Warn("backend persona registration failed", zap.Error(err))
		return
	}
	p.Params.BackendPersonaID = id
	if _, err := t.o.deps.Personas.Save(ctx, p, true); err != nil {
		t.log.Warn("persona backend id not stored", zap.Error(err))
	}
}

func (t *turn) loadPersona(ctx context.Context, name, extra string) error {
	p, err := t.o.deps.Personas.Load(ctx, name)
	switch {
	case errors.Is(err, persona.ErrNotFound):
		t.say(fmt.Sprintf(msgPersonaNotFoundFmt, name))
		return nil
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.log.Error("persona load failed", zap.Error(err))
		t.say(msgPersonaStoreFailed)
		return nil
	}

	params := p.Params
	if extra != "" {
		refined, err := t.refineParams(ctx, params, extra)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.Warn("persona brief interpretation failed", zap.Error(err))
		} else {
			params = refined
		}
	}
	ok, err := t.generateMusic(ctx, params)
	if err != nil || !ok {
		return err
	}
	t.s.Brief = strings.TrimSpace(strings.Join(nonEmpty(p.Description, extra), ". "))
	t.s.Refinements = nil
	t.s.RefinementRound = 0
	t.s.ActivePersona = p.Name
	t.presentCandidates()
	return nil
}

func (t *turn) listPersonas(ctx context.Context) error {
	list, err := t.o.deps.Personas.List(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.log.Error("persona list failed", zap.Error(err))
		t.say(msgPersonaStoreFailed)
		return nil
	}
	if len(list) == 0 {
		t.say(msgNoPersonas)
		return nil
	}
	var b strings.Builder
	b.WriteString(msgPersonaListHeader)
	for _, p := range list {
		b.WriteString("\n- " + p.Name)
		if p.Params.Style != "" {
			b.WriteString(" (" + p.Params.Style + ")")
		}
	}
	t.say(b.String())
	return nil
}

func (t *turn) deletePersona(ctx context.Context, name string) error {
	err := t.o.deps.Personas.Delete(ctx, name)
	switch {
	case errors.Is(err, persona.ErrNotFound):
		t.say(fmt.Sprintf(msgPersonaNotFoundFmt, name))
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.log.Error("persona delete failed", zap.Error(err))
		t.say(msgPersonaStoreFailed)
	default:
		t.say(fmt.Sprintf(msgPersonaDeletedFmt, name))
	}
	return nil
}

func (t *turn) precondition(text string) {
	t.log.Info("command rejected", zap.Error(fmt.Errorf("%w: %s", ErrPrecondition, t.intent)))
	t.say(text)
}

func (t *turn) say(text string) {
	t.emit(protocol.OutboundText, text, nil)
}

func (t *turn) emit(kind protocol.OutboundKind, text string, refs []protocol.ArtifactRef) {
	t.out = append(t.out, protocol.Outbound{Kind: kind, Text: text, Artifacts: refs})
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func nonEmpty(parts ...string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.TrimRight(p, "."))
		}
	}
	return out
}

func quoteOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return "\"" + s + "\""
}
