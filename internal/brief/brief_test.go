package brief

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/tunesmith/internal/music"
)

func TestRuleInterpreterExtractsCues(t *testing.T) {
	r := NewRuleInterpreter()
	p, err := r.Interpret(context.Background(), "  energetic EDM   with female vocals ")
	require.NoError(t, err)
	assert.Equal(t, "Energetic EDM", p.Title)
	assert.Equal(t, "EDM, energetic", p.Style)
	assert.Equal(t, "energetic EDM with female vocals", p.Prompt)
	assert.False(t, p.Instrumental)
	assert.Equal(t, "f", p.VocalGender)
	assert.Equal(t, 0.65, p.StyleWeight)
}

func TestRuleInterpreterInstrumentalAndDefaultStyle(t *testing.T) {
	r := NewRuleInterpreter()
	p, err := r.Interpret(context.Background(), "something for my morning, instrumental please")
	require.NoError(t, err)
	assert.True(t, p.Instrumental)
	assert.Empty(t, p.VocalGender)
	assert.Equal(t, defaultStyle, p.Style)
}

func TestRuleInterpreterRejectsEmptyBrief(t *testing.T) {
	_, err := NewRuleInterpreter().Interpret(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyBrief)
}

func TestRuleInterpreterRefine(t *testing.T) {
	r := NewRuleInterpreter()
	base, err := r.Interpret(context.Background(), "chill lofi beat")
	require.NoError(t, err)

	p, err := r.Refine(context.Background(), base, "make it more upbeat with male vocals")
	require.NoError(t, err)
	assert.Equal(t, base.Title, p.Title)
	assert.Equal(t, "Lo-fi, calm, upbeat", p.Style)
	assert.Equal(t, "chill lofi beat. make it more upbeat with male vocals", p.Prompt)
	assert.Equal(t, "m", p.VocalGender)

	same, err := r.Refine(context.Background(), base, "  ")
	require.NoError(t, err)
	assert.Equal(t, base, same)
}

func TestHasStyleCues(t *testing.T) {
	assert.True(t, HasStyleCues("a sad piano song"))
	assert.True(t, HasStyleCues("instrumental"))
	assert.False(t, HasStyleCues("make me a song"))
	assert.False(t, HasStyleCues("romanticism"))
}

type fakeChat struct {
	content string
	err     error
	last    openai.ChatCompletionNewParams
}

func (f *fakeChat) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.last = body
	if f.err != nil {
		return nil, f.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}},
	}, nil
}

func TestOpenAIInterpreterParsesJSONReply(t *testing.T) {
	chat := &fakeChat{content: "Sure!\n```json\n{\"title\":\"Night Drive\",\"style\":\"Synthwave, dreamy\",\"prompt\":\"retro synths at night\",\"instrumental\":true,\"vocal_gender\":\"f\"}\n```"}
	o := newOpenAIInterpreter(chat, "")

	p, err := o.Interpret(context.Background(), "night drive synthwave, no vocals")
	require.NoError(t, err)
	assert.Equal(t, "Night Drive", p.Title)
	assert.Equal(t, "Synthwave, dreamy", p.Style)
	assert.True(t, p.Instrumental)
	assert.Empty(t, p.VocalGender)
	assert.Equal(t, openai.ChatModel(defaultOpenAIModel), chat.last.Model)
	assert.Len(t, chat.last.Messages, 2)
}

func TestOpenAIInterpreterRefineKeepsBackendFields(t *testing.T) {
	chat := &fakeChat{content: `{"title":"","style":"House","prompt":"faster house groove","instrumental":false,"vocal_gender":"m"}`}
	o := newOpenAIInterpreter(chat, "gpt-test")
	base := music.Params{Title: "Groove", Style: "EDM", Prompt: "groove", StyleWeight: 0.4, BackendPersonaID: "p1"}

	p, err := o.Refine(context.Background(), base, "faster")
	require.NoError(t, err)
	assert.Equal(t, "Groove", p.Title)
	assert.Equal(t, "House", p.Style)
	assert.Equal(t, 0.4, p.StyleWeight)
	assert.Equal(t, "p1", p.BackendPersonaID)
	assert.Equal(t, "m", p.VocalGender)
}

func TestOpenAIInterpreterRejectsMalformedReply(t *testing.T) {
	o := newOpenAIInterpreter(&fakeChat{content: "I cannot help with that"}, "")
	_, err := o.Interpret(context.Background(), "rock")
	require.Error(t, err)

	o = newOpenAIInterpreter(&fakeChat{content: `{"title":"x","prompt":"  "}`}, "")
	_, err = o.Interpret(context.Background(), "rock")
	require.Error(t, err)
}

func TestFallbackInterpreterUsesRulesOnFailure(t *testing.T) {
	primary := newOpenAIInterpreter(&fakeChat{err: errors.New("upstream 500")}, "")
	f := NewFallbackInterpreter(primary, NewRuleInterpreter(), nil)

	p, err := f.Interpret(context.Background(), "jazz")
	require.NoError(t, err)
	assert.Equal(t, "Jazz", p.Style)
}

func TestFallbackInterpreterPropagatesCancellation(t *testing.T) {
	primary := newOpenAIInterpreter(&fakeChat{err: context.Canceled}, "")
	f := NewFallbackInterpreter(primary, NewRuleInterpreter(), nil)

	_, err := f.Interpret(context.Background(), "jazz")
	require.ErrorIs(t, err, context.Canceled)
}

type stalledInterpreter struct{}

func (stalledInterpreter) Interpret(ctx context.Context, _ string) (music.Params, error) {
	<-ctx.Done()
	return music.Params{}, ctx.Err()
}

func (stalledInterpreter) Refine(ctx context.Context, _ music.Params, _ string) (music.Params, error) {
	<-ctx.Done()
	return music.Params{}, ctx.Err()
}

func TestFallbackInterpreterFallsBackOnSlowPrimary(t *testing.T) {
	f := NewFallbackInterpreter(stalledInterpreter{}, NewRuleInterpreter(), nil)
	f.timeout = 20 * time.Millisecond

	start := time.Now()
	p, err := f.Interpret(context.Background(), "jazz")
	require.NoError(t, err)
	assert.Equal(t, "Jazz", p.Style)
	assert.Less(t, time.Since(start), 5*time.Second)

	base := p
	p, err = f.Refine(context.Background(), base, "instrumental")
	require.NoError(t, err)
	assert.True(t, p.Instrumental)
}

func TestNewInterpreterAppliesTimeout(t *testing.T) {
	i, err := NewInterpreter(Config{Provider: "openai", APIKey: "k", Timeout: 3 * time.Second}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, i.(*FallbackInterpreter).timeout)
}

func TestNewInterpreterSelectsProvider(t *testing.T) {
	i, err := NewInterpreter(Config{Provider: "auto"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &RuleInterpreter{}, i)

	i, err = NewInterpreter(Config{Provider: "auto", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FallbackInterpreter{}, i)

	_, err = NewInterpreter(Config{Provider: "openai"}, nil)
	require.Error(t, err)
	_, err = NewInterpreter(Config{Provider: "claude"}, nil)
	require.Error(t, err)
}
