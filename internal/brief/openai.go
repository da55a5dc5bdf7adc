package brief

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ent0n29/tunesmith/internal/music"
)

const defaultOpenAIModel = "gpt-4o"

const interpretSystemPrompt = `You turn music requests into parameters for a song generator.
Reply with a single JSON object and nothing else:
{"title": string, "style": string, "prompt": string, "instrumental": boolean, "vocal_gender": "m"|"f"|""}
- title: short song title, at most 80 characters.
- style: comma separated genres and moods, e.g. "EDM, energetic".
- prompt: a detailed description of the song to generate, in English.
- instrumental: true when the user asks for no vocals.`

const refineSystemPrompt = `You revise song generator parameters according to user feedback.
You get the current parameters as JSON and the feedback. Describe the desired song, not the change.
Reply with a single JSON object using the same fields:
{"title": string, "style": string, "prompt": string, "instrumental": boolean, "vocal_gender": "m"|"f"|""}`

// chatCompleter is the subset of the openai-go client used here.
type chatCompleter interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIInterpreter asks a chat model to produce parameters as JSON.
type OpenAIInterpreter struct {
	chat  chatCompleter
	model string
}

func NewOpenAIInterpreter(apiKey, model string) *OpenAIInterpreter {
	client := openai.NewClient(option.WithAPIKey(strings.TrimSpace(apiKey)))
	return newOpenAIInterpreter(&client.Chat.Completions, model)
}

func newOpenAIInterpreter(chat chatCompleter, model string) *OpenAIInterpreter {
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIInterpreter{chat: chat, model: model}
}

type paramsReply struct {
	Title        string `json:"title"`
	Style        string `json:"style"`
	Prompt       string `json:"prompt"`
	Instrumental bool   `json:"instrumental"`
	VocalGender  string `json:"vocal_gender"`
}

func (o *OpenAIInterpreter) Interpret(ctx context.Context, brief string) (music.Params, error) {
	brief = normalizeSpace(brief)
	if brief == "" {
		return music.Params{}, ErrEmptyBrief
	}
	reply, err := o.complete(ctx, interpretSystemPrompt, brief)
	if err != nil {
		return music.Params{}, err
	}
	return reply.apply(music.Params{}).WithDefaults(), nil
}

func (o *OpenAIInterpreter) Refine(ctx context.Context, base music.Params, delta string) (music.Params, error) {
	delta = normalizeSpace(delta)
	if delta == "" {
		return base.WithDefaults(), nil
	}
	current, err := json.Marshal(paramsReply{
		Title:        base.Title,
		Style:        base.Style,
		Prompt:       base.Prompt,
		Instrumental: base.Instrumental,
		VocalGender:  base.VocalGender,
	})
	if err != nil {
		return music.Params{}, fmt.Errorf("encode current params: %w", err)
	}
	user := fmt.Sprintf("Current parameters: %s\nFeedback: %s", current, delta)
	reply, err := o.complete(ctx, refineSystemPrompt, user)
	if err != nil {
		return music.Params{}, err
	}
	return reply.apply(base).WithDefaults(), nil
}

func (o *OpenAIInterpreter) complete(ctx context.Context, system, user string) (paramsReply, error) {
	res, err := o.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return paramsReply{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if res == nil || len(res.Choices) == 0 {
		return paramsReply{}, errors.New("openai chat completion returned no choices")
	}
	return parseParamsReply(res.Choices[0].Message.Content)
}

func parseParamsReply(content string) (paramsReply, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return paramsReply{}, fmt.Errorf("model reply has no JSON object: %q", truncate(content, 120))
	}
	var reply paramsReply
	if err := json.Unmarshal([]byte(content[start:end+1]), &reply); err != nil {
		return paramsReply{}, fmt.Errorf("decode model reply: %w", err)
	}
	if strings.TrimSpace(reply.Prompt) == "" {
		return paramsReply{}, errors.New("model reply has an empty prompt")
	}
	return reply, nil
}

// apply overlays the reply onto base, keeping base weights and backend fields.
func (r paramsReply) apply(base music.Params) music.Params {
	p := base
	if t := strings.TrimSpace(r.Title); t != "" {
		p.Title = truncate(t, maxTitleLength)
	}
	if s := strings.TrimSpace(r.Style); s != "" {
		p.Style = s
	}
	p.Prompt = truncate(strings.TrimSpace(r.Prompt), maxPromptLength)
	p.Instrumental = r.Instrumental
	switch g := strings.ToLower(strings.TrimSpace(r.VocalGender)); g {
	case "m", "f":
		p.VocalGender = g
	default:
		p.VocalGender = ""
	}
	if p.Instrumental {
		p.VocalGender = ""
	}
	if p.Style == "" {
		p.Style = defaultStyle
	}
	if p.Title == "" {
		p.Title = truncate(p.Style, maxTitleLength)
	}
	return p
}
