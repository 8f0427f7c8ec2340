package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAI implements Provider over the OpenAI API.
type OpenAI struct {
	client         openai.Client
	chatModel      string
	visionModel    string
	sttModel       string
	embeddingModel string
}

// OpenAIConfig carries resolved credentials and model names.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	VisionModel    string
	STTModel       string
	EmbeddingModel string
}

// NewOpenAI builds a provider from resolved credentials.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrUnavailable
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		client:         openai.NewClient(opts...),
		chatModel:      cfg.ChatModel,
		visionModel:    cfg.VisionModel,
		sttModel:       cfg.STTModel,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

func (o *OpenAI) Name() string      { return "openai" }
func (o *OpenAI) ChatModel() string { return o.chatModel }

// Chat performs one chat completion.
func (o *OpenAI) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.chatModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: encodeMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.JSONMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &ChatResponse{}, nil
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func encodeMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case RoleTool:
			tool := &openai.ChatCompletionToolMessageParam{ToolCallID: m.ToolCallID}
			tool.Content.OfString = openai.String(m.Content)
			out = append(out, openai.ChatCompletionMessageParamUnion{OfTool: tool})
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func encodeTools(defs []ToolDefinition) ([]openai.ChatCompletionToolParam, error) {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		var params map[string]any
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &params); err != nil {
				return nil, fmt.Errorf("tool %s parameters: %w", def.Name, err)
			}
		}
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  shared.FunctionParameters(params),
			},
		})
	}
	return out, nil
}

// Transcribe converts audio bytes to text.
func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	resp, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(o.sttModel),
		File:  openai.File(bytes.NewReader(audio), fileNameFor(mimeType), mimeType),
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return resp.Text, nil
}

func fileNameFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/wav", "audio/x-wav":
		return "audio.wav"
	case "audio/mp4", "audio/m4a":
		return "audio.m4a"
	default:
		return "audio.ogg"
	}
}

// DescribeImage returns a short textual description of the image.
func (o *OpenAI) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.visionModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("Descreva a imagem enviada pelo cliente de forma breve e objetiva, em português."),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("O cliente enviou esta imagem:"),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai vision: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns one embedding per input.
func (o *OpenAI) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	return out, nil
}
