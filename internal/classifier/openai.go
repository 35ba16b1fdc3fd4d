package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/fpt/nexus-guard/internal/store"
)

const defaultOpenAIModel = "gpt-4o-mini"

const scamPrompt = `You are a fraud and scam detector for chat messages and emails.
Classify the user's message. Reply with a single JSON object and nothing else:
{"prediction": 1, "confidence": 0.0-1.0} when it is a scam, phishing or social engineering attempt,
{"prediction": 0, "confidence": 0.0-1.0} otherwise.`

// completer is the single chat call the text classifier needs.
type completer interface {
	complete(ctx context.Context, system, user string) (string, error)
}

// OpenAITextClassifier asks a chat model for the same {prediction, confidence}
// shape the HTTP text endpoint returns. It only handles text and email.
type OpenAITextClassifier struct {
	chat  completer
	model string
}

// NewOpenAITextClassifier creates the classifier. baseURL may be empty.
func NewOpenAITextClassifier(apiKey, baseURL, model string) (*OpenAITextClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not set")
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAITextClassifier{
		chat:  &openaiCompleter{client: &client, model: model},
		model: model,
	}, nil
}

func (c *OpenAITextClassifier) Classify(ctx context.Context, msg store.Message) (Result, error) {
	endpoint := "openai:" + c.model
	if msg.Kind.IsMedia() {
		return Result{}, &Error{Kind: ErrUnsupported, Endpoint: endpoint, Err: fmt.Errorf("kind %s", msg.Kind)}
	}

	reply, err := c.chat.complete(ctx, scamPrompt, msg.Content)
	if err != nil {
		return Result{}, &Error{Kind: ErrTransport, Endpoint: endpoint, Err: err}
	}

	start, end := strings.Index(reply, "{"), strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Result{}, &Error{Kind: ErrDecode, Endpoint: endpoint, Err: fmt.Errorf("no JSON object in reply")}
	}
	var wire response
	if err := json.Unmarshal([]byte(reply[start:end+1]), &wire); err != nil {
		return Result{}, &Error{Kind: ErrDecode, Endpoint: endpoint, Err: err}
	}
	if !wire.Prediction.Set {
		return Result{}, &Error{Kind: ErrDecode, Endpoint: endpoint, Err: fmt.Errorf("reply has no prediction")}
	}
	return wire.normalize(false), nil
}

type openaiCompleter struct {
	client *openai.Client
	model  string
}

func (o *openaiCompleter) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
