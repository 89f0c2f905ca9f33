package detection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"

	"github.com/angelmondragon/skewerpos-backend/internal/imageprep"
)

const visionInstructions = `You count grilled skewers in a photo of a restaurant tray.
Group skewers by the color of the stick tip and report one entry per color.
Use plain lowercase English color names (red, green, blue, yellow, orange, purple, pink, black, white).
Only report colors you can see; do not guess hidden skewers.`

// visionCounts is the structured output the model must return.
type visionCounts struct {
	Items []visionCount `json:"items" jsonschema:"description=One entry per stick color"`
}

type visionCount struct {
	Color string `json:"color" jsonschema:"description=Lowercase English color of the stick tip"`
	Count int    `json:"count" jsonschema:"description=Number of skewers with this color"`
}

// OpenAIProvider counts skewers with a vision model through the Responses API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	schema map[string]any
}

// NewOpenAIProvider builds a provider for apiKey. Extra options are applied
// after the defaults; retries are disabled so every attempt is user initiated.
func NewOpenAIProvider(apiKey, model string, opts ...option.RequestOption) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai api key required")
	}
	if strings.TrimSpace(model) == "" {
		model = shared.ChatModelGPT4o
	}
	schema, err := countsSchema()
	if err != nil {
		return nil, err
	}
	all := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	client := openai.NewClient(all...)
	return &OpenAIProvider{client: &client, model: model, schema: schema}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Detect(ctx context.Context, image imageprep.File) (*Result, error) {
	ct := image.ContentType
	if ct == "" {
		ct = "image/jpeg"
	}
	dataURL := "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(image.Data)

	content := responses.ResponseInputMessageContentListParam{
		{OfInputText: &responses.ResponseInputTextParam{Text: "Count the skewers per stick color."}},
		{OfInputImage: &responses.ResponseInputImageParam{
			Detail:   responses.ResponseInputImageDetailHigh,
			ImageURL: param.NewOpt(dataURL),
		}},
	}

	params := responses.ResponseNewParams{
		Model:        shared.ResponsesModel(p.model),
		Instructions: param.NewOpt(visionInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(content, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:   constant.JSONSchema("json_schema"),
					Name:   "skewer_counts",
					Strict: param.NewOpt(true),
					Schema: p.schema,
				},
			},
		},
	}

	resp, err := p.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses error: %w", err)
	}
	text := resp.OutputText()
	if text == "" {
		return nil, errors.New("empty response content")
	}

	var parsed visionCounts
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse counts: %w", err)
	}

	counts := make(map[string]int, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Count < 0 {
			return nil, fmt.Errorf("negative count for %q", item.Color)
		}
		counts[strings.ToLower(strings.TrimSpace(item.Color))] += item.Count
	}
	return &Result{Counts: counts}, nil
}

func countsSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	raw, err := json.Marshal(reflector.Reflect(visionCounts{}))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}
	return schema, nil
}
