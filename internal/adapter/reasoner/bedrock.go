package reasoner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"guidebot/internal/domain"
	"guidebot/internal/infra/config"
	"guidebot/internal/infra/tracer"
)

// bedrockConverseAPI abstracts the Bedrock runtime methods for testability.
type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockReasoner implements domain.Reasoner via the AWS Bedrock Converse API.
type BedrockReasoner struct {
	model     string
	maxTokens int
	client    bedrockConverseAPI
	logger    *slog.Logger
}

// NewBedrockReasoner creates a reasoner using the default AWS credential chain.
func NewBedrockReasoner(cfg config.ReasonerConfig, logger *slog.Logger) (*BedrockReasoner, error) {
	region := cfg.Region
	if region == "" {
		region = "eu-west-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &BedrockReasoner{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    bedrockruntime.NewFromConfig(awsCfg),
		logger:    logger,
	}, nil
}

// newBedrockReasonerWithClient creates a BedrockReasoner with an injected client (for testing).
func newBedrockReasonerWithClient(model string, maxTokens int, client bedrockConverseAPI, logger *slog.Logger) *BedrockReasoner {
	return &BedrockReasoner{
		model:     model,
		maxTokens: maxTokens,
		client:    client,
		logger:    logger,
	}
}

// Generate implements domain.Reasoner.
func (r *BedrockReasoner) Generate(ctx context.Context, prompt, system string, maxTokens int) (string, error) {
	content := []types.ContentBlock{
		&types.ContentBlockMemberText{Value: prompt},
	}
	return r.converse(ctx, content, system, maxTokens)
}

// GenerateWithImage implements domain.Reasoner.
func (r *BedrockReasoner) GenerateWithImage(ctx context.Context, prompt string, image []byte, system string, maxTokens int) (string, error) {
	content := []types.ContentBlock{
		&types.ContentBlockMemberImage{
			Value: types.ImageBlock{
				Format: detectImageFormat(image),
				Source: &types.ImageSourceMemberBytes{Value: image},
			},
		},
		&types.ContentBlockMemberText{Value: prompt},
	}
	return r.converse(ctx, content, system, maxTokens)
}

func (r *BedrockReasoner) converse(ctx context.Context, content []types.ContentBlock, system string, maxTokens int) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "reasoner.generate",
		tracer.StringAttr("reasoner.model", r.model))
	defer span.End()

	if maxTokens <= 0 {
		maxTokens = r.maxTokens
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(r.model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: content,
		}},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		},
	}
	if system != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}

	output, err := r.client.Converse(ctx, input)
	if err != nil {
		tracer.RecordError(span, err)
		return "", mapBedrockError(err)
	}

	text := extractText(output)
	if output.Usage != nil {
		span.SetAttributes(
			tracer.IntAttr("reasoner.input_tokens", int(aws.ToInt32(output.Usage.InputTokens))),
			tracer.IntAttr("reasoner.output_tokens", int(aws.ToInt32(output.Usage.OutputTokens))),
		)
	}
	tracer.SetOK(span)
	r.logger.Debug("reasoner call completed", "model", r.model, "response_len", len(text))

	return text, nil
}

func extractText(output *bedrockruntime.ConverseOutput) string {
	outMsg, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, block := range outMsg.Value.Content {
		if b, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(b.Value)
		}
	}
	return sb.String()
}

// detectImageFormat inspects magic bytes; Bedrock requires an explicit format.
func detectImageFormat(image []byte) types.ImageFormat {
	switch {
	case bytes.HasPrefix(image, []byte("\x89PNG")):
		return types.ImageFormatPng
	case bytes.HasPrefix(image, []byte("GIF8")):
		return types.ImageFormatGif
	case bytes.HasPrefix(image, []byte("RIFF")):
		return types.ImageFormatWebp
	default:
		return types.ImageFormatJpeg
	}
}

// mapBedrockError converts smithy API errors to domain sentinels.
func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "ThrottlingException" || code == "TooManyRequestsException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case code == "ValidationException" && strings.Contains(msg, "too long"):
			return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
		case code == "ModelNotReadyException" || code == "ServiceUnavailableException" ||
			code == "InternalServerException":
			return fmt.Errorf("%w: %s", domain.ErrProviderError, msg)
		}
	}

	return domain.WrapOp("bedrock", err)
}
