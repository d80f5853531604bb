package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/genai"
)

// GeminiOptions configures the Gemini provider.
type GeminiOptions struct {
	APIKey string
	// HTTPClient carries proxy settings. Nil uses the library default.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// GeminiProvider implements Backend on the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiProvider creates the API client. An empty key is rejected.
func NewGeminiProvider(ctx context.Context, opts GeminiOptions) (*GeminiProvider, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &GeminiProvider{
		client: client,
		logger: log.With(slog.String("provider", "gemini")),
	}, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (Response, error) {
	contents, err := toContents(req.Turns)
	if err != nil {
		return Response{}, err
	}
	res, err := p.client.Models.GenerateContent(ctx, req.Model, contents, generateConfig(req))
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate content: %w", err)
	}
	out := fromResponse(req.Model, res)
	if len(out.Parts) == 0 {
		p.logger.Warn("empty response", slog.String("model", req.Model), slog.String("finish_reason", out.FinishReason))
		return out, ErrEmptyResponse
	}
	return out, nil
}

func generateConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: req.Temperature,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.WantImage {
		cfg.ResponseModalities = append(cfg.ResponseModalities, "TEXT", "IMAGE")
	}
	return cfg
}

func toContents(turns []Turn) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		parts := make([]*genai.Part, 0, len(t.Parts))
		for _, p := range t.Parts {
			if p.Image != nil {
				data, err := p.Image.Bytes()
				if err != nil {
					return nil, fmt.Errorf("decode inline image: %w", err)
				}
				parts = append(parts, genai.NewPartFromBytes(data, p.Image.MimeType))
				continue
			}
			if p.Text != "" {
				parts = append(parts, genai.NewPartFromText(p.Text))
			}
		}
		if len(parts) == 0 {
			continue
		}
		var role genai.Role = genai.RoleUser
		if t.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, nil
}

func fromResponse(model string, res *genai.GenerateContentResponse) Response {
	out := Response{Model: model}
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0] == nil {
		return out
	}
	cand := res.Candidates[0]
	out.FinishReason = string(cand.FinishReason)
	if cand.Content == nil {
		return out
	}
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		switch {
		case part.InlineData != nil && len(part.InlineData.Data) > 0:
			out.Parts = append(out.Parts, Part{Image: NewImage(part.InlineData.MIMEType, part.InlineData.Data)})
		case part.Text != "":
			out.Parts = append(out.Parts, Part{Text: part.Text})
		}
	}
	return out
}
