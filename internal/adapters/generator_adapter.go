// Package adapters connects the planner to genkit.
package adapters

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
	"github.com/ZanzyTHEbar/stepwise/internal/textscan"
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// CompleteFunc sends one prompt to a model and returns the response text.
// When shape is non-nil the model is asked for JSON matching it.
type CompleteFunc func(ctx context.Context, prompt string, shape interface{}) (string, error)

// GenkitGenerator implements stepwise.Generator on top of genkit.Generate.
// Responses are cached by prompt when a cache is configured.
type GenkitGenerator struct {
	g        *genkit.Genkit
	model    string
	cache    stepwise.Cache
	logger   logging.Logger
	timeout  time.Duration
	complete CompleteFunc
}

var _ stepwise.Generator = (*GenkitGenerator)(nil)

// GeneratorOption configures a GenkitGenerator.
type GeneratorOption func(*GenkitGenerator)

// WithModel overrides the genkit default model, e.g. "googleai/gemini-2.0-flash".
func WithModel(name string) GeneratorOption {
	return func(a *GenkitGenerator) { a.model = name }
}

// WithResponseCache caches response text by prompt.
func WithResponseCache(c stepwise.Cache) GeneratorOption {
	return func(a *GenkitGenerator) { a.cache = c }
}

func WithLogger(l logging.Logger) GeneratorOption {
	return func(a *GenkitGenerator) { a.logger = l }
}

// WithTimeout bounds each model call.
func WithTimeout(d time.Duration) GeneratorOption {
	return func(a *GenkitGenerator) { a.timeout = d }
}

// WithCompleter replaces the genkit call.
func WithCompleter(fn CompleteFunc) GeneratorOption {
	return func(a *GenkitGenerator) { a.complete = fn }
}

// NewGenkitGenerator creates a generator backed by g. g may be nil only when
// WithCompleter is given.
func NewGenkitGenerator(g *genkit.Genkit, opts ...GeneratorOption) (*GenkitGenerator, error) {
	a := &GenkitGenerator{g: g}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.OrNop(a.logger)
	if a.complete == nil {
		if g == nil {
			return nil, stepwise.NewConfigurationError("genkit instance is required", nil)
		}
		a.complete = a.generate
	}
	return a, nil
}

func (a *GenkitGenerator) generate(ctx context.Context, prompt string, shape interface{}) (string, error) {
	opts := []ai.GenerateOption{ai.WithPrompt(prompt)}
	if a.model != "" {
		opts = append(opts, ai.WithModelName(a.model))
	}
	if shape != nil {
		opts = append(opts, ai.WithOutputType(shape))
	}
	resp, err := genkit.Generate(ctx, a.g, opts...)
	if err != nil {
		return "", fmt.Errorf("genkit generate failed: %w", err)
	}
	return resp.Text(), nil
}

// GenerateText implements stepwise.Generator.
func (a *GenkitGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	return a.cached(ctx, "text", prompt, nil)
}

// GenerateStructured implements stepwise.Generator. A fenced response is
// accepted; anything else around the JSON is an error.
func (a *GenkitGenerator) GenerateStructured(ctx context.Context, prompt string, out interface{}) error {
	text, err := a.cached(ctx, "json", prompt, out)
	if err != nil {
		return err
	}
	body := strings.TrimSpace(textscan.StripFence(text))
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("structured response is not valid JSON: %w", err)
	}
	return nil
}

func (a *GenkitGenerator) cached(ctx context.Context, mode, prompt string, shape interface{}) (string, error) {
	key := a.cacheKey(mode, prompt)
	if a.cache != nil {
		if v, err := a.cache.Get(ctx, key); err == nil {
			if text, ok := v.(string); ok {
				a.logger.Debug("generator cache hit", logging.Fields{"key": key})
				return text, nil
			}
		}
	}

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	text, err := a.complete(callCtx, prompt, shape)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("model returned an empty response")
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, text); err != nil {
			a.logger.Debug("generator cache set failed", logging.Fields{"error": err.Error()})
		}
	}
	return text, nil
}

// cacheKey hashes the model, mode and prompt.
func (a *GenkitGenerator) cacheKey(mode, prompt string) string {
	hasher := sha1.New()
	hasher.Write([]byte(a.model))
	hasher.Write([]byte{0})
	hasher.Write([]byte(mode))
	hasher.Write([]byte{0})
	hasher.Write([]byte(prompt))
	return "generator:" + hex.EncodeToString(hasher.Sum(nil))
}
