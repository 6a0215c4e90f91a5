package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Wire selects the HTTP protocol a provider speaks
type Wire int

const (
	WireOpenAI Wire = iota
	WireAnthropic
)

// Spec describes one model provider
type Spec struct {
	Name           string
	DisplayName    string
	Keywords       []string
	EnvKey         string
	Wire           Wire
	IsGateway      bool // routes to many vendors; model ids look like gateway/vendor/model
	DefaultAPIBase string
}

// Specs is the ordered provider table. Gateways come first so their
// prefixes win over vendor keywords during lookup.
var Specs = []Spec{
	{
		Name:           "openrouter",
		DisplayName:    "OpenRouter",
		Keywords:       []string{"openrouter"},
		EnvKey:         "OPENROUTER_API_KEY",
		Wire:           WireOpenAI,
		IsGateway:      true,
		DefaultAPIBase: "https://openrouter.ai/api/v1",
	},
	{
		Name:           "opencode",
		DisplayName:    "OpenCode Zen",
		Keywords:       []string{"opencode", "zen"},
		EnvKey:         "OPENCODE_API_KEY",
		Wire:           WireOpenAI,
		DefaultAPIBase: "https://opencode.ai/zen/v1",
	},
	{
		Name:           "anthropic",
		DisplayName:    "Anthropic",
		Keywords:       []string{"anthropic", "claude"},
		EnvKey:         "ANTHROPIC_API_KEY",
		Wire:           WireAnthropic,
		DefaultAPIBase: "https://api.anthropic.com",
	},
	{
		Name:           "openai",
		DisplayName:    "OpenAI",
		Keywords:       []string{"openai", "gpt"},
		EnvKey:         "OPENAI_API_KEY",
		Wire:           WireOpenAI,
		DefaultAPIBase: "https://api.openai.com/v1",
	},
	{
		Name:           "deepseek",
		DisplayName:    "DeepSeek",
		Keywords:       []string{"deepseek"},
		EnvKey:         "DEEPSEEK_API_KEY",
		Wire:           WireOpenAI,
		DefaultAPIBase: "https://api.deepseek.com/v1",
	},
	{
		Name:           "gemini",
		DisplayName:    "Gemini",
		Keywords:       []string{"gemini"},
		EnvKey:         "GEMINI_API_KEY",
		Wire:           WireOpenAI,
		DefaultAPIBase: "https://generativelanguage.googleapis.com/v1beta/openai",
	},
}

var modelAliases = map[string]string{
	// Anthropic
	"haiku":                    "anthropic/claude-haiku-4-20250514",
	"sonnet":                   "anthropic/claude-sonnet-4-20250514",
	"opus":                     "anthropic/claude-opus-4-20250514",
	"claude-haiku-4":           "anthropic/claude-haiku-4-20250514",
	"claude-sonnet-4":          "anthropic/claude-sonnet-4-20250514",
	"claude-sonnet-4-20250514": "anthropic/claude-sonnet-4-20250514",
	// OpenAI
	"gpt-4o-mini":  "openai/gpt-4o-mini",
	"gpt-4.1-mini": "openai/gpt-4.1-mini",
	"o4-mini":      "openai/o4-mini",
	// Gemini
	"gemini-flash": "gemini/gemini-2.5-flash",
	"gemini-pro":   "gemini/gemini-2.5-pro",
	// DeepSeek
	"deepseek-chat":     "deepseek/deepseek-chat",
	"deepseek-reasoner": "deepseek/deepseek-reasoner",
	// OpenCode Zen
	"qwen3-coder": "opencode/qwen3-coder",
}

// NormalizeModel resolves aliases and bare vendor model names to provider/model form
func NormalizeModel(model string) string {
	name := strings.TrimSpace(model)
	if name == "" {
		return name
	}

	lower := strings.ToLower(name)
	if alias, ok := modelAliases[lower]; ok {
		return alias
	}
	if strings.Contains(name, "/") {
		return name
	}

	switch {
	case strings.HasPrefix(lower, "claude-"):
		return "anthropic/" + name
	case strings.HasPrefix(lower, "gpt-"), strings.HasPrefix(lower, "o1"),
		strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		return "openai/" + name
	case strings.HasPrefix(lower, "gemini-"):
		return "gemini/" + name
	case strings.HasPrefix(lower, "deepseek-"):
		return "deepseek/" + name
	case strings.HasPrefix(lower, "opencode-"):
		return "opencode/" + name
	}
	return name
}

// FindByName returns the spec with the given name
func FindByName(name string) (Spec, bool) {
	for _, s := range Specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// FindByModel matches a model string against vendor keywords. Gateways are
// skipped because any vendor's model may appear behind them.
func FindByModel(model string) (Spec, bool) {
	lower := strings.ToLower(NormalizeModel(model))
	for _, s := range Specs {
		if s.IsGateway {
			continue
		}
		for _, kw := range s.Keywords {
			if strings.Contains(lower, kw) {
				return s, true
			}
		}
	}
	return Spec{}, false
}

// Resolve picks the provider for a model and returns the id to send on the wire.
// An explicit provider prefix wins; otherwise vendor keywords decide.
func Resolve(model string) (Spec, string, bool) {
	normalized := NormalizeModel(model)
	if prefix, rest, ok := strings.Cut(normalized, "/"); ok {
		if spec, found := FindByName(strings.ToLower(prefix)); found {
			return spec, rest, true
		}
	}
	spec, ok := FindByModel(normalized)
	return spec, normalized, ok
}

// ValidateModelID checks that a model id is provider/model with a known provider
func ValidateModelID(model string) error {
	normalized := NormalizeModel(model)
	prefix, rest, ok := strings.Cut(normalized, "/")
	if !ok {
		return errors.New("Expected model format 'provider/model-name'.")
	}

	if _, found := FindByName(prefix); !found {
		return fmt.Errorf("Unknown provider '%s'.", prefix)
	}

	if strings.TrimSpace(rest) == "" {
		return errors.New("Expected model format 'provider/model-name'.")
	}

	if prefix == "openrouter" && !strings.Contains(rest, "/") {
		return errors.New("OpenRouter model format should be 'openrouter/<vendor>/<model>'.")
	}
	return nil
}
