package provider

import "strings"

// modelsWithoutTools lists model ids (or id prefixes, after the provider
// prefix is stripped) that reject function-calling requests.
var modelsWithoutTools = []string{
	"o1-mini",
	"o1-preview",
	"deepseek-reasoner",
	"gpt-3.5-turbo-instruct",
	"text-davinci",
	"gemini-1.0-pro-vision",
	"gemini-pro-vision",
}

// SupportsTools reports whether a model accepts tool definitions. Unknown
// models are assumed to support them.
func SupportsTools(model string) bool {
	_, wire, _ := Resolve(model)
	name := strings.ToLower(wire)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, m := range modelsWithoutTools {
		if strings.HasPrefix(name, m) {
			return false
		}
	}
	return true
}

// HasPrefix reports whether model starts with any of the given prefixes
func HasPrefix(model string, prefixes []string) bool {
	lower := strings.ToLower(strings.TrimSpace(model))
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
