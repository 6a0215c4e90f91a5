package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/zivhm/yacb/internal/store"
	"github.com/zivhm/yacb/pkg/types"
)

// MemoryStore holds categorized long-term facts
type MemoryStore interface {
	Remember(ctx context.Context, content, category, source string) (int64, error)
	Recall(ctx context.Context, query string, limit int) ([]store.MemoryItem, error)
	Categories(ctx context.Context) ([]store.MemoryCategory, error)
	Forget(ctx context.Context, id int64) (bool, error)
}

// MemoryTool lets the model store and look up facts across conversations
type MemoryTool struct {
	items MemoryStore
	spec  *Func
}

// NewMemoryTool creates the memory tool
func NewMemoryTool(items MemoryStore) *MemoryTool {
	t := &MemoryTool{items: items}
	t.spec = &Func{
		Name: "memory",
		Description: "Long-term memory. Actions: remember (store a fact), " +
			"recall (search stored facts), categories (list categories), forget (delete by item_id).",
		Parameters: []Parameter{
			{Name: "action", Type: "string", Description: "Action to perform", Required: true, Enum: []string{"remember", "recall", "categories", "forget"}},
			{Name: "content", Type: "string", Description: "Fact to store, or search text for recall"},
			{Name: "category", Type: "string", Description: "Category for remember (e.g. preferences, people, work)"},
			{Name: "item_id", Type: "integer", Description: "Item id for forget"},
		},
		Handler: t.handle,
	}
	return t
}

// Definition returns the tool schema
func (t *MemoryTool) Definition() types.ToolDefinition {
	return t.spec.Definition()
}

// Execute runs one memory action
func (t *MemoryTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	return t.spec.Execute(ctx, params)
}

func (t *MemoryTool) handle(ctx context.Context, params map[string]any) (string, error) {
	switch action := StringParam(params, "action"); action {
	case "remember":
		content := StringParam(params, "content")
		if content == "" {
			return "Error: content is required", nil
		}
		category := StringParam(params, "category")
		if category == "" {
			category = store.DefaultCategory
		}
		id, err := t.items.Remember(ctx, content, category, "conversation")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Stored as item #%d in [%s]", id, category), nil

	case "recall":
		query := StringParam(params, "content")
		if query == "" {
			return "Error: content (search query) is required", nil
		}
		items, err := t.items.Recall(ctx, query, 10)
		if err != nil {
			return "", err
		}
		if len(items) == 0 {
			return "No memories matching: " + query, nil
		}
		lines := make([]string, 0, len(items))
		for _, it := range items {
			lines = append(lines, fmt.Sprintf("[#%d] [%s] %s", it.ID, it.Category, it.Content))
		}
		return strings.Join(lines, "\n"), nil

	case "categories":
		cats, err := t.items.Categories(ctx)
		if err != nil {
			return "", err
		}
		if len(cats) == 0 {
			return "No memory categories yet.", nil
		}
		var b strings.Builder
		b.WriteString("Memory categories:")
		for _, c := range cats {
			fmt.Fprintf(&b, "\n- %s (%d items)", c.Name, c.Items)
		}
		return b.String(), nil

	case "forget":
		id, ok := IntParam(params, "item_id")
		if !ok || id <= 0 {
			return "Error: item_id is required", nil
		}
		removed, err := t.items.Forget(ctx, int64(id))
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("Item #%d not found", id), nil
		}
		return fmt.Sprintf("Removed item #%d", id), nil

	default:
		return "Unknown action: " + action, nil
	}
}
