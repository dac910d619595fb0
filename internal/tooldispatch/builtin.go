package tooldispatch

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"zen/internal/store"
)

// RegisterBuiltins installs the built-in tools.
func RegisterBuiltins(registry *Registry, st store.Store) error {
	for _, tool := range []Tool{
		&Calculator{},
		&WebSearch{},
		&HistoryLookup{store: st},
	} {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Calculator evaluates basic arithmetic expressions found in its input.
type Calculator struct{}

func (c *Calculator) Name() string        { return "calculator" }
func (c *Calculator) Description() string { return "Evaluates arithmetic expressions" }

var calcToken = regexp.MustCompile(`-?\d+(?:\.\d+)?|[+\-*/]`)

func (c *Calculator) Execute(_ context.Context, inv Invocation) (string, error) {
	expr, _ := inv.Args["expression"].(string)
	if expr == "" {
		return "", fmt.Errorf("calculator requires an expression argument")
	}

	tokens := calcToken.FindAllString(expr, -1)
	result, err := evalTokens(tokens)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(result, 'f', -1, 64), nil
}

// evalTokens evaluates a flat token stream with * and / binding tighter
// than + and -.
func evalTokens(tokens []string) (float64, error) {
	if len(tokens) == 0 {
		return 0, fmt.Errorf("no arithmetic expression found")
	}

	// First pass: collapse * and /.
	var values []float64
	var ops []string
	expectValue := true
	for _, tok := range tokens {
		if expectValue {
			v, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				return 0, fmt.Errorf("expected a number, got %q", tok)
			}
			if n := len(ops); n > 0 && (ops[n-1] == "*" || ops[n-1] == "/") {
				op := ops[n-1]
				ops = ops[:n-1]
				prev := values[len(values)-1]
				values = values[:len(values)-1]
				if op == "/" {
					if v == 0 {
						return 0, fmt.Errorf("division by zero")
					}
					values = append(values, prev/v)
				} else {
					values = append(values, prev*v)
				}
			} else {
				values = append(values, v)
			}
			expectValue = false
			continue
		}
		switch tok {
		case "+", "-", "*", "/":
			ops = append(ops, tok)
			expectValue = true
		default:
			return 0, fmt.Errorf("expected an operator, got %q", tok)
		}
	}
	if expectValue {
		return 0, fmt.Errorf("expression ends with an operator")
	}

	// Second pass: fold + and -.
	result := values[0]
	for i, op := range ops {
		switch op {
		case "+":
			result += values[i+1]
		case "-":
			result -= values[i+1]
		}
	}
	return result, nil
}

// WebSearch returns deterministic canned results. It stands in for a real
// search backend and exercises the result cache.
type WebSearch struct{}

func (w *WebSearch) Name() string         { return "web_search" }
func (w *WebSearch) Description() string  { return "Searches the web for a query" }
func (w *WebSearch) CacheTTLSeconds() int { return 300 }

func (w *WebSearch) Execute(_ context.Context, inv Invocation) (string, error) {
	query, _ := inv.Args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("web_search requires a query argument")
	}
	return fmt.Sprintf("3 results for %q: overview article, reference documentation, and a recent discussion thread", query), nil
}

// HistoryLookup returns the caller's recent conversation turns. Sessions
// are opened per invocation and scoped to the invoking user and thread, so
// no other user's history is reachable.
type HistoryLookup struct {
	store store.Store
}

func (h *HistoryLookup) Name() string        { return "history_lookup" }
func (h *HistoryLookup) Description() string { return "Fetches recent conversation history" }

func (h *HistoryLookup) Execute(ctx context.Context, inv Invocation) (string, error) {
	session, err := h.store.Session(ctx, inv.UserID, inv.ThreadID)
	if err != nil {
		return "", err
	}
	defer session.Close()

	history, err := session.History(ctx)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "No earlier messages in this conversation.", nil
	}

	const window = 10
	if len(history) > window {
		history = history[len(history)-window:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d messages:", len(history))
	for _, msg := range history {
		fmt.Fprintf(&b, "\n- %s: %s", msg.Role, msg.Content)
	}
	return b.String(), nil
}
