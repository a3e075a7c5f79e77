package actions

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/deskhand/internal/model"
)

// InvoiceWriter renders invoice actions as markdown under <vault>/Invoices.
type InvoiceWriter struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewInvoiceWriter(vaultRoot string, logger *slog.Logger) *InvoiceWriter {
	return &InvoiceWriter{
		dir:    filepath.Join(vaultRoot, "Invoices"),
		logger: logger,
		now:    time.Now,
	}
}

func (w *InvoiceWriter) Execute(ctx context.Context, action *model.ProposedAction, taskCtx map[string]any) error {
	data := action.ActionData

	client, _ := data["client_name"].(string)
	if client == "" {
		client, _ = data["client_email"].(string)
	}
	if client == "" {
		client, _ = taskCtx["from"].(string)
	}

	var b strings.Builder
	number := w.now().UTC().Format("20060102-150405")
	fmt.Fprintf(&b, "# Invoice %s\n\n", number)
	fmt.Fprintf(&b, "**Client:** %s\n", client)
	fmt.Fprintf(&b, "**Date:** %s\n\n", w.now().UTC().Format("2006-01-02"))

	var total float64
	if items, ok := data["items"].([]any); ok {
		b.WriteString("| Description | Qty | Unit price | Amount |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, it := range items {
			item, ok := it.(map[string]any)
			if !ok {
				return fmt.Errorf("invoice item is not a mapping")
			}
			desc, _ := item["description"].(string)
			qty := toFloat(item["quantity"], 1)
			unit := toFloat(item["unit_price"], 0)
			amount := qty * unit
			total += amount
			fmt.Fprintf(&b, "| %s | %g | %.2f | %.2f |\n", desc, qty, unit, amount)
		}
	} else {
		desc, _ := data["description"].(string)
		total = toFloat(data["amount"], 0)
		fmt.Fprintf(&b, "%s\n", desc)
	}
	fmt.Fprintf(&b, "\n**Total:** %.2f\n", total)

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create invoices directory: %w", err)
	}
	path := filepath.Join(w.dir, fmt.Sprintf("invoice_%s.md", number))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write invoice: %w", err)
	}
	w.logger.Info("invoice drafted", "client", client, "total", total, "file", filepath.Base(path))
	return nil
}

func toFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f
		}
	}
	return def
}
