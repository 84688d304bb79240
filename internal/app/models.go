package app

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/MrWong99/openrouter/internal/observe"
	"github.com/MrWong99/openrouter/pkg/openrouter"
)

// ModelsOptions configures [App.Models].
type ModelsOptions struct {
	// Filter keeps models whose id contains it, case-insensitively.
	Filter string

	// Structured keeps only models that accept a response schema.
	Structured bool
}

// Models prints the models offered by the service as a table sorted by id.
func (a *App) Models(ctx context.Context, opts ModelsOptions) error {
	ctx, span := observe.StartSpan(ctx, "app.models")
	defer span.End()

	models, err := a.client.Models().List(ctx)
	if err != nil {
		a.metrics.RecordError(ctx, "models", err)
		return fmt.Errorf("app: list models: %w", err)
	}

	filter := strings.ToLower(opts.Filter)
	models = slices.DeleteFunc(models, func(m openrouter.Model) bool {
		if filter != "" && !strings.Contains(strings.ToLower(m.ID), filter) {
			return true
		}
		return opts.Structured && !supportsSchema(m)
	})
	slices.SortFunc(models, func(x, y openrouter.Model) int { return cmp.Compare(x.ID, y.ID) })

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONTEXT\tPROMPT\tCOMPLETION\tSTRUCTURED")
	for _, m := range models {
		structured := "no"
		if supportsSchema(m) {
			structured = "yes"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", m.ID, m.ContextLength, m.Pricing.Prompt, m.Pricing.Completion, structured)
	}
	return tw.Flush()
}

func supportsSchema(m openrouter.Model) bool {
	return m.Supports("response_format") || m.Supports("structured_outputs")
}
