package douyin

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// FilterLive drops products hidden from the live channel. Details are
// fetched concurrently, a product whose detail cannot be fetched is kept.
func (c *Client) FilterLive(ctx context.Context, products []Product) []Product {
	ctx, span := tracer.Start(ctx, "FilterLive")
	defer span.End()

	hidden := make([]bool, len(products))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.workers)
	for i, p := range products {
		group.Go(func() error {
			detail, err := c.Get(groupCtx, p.ID)
			if err != nil {
				slog.WarnContext(groupCtx, "failed to fetch product detail, keeping product", "product_id", p.ID, "err", err)
				return nil
			}
			hidden[i] = IsHidden(detail)
			return nil
		})
	}
	group.Wait()

	var live []Product
	for i, p := range products {
		if hidden[i] {
			slog.DebugContext(ctx, "skipping hidden product", "product_id", p.ID, "name", p.Name)
			continue
		}
		live = append(live, p)
	}

	span.SetAttributes(
		attribute.Int("total", len(products)),
		attribute.Int("live", len(live)),
	)
	return live
}
