package store

import (
	"context"
	"fmt"
)

// DefaultDeleteBatch matches the document-store write batch limit the cascade was
// designed against.
const DefaultDeleteBatch = 500

func checkCascade(c Cascade) error {
	if financial[c.Collection] {
		return fmt.Errorf("cascade refused for financial collection %q", c.Collection)
	}
	for _, known := range ProductCascade {
		if known == c {
			return nil
		}
	}
	return fmt.Errorf("unknown cascade %s.%s", c.Collection, c.ForeignKey)
}

// PurgeProduct deletes every non-financial artifact of a product and then the
// product itself. The product row goes last so an interrupted purge is picked up
// again by the next sweep.
func PurgeProduct(ctx context.Context, s Store, productID string, batchSize int) (map[string]int, error) {
	if batchSize <= 0 {
		batchSize = DefaultDeleteBatch
	}
	deleted := make(map[string]int, len(ProductCascade)+1)
	for _, c := range ProductCascade {
		n, err := s.DeleteByProduct(ctx, c, productID, batchSize)
		deleted[c.Collection] += n
		if err != nil {
			return deleted, fmt.Errorf("purge %s for product %s: %w", c.Collection, productID, err)
		}
	}
	if err := s.DeleteProduct(ctx, productID); err != nil {
		return deleted, fmt.Errorf("delete product %s: %w", productID, err)
	}
	deleted["products"]++
	return deleted, nil
}
