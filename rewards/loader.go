package rewards

import (
	"context"
	"fmt"
	"os"
)

// Fetcher reads a catalog document from remote storage (an R2 object in production).
type Fetcher func(ctx context.Context) ([]byte, error)

// Source picks where the catalog comes from. Remote wins over File; neither means the embedded default.
type Source struct {
	File   string
	Remote Fetcher
}

// Load resolves the catalog once at startup and returns a label describing its origin.
func Load(ctx context.Context, src Source) (*Catalog, string, error) {
	switch {
	case src.Remote != nil:
		data, err := src.Remote(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("failed to fetch reward catalog: %w", err)
		}
		c, err := Parse(data)
		return c, "remote", err
	case src.File != "":
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read reward catalog %s: %w", src.File, err)
		}
		c, err := Parse(data)
		return c, src.File, err
	default:
		c, err := Default()
		return c, "embedded", err
	}
}
