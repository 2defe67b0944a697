package source

import (
	"context"

	client "github.com/kailas-cloud/threadscout/internal/transport/source"
)

// searcher is the consumer interface for the content-search client (ISP).
type searcher interface {
	SearchPage(ctx context.Context, req client.PageRequest) (client.Page, error)
	Comments(ctx context.Context, permalink string, limit int) ([]string, error)
}
