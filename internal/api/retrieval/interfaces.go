package retrieval

import (
	"context"

	"localrag/internal/domain"
	"localrag/internal/service"
)

type Engine interface {
	Query(ctx context.Context, text string) domain.QueryResult
	Build(ctx context.Context) (domain.BuildReport, error)
	Stats() service.Stats
}
