package pdf

import (
	"context"
	"io"
)

type Provider interface {
	GenerateDepositStatement(ctx context.Context, data StatementData) (io.Reader, error)
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateDepositStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	return nil, nil
}
