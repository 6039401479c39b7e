package action

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/wine-identify/internal/enrich"
	"github.com/sells-group/wine-identify/internal/identify"
	"github.com/sells-group/wine-identify/internal/model"
	"github.com/sells-group/wine-identify/internal/quality"
)

// --- Identifier Mock ---

type mockIdentifier struct {
	mock.Mock
}

func (m *mockIdentifier) Identify(ctx context.Context, req model.IdentificationRequest, opts identify.Options) (*identify.Response, error) {
	args := m.Called(ctx, req, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identify.Response), args.Error(1)
}

func (m *mockIdentifier) Assess(r model.IdentificationResult, exhausted bool) (quality.Analysis, []model.Chip) {
	args := m.Called(r, exhausted)
	return args.Get(0).(quality.Analysis), args.Get(1).([]model.Chip)
}

func (m *mockIdentifier) EnrichResult(ctx context.Context, r model.IdentificationResult, producer string) (*enrich.Enrichment, model.Usage, error) {
	args := m.Called(ctx, r, producer)
	if args.Get(0) == nil {
		return nil, model.Usage{}, args.Error(2)
	}
	return args.Get(0).(*enrich.Enrichment), args.Get(1).(model.Usage), args.Error(2)
}

// --- Persister Mock ---

type mockPersister struct {
	mock.Mock
}

func (m *mockPersister) PersistWine(ctx context.Context, rec model.WineRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}
