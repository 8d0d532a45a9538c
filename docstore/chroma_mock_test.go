package docstore

import (
	"context"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/stretchr/testify/mock"
)

// mockCollection resolves the functional options into chroma's op structs
// before recording the call, so expectations can match on ids, filters and
// paging.
type mockCollection struct {
	mock.Mock
}

var _ chroma.Collection = (*mockCollection)(nil)

func (m *mockCollection) Name() string { return "test" }

func (m *mockCollection) ID() string { return "test" }

func (m *mockCollection) Tenant() chroma.Tenant { return nil }

func (m *mockCollection) Database() chroma.Database { return nil }

func (m *mockCollection) Metadata() chroma.CollectionMetadata { return nil }

func (m *mockCollection) Configuration() chroma.CollectionConfiguration { return nil }

func (m *mockCollection) Add(ctx context.Context, opts ...chroma.CollectionUpdateOption) error {
	op, err := chroma.NewCollectionUpdateOp(opts...)
	if err != nil {
		return err
	}
	return m.Called(ctx, op).Error(0)
}

func (m *mockCollection) Upsert(ctx context.Context, opts ...chroma.CollectionUpdateOption) error {
	op, err := chroma.NewCollectionUpdateOp(opts...)
	if err != nil {
		return err
	}
	return m.Called(ctx, op).Error(0)
}

func (m *mockCollection) Update(ctx context.Context, opts ...chroma.CollectionUpdateOption) error {
	op, err := chroma.NewCollectionUpdateOp(opts...)
	if err != nil {
		return err
	}
	return m.Called(ctx, op).Error(0)
}

func (m *mockCollection) Delete(ctx context.Context, opts ...chroma.CollectionDeleteOption) error {
	op, err := chroma.NewCollectionDeleteOp(opts...)
	if err != nil {
		return err
	}
	return m.Called(ctx, op).Error(0)
}

func (m *mockCollection) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockCollection) ModifyName(ctx context.Context, newName string) error {
	return m.Called(ctx, newName).Error(0)
}

func (m *mockCollection) ModifyMetadata(ctx context.Context, newMetadata chroma.CollectionMetadata) error {
	return m.Called(ctx, newMetadata).Error(0)
}

func (m *mockCollection) ModifyConfiguration(ctx context.Context, newConfig chroma.CollectionConfiguration) error {
	return m.Called(ctx, newConfig).Error(0)
}

func (m *mockCollection) Get(ctx context.Context, opts ...chroma.CollectionGetOption) (chroma.GetResult, error) {
	op, err := chroma.NewCollectionGetOp(opts...)
	if err != nil {
		return nil, err
	}

	args := m.Called(ctx, op)
	res, _ := args.Get(0).(chroma.GetResult)
	return res, args.Error(1)
}

func (m *mockCollection) Query(ctx context.Context, opts ...chroma.CollectionQueryOption) (chroma.QueryResult, error) {
	op, err := chroma.NewCollectionQueryOp(opts...)
	if err != nil {
		return nil, err
	}

	args := m.Called(ctx, op)
	res, _ := args.Get(0).(chroma.QueryResult)
	return res, args.Error(1)
}

func (m *mockCollection) Close() error {
	return m.Called().Error(0)
}

func matchGet(fn func(op *chroma.CollectionGetOp) bool) any {
	return mock.MatchedBy(fn)
}

func matchDelete(fn func(op *chroma.CollectionDeleteOp) bool) any {
	return mock.MatchedBy(fn)
}

func matchQuery(fn func(op *chroma.CollectionQueryOp) bool) any {
	return mock.MatchedBy(fn)
}
