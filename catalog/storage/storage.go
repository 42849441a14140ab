package storage

import (
	"context"
	"errors"
)

// CatalogState loads the raw canonical food catalog document.
type CatalogState interface {
	Load(ctx context.Context) ([]byte, error)
}

// TestCatalogState is a simple in-memory implementation for testing
type TestCatalogState struct {
	data []byte
	err  error
}

func NewTestCatalogState(data []byte) *TestCatalogState {
	return &TestCatalogState{data: data}
}

func NewTestCatalogStateWithError() *TestCatalogState {
	return &TestCatalogState{err: errors.New("not found")}
}

func (t *TestCatalogState) Load(ctx context.Context) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.data, nil
}
