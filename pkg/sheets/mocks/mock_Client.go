// Package mocks provides test doubles for the sheets client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Values provides a mock function with given fields: ctx, spreadsheetID, rng
func (_m *MockClient) Values(ctx context.Context, spreadsheetID string, rng string) ([][]string, error) {
	ret := _m.Called(ctx, spreadsheetID, rng)

	if len(ret) == 0 {
		panic("no return value specified for Values")
	}

	var r0 [][]string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([][]string)
	}
	return r0, ret.Error(1)
}

// Clear provides a mock function with given fields: ctx, spreadsheetID, rng
func (_m *MockClient) Clear(ctx context.Context, spreadsheetID string, rng string) error {
	ret := _m.Called(ctx, spreadsheetID, rng)

	if len(ret) == 0 {
		panic("no return value specified for Clear")
	}
	return ret.Error(0)
}

// Update provides a mock function with given fields: ctx, spreadsheetID, rng, rows
func (_m *MockClient) Update(ctx context.Context, spreadsheetID string, rng string, rows [][]any) (int, error) {
	ret := _m.Called(ctx, spreadsheetID, rng, rows)

	if len(ret) == 0 {
		panic("no return value specified for Update")
	}

	var r0 int
	if rf, ok := ret.Get(0).(func(context.Context, string, string, [][]any) int); ok {
		r0 = rf(ctx, spreadsheetID, rng, rows)
	} else {
		r0 = ret.Get(0).(int)
	}
	return r0, ret.Error(1)
}

// Tabs provides a mock function with given fields: ctx, spreadsheetID
func (_m *MockClient) Tabs(ctx context.Context, spreadsheetID string) ([]string, error) {
	ret := _m.Called(ctx, spreadsheetID)

	if len(ret) == 0 {
		panic("no return value specified for Tabs")
	}

	var r0 []string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]string)
	}
	return r0, ret.Error(1)
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
