// Package mocks provides test doubles for the hubspot client.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	hubspot "github.com/sells-group/coach-cli/pkg/hubspot"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// SearchContacts provides a mock function with given fields: ctx, property, value, properties
func (_m *MockClient) SearchContacts(ctx context.Context, property string, value string, properties []string) ([]hubspot.Object, error) {
	ret := _m.Called(ctx, property, value, properties)

	if len(ret) == 0 {
		panic("no return value specified for SearchContacts")
	}

	var r0 []hubspot.Object
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]hubspot.Object)
	}
	return r0, ret.Error(1)
}

// DealIDsForContact provides a mock function with given fields: ctx, contactID
func (_m *MockClient) DealIDsForContact(ctx context.Context, contactID string) ([]string, error) {
	ret := _m.Called(ctx, contactID)

	if len(ret) == 0 {
		panic("no return value specified for DealIDsForContact")
	}

	var r0 []string
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]string)
	}
	return r0, ret.Error(1)
}

// BatchReadDeals provides a mock function with given fields: ctx, ids, properties
func (_m *MockClient) BatchReadDeals(ctx context.Context, ids []string, properties []string) ([]hubspot.Object, error) {
	ret := _m.Called(ctx, ids, properties)

	if len(ret) == 0 {
		panic("no return value specified for BatchReadDeals")
	}

	var r0 []hubspot.Object
	if rf, ok := ret.Get(0).(func(context.Context, []string, []string) []hubspot.Object); ok {
		r0 = rf(ctx, ids, properties)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]hubspot.Object)
	}
	return r0, ret.Error(1)
}

// DealPipelines provides a mock function with given fields: ctx
func (_m *MockClient) DealPipelines(ctx context.Context) ([]hubspot.Pipeline, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for DealPipelines")
	}

	var r0 []hubspot.Pipeline
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]hubspot.Pipeline)
	}
	return r0, ret.Error(1)
}

// Owners provides a mock function with given fields: ctx
func (_m *MockClient) Owners(ctx context.Context) ([]hubspot.Owner, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Owners")
	}

	var r0 []hubspot.Owner
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]hubspot.Owner)
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
