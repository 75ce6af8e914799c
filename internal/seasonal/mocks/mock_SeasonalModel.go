// Package mocks provides test doubles for the seasonal model.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	seasonal "github.com/sells-group/nfp-revisions/internal/seasonal"
)

// MockSeasonalModel is a mock type for the SeasonalModel interface.
type MockSeasonalModel struct {
	mock.Mock
}

// Fit provides a mock function with given fields: ctx, req
func (_m *MockSeasonalModel) Fit(ctx context.Context, req seasonal.FitRequest) (*seasonal.FitResult, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for Fit")
	}

	var r0 *seasonal.FitResult
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, seasonal.FitRequest) (*seasonal.FitResult, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, seasonal.FitRequest) *seasonal.FitResult); ok {
		r0 = rf(ctx, req)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*seasonal.FitResult)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, seasonal.FitRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockSeasonalModel creates a new instance of MockSeasonalModel.
func NewMockSeasonalModel(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSeasonalModel {
	mock := &MockSeasonalModel{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
