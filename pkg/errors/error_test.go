package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNew() {
	err := New(ErrCodeInvalidConfiguration, "bad config")
	suite.Equal(ErrCodeInvalidConfiguration, err.Code)
	suite.Equal("bad config", err.Message)
	suite.Nil(err.Cause)
	suite.Equal("[100] bad config", err.Error())
}

func (suite *ErrorTestSuite) TestNewf() {
	err := Newf(ErrCodeSymbolNotFound, "no bars loaded for symbol %s", "AAPL")
	suite.Equal(ErrCodeSymbolNotFound, err.Code)
	suite.Equal("no bars loaded for symbol AAPL", err.Message)
}

func (suite *ErrorTestSuite) TestWrap() {
	cause := fmt.Errorf("disk full")
	err := Wrap(ErrCodeResultWriteFailed, "failed to export trades", cause)
	suite.Equal(cause, err.Unwrap())
	suite.Contains(err.Error(), "disk full")
	suite.Contains(err.Error(), "failed to export trades")
}

func (suite *ErrorTestSuite) TestWrapf() {
	cause := fmt.Errorf("connection refused")
	err := Wrapf(ErrCodeQueryFailed, cause, "query for %s failed", "equity_points")
	suite.Equal(ErrCodeQueryFailed, err.Code)
	suite.Equal("query for equity_points failed", err.Message)
	suite.True(Is(err, cause))
}

func (suite *ErrorTestSuite) TestGetCode() {
	err := New(ErrCodeWorkerTimeout, "worker did not respond")
	suite.Equal(ErrCodeWorkerTimeout, GetCode(err))

	plain := fmt.Errorf("plain error")
	suite.Equal(ErrCodeUnknown, GetCode(plain))
}

func (suite *ErrorTestSuite) TestGetCodeWrappedInStandardError() {
	inner := New(ErrCodeInsufficientCapital, "affordable quantity rounds to zero")
	wrapped := fmt.Errorf("executing signal: %w", inner)

	suite.Equal(ErrCodeInsufficientCapital, GetCode(wrapped))
	suite.True(HasCode(wrapped, ErrCodeInsufficientCapital))
}

func (suite *ErrorTestSuite) TestHasCode() {
	err := New(ErrCodeInvalidSignal, "missing symbol")
	suite.True(HasCode(err, ErrCodeInvalidSignal))
	suite.False(HasCode(err, ErrCodeInvalidQuantity))
}

func (suite *ErrorTestSuite) TestIsRejection() {
	rejection := Newf(ErrCodeInsufficientCapital, "cash %f too low", 0.5)
	suite.True(IsRejection(rejection))

	fatal := New(ErrCodeStrategyFailed, "strategy panicked")
	suite.False(IsRejection(fatal))
	suite.False(IsRejection(fmt.Errorf("plain")))
}

func (suite *ErrorTestSuite) TestAs() {
	var target *Error

	err := fmt.Errorf("outer: %w", New(ErrCodeFillFailed, "fill failed"))
	suite.True(As(err, &target))
	suite.Equal(ErrCodeFillFailed, target.Code)
}
