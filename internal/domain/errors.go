package domain

import "fmt"

// ValidationError 请求在发出任何远程调用之前就被拒绝
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ExchangeError wraps a failed exchange read or write with the operation name.
type ExchangeError struct {
	Op  string
	Err error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange %s: %v", e.Op, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// UnprotectedPositionError means the entry order filled but the mandatory
// stop-loss order could not be placed. The position is live and unprotected;
// callers must treat this differently from an ordinary ExchangeError.
type UnprotectedPositionError struct {
	Symbol       string
	EntryOrderID int64
	Err          error
}

func (e *UnprotectedPositionError) Error() string {
	return fmt.Sprintf("position %s (entry order %d) is OPEN WITHOUT STOP-LOSS: %v",
		e.Symbol, e.EntryOrderID, e.Err)
}

func (e *UnprotectedPositionError) Unwrap() error { return e.Err }

// PartialDataError 单个币种行情获取失败，不影响其余币种
type PartialDataError struct {
	Currency string
	Err      error
}

func (e *PartialDataError) Error() string {
	return fmt.Sprintf("market data for %s unavailable: %v", e.Currency, e.Err)
}

func (e *PartialDataError) Unwrap() error { return e.Err }

// AgentError 决策代理调用失败，整个周期终止
type AgentError struct {
	Err error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("decision agent failed: %v", e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// ParseError means a typed agent response could not be parsed into the
// expected shape.
type ParseError struct {
	Kind string
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s response: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
