package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError 表示上游返回了非 2xx 状态码，默认策略下与传输错误一样会被重试。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// FetchExhaustedError 是重试预算耗尽（或策略判定不可重试）后返回给调用方的终态错误。
type FetchExhaustedError struct {
	URL       string
	Attempts  int
	Permanent bool
	LastErr   error
}

func (e *FetchExhaustedError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("fetch %s failed permanently after %d attempt(s): %v", e.URL, e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("fetch %s exhausted after %d attempt(s): %v", e.URL, e.Attempts, e.LastErr)
}

func (e *FetchExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsExhausted 判断 err 链上是否包含 FetchExhaustedError。
func IsExhausted(err error) bool {
	var exhausted *FetchExhaustedError
	return errors.As(err, &exhausted)
}

// abortedError 表示回源因发起方的 ctx 被取消而中止。共享同一回源的其他
// 调用方据此判断是否需要自行重新发起。
type abortedError struct {
	URL string
	Err error
}

func (e *abortedError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *abortedError) Unwrap() error {
	return e.Err
}
