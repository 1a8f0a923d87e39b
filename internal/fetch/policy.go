package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// RetryPolicy 判断一次失败是否值得再次尝试。
type RetryPolicy interface {
	Retryable(err error) bool
}

// RetryPolicyFunc adapts a function to the RetryPolicy interface.
type RetryPolicyFunc func(err error) bool

// Retryable makes RetryPolicyFunc satisfy RetryPolicy.
func (f RetryPolicyFunc) Retryable(err error) bool {
	return f(err)
}

var (
	// RetryAll 对任何失败一视同仁地重试，直到次数耗尽。这是默认行为。
	RetryAll RetryPolicy = RetryPolicyFunc(func(error) bool { return true })

	// RetryTransient 把 408/429 以外的 4xx 视为永久失败，其余失败继续重试。
	RetryTransient RetryPolicy = RetryPolicyFunc(func(err error) bool {
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			return true
		}
		switch statusErr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return true
		}
		return statusErr.StatusCode < 400 || statusErr.StatusCode >= 500
	})
)

// ParseRetryPolicy 解析配置中的 all/transient。
func ParseRetryPolicy(raw string) (RetryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all":
		return RetryAll, nil
	case "transient":
		return RetryTransient, nil
	default:
		return nil, fmt.Errorf("unknown retry policy: %s", raw)
	}
}
