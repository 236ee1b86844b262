package gateway

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// newBreaker trips after five consecutive provider failures and lets one request through again
// after thirty seconds.
func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
}

func execute[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
