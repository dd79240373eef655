package adapter

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultRetryAfter = 60 * time.Second

// newHTTPClient builds the provider-facing client. Rate-limited calls are
// retried exactly once, waiting out the Retry-After header when the provider
// sends one.
func newHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(1).
		AddRetryCondition(func(r *resty.Response, _ error) bool {
			return r != nil && r.StatusCode() == http.StatusTooManyRequests
		}).
		SetRetryAfter(func(_ *resty.Client, r *resty.Response) (time.Duration, error) {
			if r != nil {
				if s := r.Header().Get("Retry-After"); s != "" {
					if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
						return time.Duration(secs) * time.Second, nil
					}
				}
			}
			return defaultRetryAfter, nil
		})
}
