package retry

import (
	"context"
	"fmt"

	"github.com/pario-ai/shopkeep/pkg/models"
)

// ResponseError is an unsuccessful normalized response treated as a failure.
type ResponseError struct {
	Response *models.FallbackResponse
}

func (e *ResponseError) Error() string {
	if e.Response == nil {
		return "empty response"
	}
	if e.Response.Error != "" {
		return e.Response.Error
	}
	return fmt.Sprintf("unsuccessful response (status %d)", e.Response.Status)
}

// StatusCode returns the status of the failed response.
func (e *ResponseError) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.Status
}

// Send retries a single send operation under p. An unsuccessful response
// counts as a failed attempt. The result carries the first successful
// payload, or the last error annotated with the attempt count.
func Send(ctx context.Context, p Policy, op func(ctx context.Context) (*models.FallbackResponse, error)) models.SendResult {
	attempts := 0
	resp, err := Do(ctx, p, func(ctx context.Context) (*models.FallbackResponse, error) {
		attempts++
		r, err := op(ctx)
		if err != nil {
			return nil, err
		}
		if r == nil || !r.Success {
			return nil, &ResponseError{Response: r}
		}
		return r, nil
	})
	if err != nil {
		return models.SendResult{Err: err, Attempts: attempts}
	}
	return models.SendResult{Success: true, Data: resp.Data, Attempts: attempts}
}
