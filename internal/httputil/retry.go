package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"sweeparr/internal/models"
)

// Per-host cap keeps one misbehaving job from saturating a media
// server that is also busy transcoding.
const hostConcurrency = 4

const maxAttempts = 3

var backoff = [...]time.Duration{250 * time.Millisecond, 1 * time.Second, 4 * time.Second}

var (
	gateMu sync.Mutex
	gates  = map[string]*semaphore.Weighted{}
)

func hostGate(host string) *semaphore.Weighted {
	gateMu.Lock()
	defer gateMu.Unlock()
	g, ok := gates[host]
	if !ok {
		g = semaphore.NewWeighted(hostConcurrency)
		gates[host] = g
	}
	return g
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code >= 500 && code <= 599
}

// Do sends req through client with the shared retry policy. Idempotent
// methods (GET, HEAD, DELETE) are retried on transport errors and 5xx
// responses; other methods only on transport errors, where the request
// may never have reached the server. A 401 or 403 is returned as an
// *models.AuthError, exhausted retries as a *models.TransientError.
// At most four requests run against any single host at a time.
func Do(client *http.Client, req *http.Request, service string) (*http.Response, error) {
	ctx := req.Context()
	gate := hostGate(req.URL.Host)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptReq := req
		if attempt > 1 {
			var err error
			attemptReq, err = rewind(req)
			if err != nil {
				// Body cannot be replayed; report the previous failure.
				break
			}
		}

		if err := gate.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		resp, err := client.Do(attemptReq)
		gate.Release(1)

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if !sleepBackoff(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			DrainBody(resp)
			return nil, &models.AuthError{Service: service, Err: fmt.Errorf("status %d", resp.StatusCode)}
		case retryableStatus(resp.StatusCode) && idempotent(req.Method):
			DrainBody(resp)
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			if !sleepBackoff(ctx, attempt) {
				return nil, ctx.Err()
			}
			continue
		}
		return resp, nil
	}

	return nil, &models.TransientError{Service: service, Attempts: maxAttempts, Err: lastErr}
}

// rewind clones req with a fresh body for another attempt. Requests
// built by http.NewRequest carry GetBody for the common reader types.
func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("body not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func sleepBackoff(ctx context.Context, attempt int) bool {
	if attempt >= maxAttempts {
		return true
	}
	select {
	case <-time.After(backoff[attempt-1]):
		return true
	case <-ctx.Done():
		return false
	}
}

// IsTransient reports whether err is a retry-exhausted transport
// failure, as opposed to an auth or validation problem.
func IsTransient(err error) bool {
	var te *models.TransientError
	return errors.As(err, &te)
}
