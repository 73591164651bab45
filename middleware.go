package transactionapp

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
)

//
// Rate limiting middlewares
//

// limitMiddleware limits the number of in-flight requests to the service by
// using a weighted semaphore, i.e., x/sync/semaphore.Semaphore with an
// acquisition timeout. A caller shed here gets a retryable failure instead
// of blocking indefinitely behind slow lock holders.
type limitMiddleware struct {
	next    Service
	limits  *ServiceLimits
	timeout time.Duration
}

var (
	_ Service = (*limitMiddleware)(nil)
)

type ServiceLimits struct {
	Authorize *semaphore.Weighted
	Load      *semaphore.Weighted
}

func NewLimitMiddleware(limits *ServiceLimits, acquireTimeout time.Duration) Middleware {
	return func(next Service) Service {
		return &limitMiddleware{
			next:    next,
			limits:  limits,
			timeout: acquireTimeout,
		}
	}
}

func (l *limitMiddleware) acquire(ctx context.Context, sem *semaphore.Weighted) (func(), error) {
	if sem == nil {
		return func() {}, nil
	}
	actx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := sem.Acquire(actx, 1); err != nil {
		return nil, ErrTooManyRequests
	}
	return func() { sem.Release(1) }, nil
}

func (l *limitMiddleware) Authorize(ctx context.Context, messageID string, req AuthorizationRequest) (*AuthorizationResponse, error) {
	release, err := l.acquire(ctx, l.limits.Authorize)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Authorize(ctx, messageID, req)
}

func (l *limitMiddleware) Load(ctx context.Context, messageID string, req LoadRequest) (*LoadResponse, error) {
	release, err := l.acquire(ctx, l.limits.Load)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Load(ctx, messageID, req)
}

type ServiceBreaker struct {
	Authorize *gobreaker.TwoStepCircuitBreaker[*AuthorizationResponse]
	Load      *gobreaker.TwoStepCircuitBreaker[*LoadResponse]
}

func NewServiceBreaker() *ServiceBreaker {
	return &ServiceBreaker{
		Authorize: gobreaker.NewTwoStepCircuitBreaker[*AuthorizationResponse](gobreaker.Settings{
			Name: "authorize",
		}),
		Load: gobreaker.NewTwoStepCircuitBreaker[*LoadResponse](gobreaker.Settings{
			Name: "load",
		}),
	}
}

// circuitBreakMiddleware implements the circuit breaker pattern. It works
// in conjunction with limitMiddleware: when the service is struggling to
// release limit tokens within request deadline, the breaker opens and
// sheds requests outright. Validation failures are the caller's fault and
// count as successes for the breaker.
type circuitBreakMiddleware struct {
	next  Service
	brkrs *ServiceBreaker
}

var (
	_ Service = (*circuitBreakMiddleware)(nil)
)

func NewCircuitBreakMiddleware(brkrs *ServiceBreaker) Middleware {
	return func(next Service) Service {
		return &circuitBreakMiddleware{
			next:  next,
			brkrs: brkrs,
		}
	}
}

func callerFault(err error) bool {
	var ve ValidationError
	var br ErrBadRequest
	return errors.As(err, &ve) || errors.As(err, &br)
}

func (c *circuitBreakMiddleware) Authorize(ctx context.Context, messageID string, req AuthorizationRequest) (*AuthorizationResponse, error) {
	done, err := c.brkrs.Authorize.Allow()
	if err != nil {
		return nil, ErrTooManyRequests
	}
	resp, err := c.next.Authorize(ctx, messageID, req)
	done(err == nil || callerFault(err))
	return resp, err
}

func (c *circuitBreakMiddleware) Load(ctx context.Context, messageID string, req LoadRequest) (*LoadResponse, error) {
	done, err := c.brkrs.Load.Allow()
	if err != nil {
		return nil, ErrTooManyRequests
	}
	resp, err := c.next.Load(ctx, messageID, req)
	done(err == nil || callerFault(err))
	return resp, err
}
