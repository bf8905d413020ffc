package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/stepcore/internal/observability"
	"github.com/rs/zerolog/log"
)

type ctxKey struct{}

// Exchange models cooperative suspension over a channel pair: the unit
// of work sends a request and blocks until the driver sends back a
// response. Both channels are unbuffered, which keeps the "exactly one
// outstanding request at a time" invariant explicit.
type Exchange struct {
	requests  chan Request
	responses chan Response
	closeOnce sync.Once
}

// NewExchange creates an exchange for one in-flight unit of work.
func NewExchange() *Exchange {
	return &Exchange{
		requests:  make(chan Request),
		responses: make(chan Response),
	}
}

// Attach marks the context as suspension-capable by carrying the
// exchange. Code issuing requests under this context will yield them to
// the driver instead of resolving locally.
func (e *Exchange) Attach(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, e)
}

// FromContext returns the attached exchange, or nil in synchronous mode.
func FromContext(ctx context.Context) *Exchange {
	if ex, ok := ctx.Value(ctxKey{}).(*Exchange); ok {
		return ex
	}
	return nil
}

// Capable reports whether the context can suspend and wait for a driver.
func Capable(ctx context.Context) bool {
	return FromContext(ctx) != nil
}

// Requests exposes yielded requests to the driver. The channel closes
// when the unit of work finishes.
func (e *Exchange) Requests() <-chan Request {
	return e.requests
}

// Resume delivers a response to the suspended unit of work.
func (e *Exchange) Resume(ctx context.Context, resp Response) error {
	select {
	case e.responses <- resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals the driver that no further requests will be yielded.
func (e *Exchange) Close() {
	e.closeOnce.Do(func() {
		close(e.requests)
	})
}

// Ask issues a request from inside a unit of work. With an exchange
// attached it suspends until the driver resumes it; otherwise it
// resolves immediately per the request's sync behavior. The suspension
// is purely in-process control transfer; abandonment by a driver that
// never resumes is surfaced only through ctx cancellation.
func Ask(ctx context.Context, req Request) (*Response, error) {
	ex := FromContext(ctx)
	if ex == nil {
		observability.RecordControlRequest(string(req.Kind()), false)

		value, approved, err := req.resolveSync()
		if err != nil {
			return nil, err
		}

		log.Debug().
			Str("request_id", req.ID()).
			Str("kind", string(req.Kind())).
			Str("sync_behavior", string(req.SyncBehavior())).
			Msg("Control request resolved synchronously")

		return &Response{RequestID: req.ID(), Value: value, Approved: approved}, nil
	}

	select {
	case ex.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-ex.responses:
		if resp.RequestID != req.ID() {
			return nil, fmt.Errorf("control: response %s does not match outstanding request %s", resp.RequestID, req.ID())
		}
		return &resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AskInput issues a UserInput request and applies its failure
// semantics: an approving response without a value falls back to the
// default value.
func AskInput(ctx context.Context, p UserInputParams) (interface{}, error) {
	req := NewUserInput(p)

	resp, err := Ask(ctx, req)
	if err != nil {
		return nil, err
	}

	return ResolveInput(req, resp), nil
}

// Confirm issues a Confirmation request and resolves it to a plain
// decision. Denial is a normal outcome; the only error path is
// ErrConfirmationRequired on an irreversible action in synchronous mode.
func Confirm(ctx context.Context, p ConfirmationParams) (bool, error) {
	req := NewConfirmation(p)

	resp, err := Ask(ctx, req)
	if err != nil {
		return false, err
	}

	return ResolveConfirmation(resp), nil
}

// QueryAgent issues a SubAgentQuery request and returns the answer, or
// nil when skipped in synchronous mode.
func QueryAgent(ctx context.Context, p SubAgentQueryParams) (interface{}, error) {
	req := NewSubAgentQuery(p)

	resp, err := Ask(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	return resp.Value, nil
}

// UnitFunc is one unit of agent work driven over an exchange.
type UnitFunc func(ctx context.Context) (interface{}, error)

// Handler answers a yielded request on behalf of the driver.
type Handler func(req Request) Response

// Drive runs fn with this exchange attached, servicing every yielded
// request through handle, and returns fn's result once it finishes.
// This is the reference driver loop for step loops embedding the
// protocol.
func (e *Exchange) Drive(ctx context.Context, fn UnitFunc, handle Handler) (interface{}, error) {
	var (
		result interface{}
		runErr error
	)

	go func() {
		defer e.Close()
		result, runErr = fn(e.Attach(ctx))
	}()

	for {
		select {
		case req, ok := <-e.requests:
			if !ok {
				return result, runErr
			}
			if err := e.Resume(ctx, handle(req)); err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
