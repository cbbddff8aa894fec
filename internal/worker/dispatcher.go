package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/cronwell/internal/model"
)

// Headers identifying a scheduled invocation to the tenant's endpoint.
// The trigger marker lets tenant code distinguish cron traffic from
// ordinary requests.
const (
	HeaderJobID       = "X-Cronwell-Job-Id"
	HeaderExecutionID = "X-Cronwell-Execution-Id"
	HeaderProjectID   = "X-Cronwell-Project-Id"
	HeaderTrigger     = "X-Cronwell-Trigger"

	TriggerCron = "cron"
)

// snippetLimit bounds how much of a tenant response is read back for the
// audit record.
const snippetLimit = 4096

// Disposition classifies one dispatch attempt for the queue layer.
type Disposition int

const (
	// DispositionSuccess means the endpoint answered 2xx.
	DispositionSuccess Disposition = iota

	// DispositionRetry means the attempt failed in a way redelivery may fix:
	// non-2xx status, network error, or timeout.
	DispositionRetry

	// DispositionFail means the attempt can never succeed and retrying is
	// pointless, e.g. the invocation payload is unusable.
	DispositionFail
)

// Outcome is the explicit result of one dispatch attempt. The dispatcher
// never counts retries; the queue interprets the disposition.
type Outcome struct {
	Disposition  Disposition
	StatusCode   int
	Snippet      string
	ErrorMessage string
}

// TargetResolver looks up the live base URL of a project's active
// deployment. The lookup is external to this subsystem.
type TargetResolver interface {
	Resolve(ctx context.Context, projectID string) (string, error)
}

// TemplateResolver derives the target base URL from a printf-style pattern
// containing one %s verb for the project id.
type TemplateResolver struct {
	Pattern string
}

// Resolve implements TargetResolver.
func (r TemplateResolver) Resolve(_ context.Context, projectID string) (string, error) {
	if !strings.Contains(r.Pattern, "%s") {
		return r.Pattern, nil
	}
	return fmt.Sprintf(r.Pattern, projectID), nil
}

// Dispatcher issues the outbound HTTP call for one invocation attempt.
// It is the only component that talks to tenant endpoints.
type Dispatcher struct {
	logger   *zap.Logger
	client   *http.Client
	resolver TargetResolver
}

// NewDispatcher creates a dispatcher. The client carries no global timeout;
// each attempt is bounded by the invocation's own timeout via context
// cancellation.
func NewDispatcher(resolver TargetResolver, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logger.Named("dispatcher"),
		client:   &http.Client{},
		resolver: resolver,
	}
}

// Dispatch executes one attempt against the tenant endpoint. A hung
// response is aborted at the invocation's timeout; the attempt is then a
// retryable failure like any other non-2xx outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *model.Invocation, executionID string) Outcome {
	base, err := d.resolver.Resolve(ctx, inv.ProjectID)
	if err != nil {
		return Outcome{
			Disposition:  DispositionRetry,
			ErrorMessage: fmt.Sprintf("failed to resolve target: %v", err),
		}
	}

	timeout := time.Duration(inv.TimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimSuffix(base, "/") + inv.InvocationPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return Outcome{
			Disposition:  DispositionFail,
			ErrorMessage: fmt.Sprintf("failed to build request: %v", err),
		}
	}
	req.Header.Set(HeaderJobID, inv.JobID)
	req.Header.Set(HeaderExecutionID, executionID)
	req.Header.Set(HeaderProjectID, inv.ProjectID)
	req.Header.Set(HeaderTrigger, TriggerCron)

	d.logger.Info("Dispatching invocation",
		zap.String("job_id", inv.JobID),
		zap.String("execution_id", executionID),
		zap.String("url", url),
		zap.Duration("timeout", timeout))

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Outcome{
				Disposition:  DispositionRetry,
				ErrorMessage: fmt.Sprintf("request timed out after %s", timeout),
			}
		}
		return Outcome{
			Disposition:  DispositionRetry,
			ErrorMessage: fmt.Sprintf("request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, snippetLimit))
	if err != nil {
		body = nil
	}
	snippet := string(body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{
			Disposition:  DispositionRetry,
			StatusCode:   resp.StatusCode,
			Snippet:      snippet,
			ErrorMessage: fmt.Sprintf("endpoint returned status %d", resp.StatusCode),
		}
	}

	return Outcome{
		Disposition: DispositionSuccess,
		StatusCode:  resp.StatusCode,
		Snippet:     snippet,
	}
}
