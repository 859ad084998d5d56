package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/print-slicer/backend/internal/models"
)

// Endpoint is one completion target. URL may contain {prefix} and {cart}.
type Endpoint struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ErrNoEndpoint is returned when no completion endpoint accepted the signal.
var ErrNoEndpoint = errors.New("no completion endpoint accepted the signal")

// CompletionNotifier posts the batch report to the first endpoint that
// accepts it.
type CompletionNotifier struct {
	endpoints     []Endpoint
	cartEndpoints []Endpoint
	client        *http.Client
	logger        *zap.Logger
}

// NewCompletionNotifier creates a notifier. cartEndpoints are used for
// batches that carry a cart id.
func NewCompletionNotifier(endpoints, cartEndpoints []Endpoint, client *http.Client, logger *zap.Logger) *CompletionNotifier {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionNotifier{
		endpoints:     endpoints,
		cartEndpoints: cartEndpoints,
		client:        client,
		logger:        logger.With(zap.String("component", "completion")),
	}
}

// Complete tries each endpoint in order and returns the name of the one that
// succeeded. Later endpoints are only tried when earlier ones fail.
func (n *CompletionNotifier) Complete(ctx context.Context, report models.BatchReport) (string, error) {
	targets := n.endpoints
	if report.CartID != "" && len(n.cartEndpoints) > 0 {
		targets = n.cartEndpoints
	}
	if len(targets) == 0 {
		return "", nil
	}

	body, err := json.Marshal(report)
	if err != nil {
		return "", err
	}

	var errs []error
	for _, ep := range targets {
		target := expand(ep.URL, report.Prefix, report.CartID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		if err := post(n.client, req, ep.Name); err != nil {
			n.logger.Warn("completion endpoint failed",
				zap.String("endpoint", ep.Name),
				zap.String("batch_id", report.BatchID),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		n.logger.Info("completion signal sent",
			zap.String("endpoint", ep.Name),
			zap.String("prefix", report.Prefix))
		return ep.Name, nil
	}
	return "", errors.Join(append([]error{ErrNoEndpoint}, errs...)...)
}

func expand(tmpl, prefix, cart string) string {
	r := strings.NewReplacer(
		"{prefix}", url.PathEscape(prefix),
		"{cart}", url.PathEscape(cart),
	)
	return r.Replace(tmpl)
}
