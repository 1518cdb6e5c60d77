// Package lexicon implements the audited editing operations used by the
// CLI. Every operation runs as one unit of work: it either commits its
// changes together with their operation log entries, or rolls back and
// reports the failure in its Result.
package lexicon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/text/unicode/norm"

	"github.com/leapstack-labs/lexstore/pkg/backend"
	"github.com/leapstack-labs/lexstore/pkg/backends/relational"
	"github.com/leapstack-labs/lexstore/pkg/core"
	"github.com/leapstack-labs/lexstore/pkg/identity"
	"github.com/leapstack-labs/lexstore/pkg/oplog"
)

// Operation types written to the operation log.
const (
	OpCreateLemma       = "lemma_create"
	OpReclassify        = "lemma_reclassify"
	OpTranslation       = "translation_update"
	OpAddDerivativeForm = "derivative_form_create"
)

// DefaultMaxRetries bounds retries of a conflicting unit of work.
const DefaultMaxRetries = 3

// ErrLemmaNotFound is returned when no lemma carries the requested GUID.
var ErrLemmaNotFound = errors.New("lemma not found")

// Result reports the outcome of an editing operation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	GUID    string `json:"guid,omitempty"`
	ID      int64  `json:"id,omitempty"`
}

// Service runs editing operations against a session source.
type Service struct {
	src     backend.SessionSource
	ids     *identity.Manager
	source  string
	logger  *slog.Logger
	backoff func() retry.Backoff
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSource sets the source recorded on operation log entries.
func WithSource(source string) Option {
	return func(s *Service) {
		if source != "" {
			s.source = source
		}
	}
}

// WithBackoff replaces the retry policy.
func WithBackoff(fn func() retry.Backoff) Option {
	return func(s *Service) { s.backoff = fn }
}

// NewService creates a service minting sessions from src and allocating
// GUIDs with ids.
func NewService(src backend.SessionSource, ids *identity.Manager, opts ...Option) *Service {
	s := &Service{
		src:    src,
		ids:    ids,
		source: "cli",
		logger: slog.New(slog.DiscardHandler),
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(DefaultMaxRetries, retry.NewExponential(50*time.Millisecond))
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run executes fn in its own unit of work, retrying transient conflicts.
func (s *Service) run(ctx context.Context, op string, fn func(core.Session) (Result, error)) Result {
	var res Result
	attempt := 0
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempt++
		err := backend.WithSession(ctx, s.src, func(sess core.Session) error {
			var err error
			res, err = fn(sess)
			return err
		})
		if relational.IsRetryable(err) {
			s.logger.Debug("retrying conflicting unit of work",
				slog.String("op", op), slog.Int("attempt", attempt), slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		s.logger.Warn("operation failed", slog.String("op", op), slog.String("error", err.Error()))
		return Result{Success: false, Message: fmt.Sprintf("%s failed: %v", op, err)}
	}
	res.Success = true
	s.logger.Info("operation committed", slog.String("op", op), slog.String("guid", res.GUID))
	return res
}

// normalizeText trims and NFC-normalizes user supplied text.
func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// findLemma returns the lemma carrying guid.
func findLemma(ctx context.Context, sess core.Session, guid string) (*core.Lemma, error) {
	l, err := core.First[*core.Lemma](ctx, sess.Query(core.EntityLemma).FilterBy(core.Fields{"guid": guid}))
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, fmt.Errorf("%w: %s", ErrLemmaNotFound, guid)
	}
	return l, nil
}

func (s *Service) log(ctx context.Context, sess core.Session, c oplog.Change) error {
	c.Source = s.source
	_, err := oplog.LogChange(ctx, sess, c)
	return err
}
