// Package service implements contact identity reconciliation: given an
// observed (email, phone) pair it finds every cluster sharing either
// identifier, collapses clusters discovered to be the same person, records the
// pair as a secondary when it adds information, and returns the consolidated
// view of the resulting cluster.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"idlink/internal/audit"
	contactmetrics "idlink/internal/contact/metrics"
	"idlink/internal/contact/models"
	"idlink/internal/platform/middleware"
	dErrors "idlink/pkg/domain-errors"
	pkgstrings "idlink/pkg/platform/strings"
)

// Store is the narrow storage surface the reconciliation algorithm needs.
// Every method operates on active (not soft-deleted) contacts only.
type Store interface {
	// FindActiveByIdentifier returns contacts whose email or phone equals the
	// corresponding submitted identifier, ordered by creation time with id as
	// tie-break. A nil identifier contributes no predicate.
	FindActiveByIdentifier(ctx context.Context, email, phone *string) ([]models.Contact, error)

	// FindPrimaries returns the active primary contacts with the given ids,
	// ordered by creation time with id as tie-break.
	FindPrimaries(ctx context.Context, ids []int64) ([]models.Contact, error)

	// FindCluster returns the contacts whose id or link equals primaryID, in
	// creation order.
	FindCluster(ctx context.Context, primaryID int64) ([]models.Contact, error)

	// Insert persists a new contact; the store assigns id and timestamps.
	Insert(ctx context.Context, contact models.NewContact) (models.Contact, error)

	// Relink demotes the contact with id absorbedID to a secondary of rootID
	// and re-points every contact linked to absorbedID directly at rootID, as
	// one atomic update. Repeating the same Relink is a no-op.
	Relink(ctx context.Context, absorbedID, rootID int64) error
}

// Service orchestrates reconciliation requests.
type Service struct {
	tx      StoreTx
	logger  *slog.Logger
	metrics *contactmetrics.Metrics
	audit   audit.Publisher
	tracer  trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *contactmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit sets the audit publisher for committed outcomes.
func WithAudit(p audit.Publisher) Option {
	return func(s *Service) { s.audit = p }
}

// New creates a reconciliation service bound to the given transactional boundary.
func New(tx StoreTx, opts ...Option) *Service {
	s := &Service{
		tx:     tx,
		audit:  audit.Noop{},
		tracer: otel.Tracer("idlink/contact"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Reconcile runs the full read-decide-write sequence for one submitted pair
// inside a single storage transaction. A transaction-layer retry re-enters the
// sequence with fresh reads, so repeating an identical request is a no-op.
func (s *Service) Reconcile(ctx context.Context, ids models.Identifiers) (*models.ConsolidatedContact, error) {
	if !ids.HasEmail() && !ids.HasPhone() {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one of email or phoneNumber is required")
	}

	ctx, span := s.tracer.Start(ctx, "contact.Reconcile")
	defer span.End()
	start := time.Now()

	var (
		view      *models.ConsolidatedContact
		outcome   string
		createdID *int64
		absorbed  []int64
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context, store Store) error {
		// Reset per-attempt state so a conflict retry starts clean.
		outcome = contactmetrics.OutcomeNoop
		createdID = nil
		absorbed = nil

		matches, err := store.FindActiveByIdentifier(ctx, ids.Email, ids.Phone)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "find matching contacts")
		}

		var finalPrimaryID int64
		switch {
		case len(matches) == 0:
			created, err := store.Insert(ctx, models.NewContact{
				Email:      ids.Email,
				Phone:      ids.Phone,
				Precedence: models.PrecedencePrimary,
			})
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "create primary contact")
			}
			finalPrimaryID = created.ID
			createdID = &created.ID
			outcome = contactmetrics.OutcomeNewPrimary

		default:
			canonical, ok := canonicalIDs(matches)
			if !ok || len(canonical) == 0 {
				return s.invariant(ctx, "matched contacts reference no canonical primary")
			}

			if len(canonical) > 1 {
				// The pair bridges independent clusters; the oldest primary
				// survives and the rest are absorbed one at a time.
				primaries, err := store.FindPrimaries(ctx, canonical)
				if err != nil {
					return dErrors.Wrap(err, dErrors.CodeInternal, "load canonical contacts")
				}
				if len(primaries) != len(canonical) {
					return s.invariant(ctx, "linked contact does not resolve to an active primary")
				}
				root := primaries[0]
				for _, p := range primaries[1:] {
					if err := store.Relink(ctx, p.ID, root.ID); err != nil {
						return dErrors.Wrap(err, dErrors.CodeInternal, "absorb cluster")
					}
					absorbed = append(absorbed, p.ID)
				}
				finalPrimaryID = root.ID
				outcome = contactmetrics.OutcomeMerged
			} else {
				finalPrimaryID = canonical[0]
				if introducesNewIdentifier(matches, ids) {
					created, err := store.Insert(ctx, models.NewContact{
						Email:      ids.Email,
						Phone:      ids.Phone,
						LinkedID:   &finalPrimaryID,
						Precedence: models.PrecedenceSecondary,
					})
					if err != nil {
						return dErrors.Wrap(err, dErrors.CodeInternal, "create secondary contact")
					}
					createdID = &created.ID
					outcome = contactmetrics.OutcomeNewSecondary
				}
			}
		}

		cluster, err := store.FindCluster(ctx, finalPrimaryID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "read consolidated cluster")
		}
		consolidated, err := s.buildConsolidated(ctx, finalPrimaryID, cluster)
		if err != nil {
			return err
		}
		view = consolidated
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("contact.outcome", outcome),
		attribute.Int64("contact.primary_id", view.PrimaryContactID),
	)
	s.metrics.RecordOutcome(outcome, time.Since(start).Seconds())
	s.metrics.RecordAbsorbed(len(absorbed))

	if outcome != contactmetrics.OutcomeNoop {
		event := audit.Event{
			RequestID:          middleware.GetRequestID(ctx),
			Outcome:            outcome,
			PrimaryContactID:   view.PrimaryContactID,
			CreatedContactID:   createdID,
			AbsorbedPrimaryIDs: absorbed,
		}
		if err := s.audit.Publish(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "audit publish failed",
				"outcome", outcome,
				"primary_contact_id", view.PrimaryContactID,
				"error", err,
			)
		}
	}
	return view, nil
}

// canonicalIDs derives the distinct canonical ids referenced by the matches,
// preserving first-occurrence order. ok is false when a secondary carries no
// link, which indicates corrupt data.
func canonicalIDs(matches []models.Contact) ([]int64, bool) {
	seen := make(map[int64]struct{}, len(matches))
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		id, ok := m.CanonicalID()
		if !ok {
			return nil, false
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, true
}

// introducesNewIdentifier reports whether the submitted pair carries an email
// or phone value absent from every match. Any active row holding either value
// is necessarily among the matches, so this also makes replays no-ops: a pair
// whose identifiers are all known creates nothing, whether it was recorded as
// one row or arrived as the bridge of an earlier merge.
func introducesNewIdentifier(matches []models.Contact, ids models.Identifiers) bool {
	emailKnown := !ids.HasEmail()
	phoneKnown := !ids.HasPhone()
	for _, m := range matches {
		if !emailKnown && m.Email != nil && *m.Email == *ids.Email {
			emailKnown = true
		}
		if !phoneKnown && m.Phone != nil && *m.Phone == *ids.Phone {
			phoneKnown = true
		}
	}
	return !emailKnown || !phoneKnown
}

// buildConsolidated assembles the response view from the re-read cluster:
// the primary's own identifiers sort first, the rest follow in creation order,
// duplicates removed while preserving first occurrence.
func (s *Service) buildConsolidated(ctx context.Context, primaryID int64, cluster []models.Contact) (*models.ConsolidatedContact, error) {
	var primary *models.Contact
	for i := range cluster {
		if cluster[i].ID == primaryID {
			primary = &cluster[i]
			break
		}
	}
	if primary == nil || primary.Precedence != models.PrecedencePrimary {
		return nil, s.invariant(ctx, "cluster has no active primary")
	}

	emails := make([]string, 0, len(cluster)+1)
	phones := make([]string, 0, len(cluster)+1)
	if primary.Email != nil {
		emails = append(emails, *primary.Email)
	}
	if primary.Phone != nil {
		phones = append(phones, *primary.Phone)
	}

	secondaryIDs := make([]int64, 0, len(cluster))
	for _, c := range cluster {
		if c.Email != nil {
			emails = append(emails, *c.Email)
		}
		if c.Phone != nil {
			phones = append(phones, *c.Phone)
		}
		if c.ID != primaryID {
			if c.Precedence != models.PrecedenceSecondary {
				return nil, s.invariant(ctx, "cluster holds more than one primary")
			}
			secondaryIDs = append(secondaryIDs, c.ID)
		}
	}

	return &models.ConsolidatedContact{
		PrimaryContactID:    primaryID,
		Emails:              pkgstrings.DedupeAndTrim(emails),
		PhoneNumbers:        pkgstrings.DedupeAndTrim(phones),
		SecondaryContactIDs: secondaryIDs,
	}, nil
}

// invariant flags data corruption. These aborts are never recovered silently;
// the transaction rolls back and the caller sees an internal error.
func (s *Service) invariant(ctx context.Context, msg string) error {
	s.metrics.RecordInvariantViolation()
	s.logger.ErrorContext(ctx, "cluster invariant violated", "detail", msg)
	return dErrors.New(dErrors.CodeInternal, msg)
}
