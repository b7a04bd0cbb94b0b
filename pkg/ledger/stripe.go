package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billsync/pkg/logger"
)

const (
	maxPageSize = 100

	listExpandDetail = "data.items.data.price"
	getExpandDetail  = "items.data.price.product"
)

// Stripe reads subscriptions from the Stripe API.
type Stripe struct {
	api         *client.API
	strategy    FetchStrategy
	pageSize    int64
	concurrency int
	logger      *slog.Logger
}

var _ Source = (*Stripe)(nil)

// StripeOption configures a Stripe ledger.
type StripeOption func(*stripeOptions)

type stripeOptions struct {
	logger     *slog.Logger
	httpClient *http.Client
}

// WithLogger sets the logger for skipped records and stripe-go's own output.
func WithLogger(l *slog.Logger) StripeOption {
	return func(o *stripeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHTTPClient overrides the HTTP client used by stripe-go.
func WithHTTPClient(c *http.Client) StripeOption {
	return func(o *stripeOptions) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// NewStripe builds a Stripe ledger from cfg.
func NewStripe(cfg StripeConfig, opts ...StripeOption) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}

	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyDetail
	}
	if strategy != StrategyDetail && strategy != StrategyList {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}

	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = maxPageSize
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return nil, ErrInvalidPageSize
	}

	o := &stripeOptions{logger: logger.Discard()}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		o.httpClient = &http.Client{Timeout: timeout}
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        o.httpClient,
		LeveledLogger:     stripeLogger{log: o.logger},
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}

	api := client.New(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})

	return &Stripe{
		api:         api,
		strategy:    strategy,
		pageSize:    pageSize,
		concurrency: max(cfg.FetchConcurrency, 1),
		logger:      o.logger,
	}, nil
}

// FetchActive pages through every subscription in each of statuses.
func (s *Stripe) FetchActive(ctx context.Context, statuses ...Status) (*Snapshot, error) {
	if len(statuses) == 0 {
		return nil, ErrNoStatuses
	}

	listed := make(map[string]*stripe.Subscription)
	var order []string
	for _, status := range statuses {
		err := s.list(ctx, status, func(sub *stripe.Subscription) {
			if _, dup := listed[sub.ID]; dup {
				return
			}
			listed[sub.ID] = sub
			order = append(order, sub.ID)
		})
		if err != nil {
			return nil, err
		}
	}

	snap := &Snapshot{}
	switch s.strategy {
	case StrategyList:
		for _, id := range order {
			snap.Subscriptions = append(snap.Subscriptions, fromStripe(listed[id]))
		}
	default:
		if err := s.retrieveAll(ctx, order, snap); err != nil {
			return nil, err
		}
	}

	slices.SortFunc(snap.Subscriptions, func(a, b Subscription) int { return strings.Compare(a.ID, b.ID) })
	slices.Sort(snap.Unresolved)

	s.logger.DebugContext(ctx, "fetched ledger subscriptions",
		logger.Count("listed", len(order)),
		logger.Count("retrieved", len(snap.Subscriptions)),
		logger.Count("unresolved", len(snap.Unresolved)),
	)
	return snap, nil
}

// list requests single pages of at most pageSize records, using the last id
// of each page as the cursor, until the ledger reports no more pages.
func (s *Stripe) list(ctx context.Context, status Status, fn func(*stripe.Subscription)) error {
	var cursor string
	for {
		params := &stripe.SubscriptionListParams{Status: stripe.String(string(status))}
		params.Context = ctx
		params.Limit = stripe.Int64(s.pageSize)
		params.Single = true
		if cursor != "" {
			params.StartingAfter = stripe.String(cursor)
		}
		if s.strategy == StrategyList {
			params.AddExpand(listExpandDetail)
		}

		it := s.api.Subscriptions.List(params)
		var last string
		for it.Next() {
			sub := it.Subscription()
			if sub == nil || sub.ID == "" {
				return fmt.Errorf("%w: malformed page for status %q", ErrIntegration, status)
			}
			fn(sub)
			last = sub.ID
		}
		if err := it.Err(); err != nil {
			return errors.Join(ErrIntegration, fmt.Errorf("list %s subscriptions: %w", status, err))
		}

		meta := it.Meta()
		if meta == nil || !meta.HasMore {
			return nil
		}
		if last == "" || last == cursor {
			return fmt.Errorf("%w: page for status %q reports more results without a cursor", ErrIntegration, status)
		}
		cursor = last
	}
}

// retrieveAll fetches every listed id with full expansion, bounded by the
// configured concurrency. A failed retrieval marks the id unresolved.
func (s *Stripe) retrieveAll(ctx context.Context, ids []string, snap *Snapshot) error {
	if len(ids) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		g    errgroup.Group
		gone int
	)
	g.SetLimit(s.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			sub, err := s.retrieve(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				snap.Subscriptions = append(snap.Subscriptions, fromStripe(sub))
			case isResourceMissing(err):
				gone++
				s.logger.InfoContext(ctx, "ledger subscription disappeared between list and retrieve",
					logger.SubscriptionID(id))
			default:
				snap.Unresolved = append(snap.Unresolved, id)
				s.logger.ErrorContext(ctx, "failed to retrieve ledger subscription, skipping",
					logger.SubscriptionID(id), logger.Error(errors.Join(ErrRecordFetch, err)))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return errors.Join(ErrIntegration, err)
	}
	if len(snap.Subscriptions) == 0 && len(snap.Unresolved) == len(ids)-gone && len(snap.Unresolved) > 0 {
		return fmt.Errorf("%w: all %d subscription retrievals failed", ErrIntegration, len(snap.Unresolved))
	}
	return nil
}

func (s *Stripe) retrieve(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand(getExpandDetail)
	return s.api.Subscriptions.Get(id, params)
}

func isResourceMissing(err error) bool {
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

func fromStripe(s *stripe.Subscription) Subscription {
	out := Subscription{
		ID:                 s.ID,
		Status:             Status(s.Status),
		CurrentPeriodStart: epoch(s.CurrentPeriodStart),
		CurrentPeriodEnd:   epoch(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil {
		for _, it := range s.Items.Data {
			if it == nil {
				continue
			}
			out.Items = append(out.Items, Item{ID: it.ID, Price: priceFromStripe(it.Price)})
		}
	}
	return out
}

func priceFromStripe(p *stripe.Price) *Price {
	if p == nil {
		return nil
	}
	out := &Price{
		ID:         p.ID,
		UnitAmount: p.UnitAmount,
		Currency:   string(p.Currency),
		LookupKey:  p.LookupKey,
		Nickname:   p.Nickname,
		Metadata:   p.Metadata,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	if p.Recurring != nil {
		out.Interval = string(p.Recurring.Interval)
		out.IntervalCount = p.Recurring.IntervalCount
	}
	if p.Product != nil {
		out.Product = &Product{ID: p.Product.ID, Name: p.Product.Name, Metadata: p.Product.Metadata}
	}
	return out
}

func epoch(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
