package ledger

import "time"

// FetchStrategy selects how FetchActive retrieves subscriptions.
type FetchStrategy string

const (
	// StrategyDetail lists ids first, then retrieves every subscription with
	// price and product expanded. More requests, complete data.
	StrategyDetail FetchStrategy = "detail"
	// StrategyList reads subscriptions straight from the listing with prices
	// expanded. Products come back as ids only because of the ledger's
	// expansion depth limit: Price.Product.Name and Price.Product.Metadata
	// are always empty under this strategy.
	StrategyList FetchStrategy = "list"
)

// StripeConfig configures the Stripe-backed ledger.
type StripeConfig struct {
	SecretKey         string        `env:"STRIPE_SECRET_KEY,required,notEmpty"`
	APIURL            string        `env:"STRIPE_API_URL"` // overrides https://api.stripe.com, e.g. for stripe-mock
	Strategy          FetchStrategy `env:"LEDGER_FETCH_STRATEGY" envDefault:"detail"`
	FetchConcurrency  int           `env:"LEDGER_FETCH_CONCURRENCY" envDefault:"4"`
	PageSize          int64         `env:"LEDGER_PAGE_SIZE" envDefault:"100"`
	MaxNetworkRetries int64         `env:"STRIPE_MAX_NETWORK_RETRIES" envDefault:"2"`
	HTTPTimeout       time.Duration `env:"STRIPE_HTTP_TIMEOUT" envDefault:"30s"`
}
