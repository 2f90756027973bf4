package types

import (
	"time"
)

// User represents a dashboard account, keyed by email.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Name         string    `json:"name,omitempty" db:"name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Subscription is the single billing record for a user. A user has at most
// one; its absence or status TRIAL both mean pilot mode for quota purposes.
type Subscription struct {
	ID                     string              `json:"id" db:"id"`
	UserID                 string              `json:"user_id" db:"user_id"`
	Provider               PaymentProviderName `json:"provider" db:"provider"`
	ProviderCustomerID     string              `json:"-" db:"provider_customer_id"`
	ProviderSubscriptionID string              `json:"-" db:"provider_subscription_id"`
	Status                 SubscriptionStatus  `json:"status" db:"status"`
	Plan                   PlanTier            `json:"plan" db:"plan"`
	CurrentPeriodStart     time.Time           `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd       time.Time           `json:"current_period_end" db:"current_period_end"`
	CancelAtPeriodEnd      bool                `json:"cancel_at_period_end" db:"cancel_at_period_end"`
	CreatedAt              time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at" db:"updated_at"`
}

// UsageTracking is the per-user usage ledger: metered-action counters since
// the last reset. Counts are monotonically non-decreasing between resets.
type UsageTracking struct {
	UserID            string    `json:"user_id" db:"user_id"`
	AIQueriesUsed     int       `json:"ai_queries_used" db:"ai_queries_used"`
	AlertRulesCreated int       `json:"alert_rules_created" db:"alert_rules_created"`
	CSVFilesUploaded  int       `json:"csv_files_uploaded" db:"csv_files_uploaded"`
	LastResetDate     time.Time `json:"last_reset_date" db:"last_reset_date"`
}

// Counter returns the ledger value for the given metered resource.
func (u UsageTracking) Counter(resource MeteredResource) int {
	switch resource {
	case ResourceAIQueries:
		return u.AIQueriesUsed
	case ResourceAlertRules:
		return u.AlertRulesCreated
	case ResourceCSVUploads:
		return u.CSVFilesUploaded
	default:
		return 0
	}
}

// AlertRule is a stored alerting configuration. Rules are created via the API
// subject to quota; no evaluation engine consumes them in the current scope.
type AlertRule struct {
	ID         string         `json:"id" db:"id"`
	UserID     string         `json:"user_id" db:"user_id"`
	Name       string         `json:"name" db:"name"`
	Metric     string         `json:"metric" db:"metric"`
	Threshold  float64        `json:"threshold" db:"threshold"`
	Condition  AlertCondition `json:"condition" db:"condition"`
	Channel    AlertChannel   `json:"channel" db:"channel"`
	Recipients []string       `json:"recipients" db:"recipients"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// CsvUpload records the metadata of an accepted CSV upload. The file contents
// are not parsed or stored; only the metadata row is kept.
type CsvUpload struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	FileName  string    `json:"file_name" db:"file_name"`
	FileSize  int64     `json:"file_size" db:"file_size"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Session represents an authenticated dashboard session, carried by cookie.
type Session struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	UserAgent      string    `json:"user_agent" db:"user_agent"`
	IPAddress      string    `json:"ip_address" db:"ip_address"`
	ExpiresAt      time.Time `json:"expires_at" db:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at" db:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// BillingEvent is the normalized webhook event shared by all three payment
// providers. Adapters translate native payloads into this shape so the state
// machine in internal/billing stays provider-agnostic.
type BillingEvent struct {
	ID       string              `json:"id"`
	Provider PaymentProviderName `json:"provider"`
	Kind     BillingEventKind    `json:"kind"`

	// Checkout metadata. Both UserID and Plan are required for
	// checkout.completed; the event is a logged no-op otherwise.
	UserID string   `json:"user_id,omitempty"`
	Plan   PlanTier `json:"plan,omitempty"`

	// Subscription-scoped fields.
	ProviderSubscriptionID string `json:"provider_subscription_id,omitempty"`
	ProviderStatus         string `json:"provider_status,omitempty"`
	CancelAtPeriodEnd      bool   `json:"cancel_at_period_end,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// UsageSnapshot is the server-authoritative usage view returned alongside
// metered responses so the client mirror can reconcile instead of trusting
// its local accumulation.
type UsageSnapshot struct {
	AIQueriesUsed      int  `json:"ai_queries_used"`
	AIQueriesRemaining int  `json:"ai_queries_remaining"`
	AlertRulesCreated  int  `json:"alert_rules_created"`
	CSVFilesUploaded   int  `json:"csv_files_uploaded"`
	PilotMode          bool `json:"pilot_mode"`
}

// CheckoutSession is the normalized result of a provider checkout/subscribe
// call: whichever of the fields the provider populates, the route returns.
type CheckoutSession struct {
	Provider       PaymentProviderName `json:"provider"`
	SessionURL     string              `json:"session_url,omitempty"`
	SubscriptionID string              `json:"subscription_id,omitempty"`
	ApprovalURL    string              `json:"approval_url,omitempty"`
	OrderID        string              `json:"order_id,omitempty"`
	Amount         int64               `json:"amount,omitempty"`
	Currency       string              `json:"currency,omitempty"`
}

// SendInput defines the contract for email transmission.
type SendInput struct {
	To           string
	From         SenderIdentity
	TemplateID   string
	TemplateData map[string]interface{}
	ReferenceID  string
}

// SenderIdentity defines the sender for outgoing emails.
type SenderIdentity struct {
	Name    string
	Address string
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }
