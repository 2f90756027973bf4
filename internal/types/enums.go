package types

// SubscriptionStatus represents the state of a billing subscription.
// TRIAL doubles as the "no paid subscription yet" state: quota enforcement
// treats a missing Subscription row and an explicit TRIAL identically.
type SubscriptionStatus string

const (
	SubStatusTrial    SubscriptionStatus = "TRIAL"
	SubStatusActive   SubscriptionStatus = "ACTIVE"
	SubStatusCanceled SubscriptionStatus = "CANCELED"
	SubStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubStatusUnpaid   SubscriptionStatus = "UNPAID"
)

// PlanTier identifies the billing plan for a user.
type PlanTier string

const (
	PlanBasic      PlanTier = "BASIC"
	PlanPro        PlanTier = "PRO"
	PlanEnterprise PlanTier = "ENTERPRISE"
)

// PaymentProviderName identifies which payment processor owns a subscription.
type PaymentProviderName string

const (
	ProviderStripe   PaymentProviderName = "stripe"
	ProviderPayPal   PaymentProviderName = "paypal"
	ProviderRazorpay PaymentProviderName = "razorpay"
)

// MeteredResource identifies a counter in the usage ledger.
// The values double as the ledger column selector in db.UsageRepo.
type MeteredResource string

const (
	ResourceAIQueries  MeteredResource = "ai_queries"
	ResourceAlertRules MeteredResource = "alert_rules"
	ResourceCSVUploads MeteredResource = "csv_uploads"
)

// AlertCondition defines the comparison applied to a metric threshold.
type AlertCondition string

const (
	ConditionAbove  AlertCondition = "above"
	ConditionBelow  AlertCondition = "below"
	ConditionEquals AlertCondition = "equals"
)

// AlertChannel identifies a notification delivery channel for an alert rule.
type AlertChannel string

const (
	ChannelEmail AlertChannel = "email"
	ChannelSlack AlertChannel = "slack"
)

// BillingEventKind is the normalized, provider-agnostic webhook event type.
// Each provider adapter maps its native vocabulary onto these five kinds;
// anything else is accepted and ignored.
type BillingEventKind string

const (
	EventCheckoutCompleted   BillingEventKind = "checkout.completed"
	EventSubscriptionUpdated BillingEventKind = "subscription.updated"
	EventSubscriptionDeleted BillingEventKind = "subscription.deleted"
	EventPaymentSucceeded    BillingEventKind = "payment.succeeded"
	EventPaymentFailed       BillingEventKind = "payment.failed"
)

// MapProviderStatus translates a provider's subscription status vocabulary
// into the internal enum. Unrecognized strings fall back to TRIAL, which is
// the most restrictive state -- an unknown status must never grant unlimited
// quota.
func MapProviderStatus(providerStatus string) SubscriptionStatus {
	switch providerStatus {
	case "active":
		return SubStatusActive
	case "canceled", "cancelled":
		return SubStatusCanceled
	case "past_due":
		return SubStatusPastDue
	case "unpaid":
		return SubStatusUnpaid
	default:
		return SubStatusTrial
	}
}
