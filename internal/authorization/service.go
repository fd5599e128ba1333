// Package authorization enforces role checks for privileged billing
// operations.
package authorization

import "context"

// Objects guarded by policies.
const (
	ObjectProductionLine = "production_line"
	ObjectRateCard       = "rate_card"
	ObjectInvoiceBatch   = "invoice_batch"
)

// Actions guarded by policies.
const (
	ActionLineTransition   = "transition"
	ActionLineOverrideRate = "override_rate"
	ActionLineReject       = "reject"
	ActionRateCardCreate   = "create"
	ActionRateCardVersion  = "create_version"
	ActionBatchCreate      = "create"
	ActionBatchUpdate      = "update"
	ActionBatchSubmit      = "submit"
	ActionBatchPayment     = "record_payment"
	ActionBatchDispute     = "dispute"
)

// Known roles resolved by the upstream identity provider.
const (
	RoleBillingAdmin = "billing_admin"
	RoleBillingUser  = "billing_user"
)

// Service answers whether the acting role may perform an action on an object.
type Service interface {
	Authorize(ctx context.Context, role string, object string, action string) error
}
