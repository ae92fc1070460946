package payments

import "errors"

var (
	// ErrTransactionNotFound indicates no transaction matches the reference.
	ErrTransactionNotFound = errors.New("payments: transaction not found")
	// ErrTransactionImmutable indicates a completed transaction was asked to change.
	ErrTransactionImmutable = errors.New("payments: completed transaction is immutable")
	// ErrInvalidTransactionState indicates a transition outside pending -> completed|failed.
	ErrInvalidTransactionState = errors.New("payments: invalid transaction state")
	// ErrProviderMismatch indicates an event from a provider that does not own the transaction.
	ErrProviderMismatch = errors.New("payments: provider does not match transaction")
	// ErrUnsupportedProvider indicates an unknown payment provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrNotPurchasable indicates the tier cannot be bought.
	ErrNotPurchasable = errors.New("payments: tier is not purchasable")
	// ErrProvisioningFailed indicates the payment completed but no subscription was created.
	ErrProvisioningFailed = errors.New("payments: provisioning failed")
	// ErrInvalidSignature indicates a webhook signature did not verify.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrMalformedEvent indicates a webhook payload could not be interpreted.
	ErrMalformedEvent = errors.New("payments: malformed webhook event")
)
