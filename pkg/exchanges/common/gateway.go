package common

import "context"

// Gateway abstracts a broker.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	// CancelOrder reports false with a nil error when the order was already terminal.
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	OrderStatus(ctx context.Context, orderID string) (OrderState, error)
}
