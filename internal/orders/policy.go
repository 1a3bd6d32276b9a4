package orders

import "github.com/librora/bookstore/internal/domain"

// CanView: staff see every order, everyone else only their own.
func CanView(o *domain.Order, actor domain.Identity) bool {
	return actor.IsStaff || o.UserID == actor.UserID
}

// CanMutateCart follows the same ownership rule; status gates are applied by
// the individual operations.
func CanMutateCart(o *domain.Order, actor domain.Identity) bool {
	return CanView(o, actor)
}
