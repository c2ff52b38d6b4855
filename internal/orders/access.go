package orders

import (
	"fmt"
)

type scope int

const (
	scopeOwner scope = iota + 1
	scopePond
	scopeAll
)

// Visibility is the row filter of one actor. Every read and every lock for
// update goes through the same value, so list, detail and mutations agree.
type Visibility struct {
	scope   scope
	ownerID int64
	pondID  int64
}

// OwnerVisibility limits rows to orders placed by ownerID.
func OwnerVisibility(ownerID int64) Visibility {
	return Visibility{scope: scopeOwner, ownerID: ownerID}
}

// VisibilityFor builds the administrative filter: admins see everything, a
// petambak sees orders holding at least one item from their pond.
func VisibilityFor(a Actor) (Visibility, error) {
	switch a.Role {
	case RoleAdmin:
		return Visibility{scope: scopeAll}, nil
	case RolePetambak:
		if a.PondID <= 0 {
			return Visibility{}, fmt.Errorf("%w: pond operator has no pond assigned", ErrForbidden)
		}
		return Visibility{scope: scopePond, pondID: a.PondID}, nil
	default:
		return Visibility{}, fmt.Errorf("%w: role %q cannot manage orders", ErrForbidden, a.Role)
	}
}

// ViewerVisibility is the filter for reading a single order: buyers read
// their own, petambak and admin use the administrative filter.
func ViewerVisibility(a Actor) (Visibility, error) {
	if a.Role == RoleBuyer {
		return OwnerVisibility(a.ID), nil
	}
	return VisibilityFor(a)
}

// PondScoped reports the pond the filter is restricted to, if any.
func (v Visibility) PondScoped() (int64, bool) {
	return v.pondID, v.scope == scopePond
}

// Allows is the in-memory twin of Predicate. Pond checks need o.Items.
func (v Visibility) Allows(o *Order) bool {
	if o == nil {
		return false
	}
	switch v.scope {
	case scopeAll:
		return true
	case scopeOwner:
		return o.OwnerID == v.ownerID
	case scopePond:
		for _, it := range o.Items {
			if it.PondID != nil && *it.PondID == v.pondID {
				return true
			}
		}
	}
	return false
}

// Predicate renders the filter against the orders alias "o". argPos is the
// placeholder number to use if the filter needs an argument.
func (v Visibility) Predicate(argPos int) (string, []any) {
	switch v.scope {
	case scopeAll:
		return "TRUE", nil
	case scopeOwner:
		return fmt.Sprintf("o.user_id = $%d", argPos), []any{v.ownerID}
	case scopePond:
		return fmt.Sprintf(`EXISTS (SELECT 1 FROM order_items vi WHERE vi.order_id = o.id AND vi.pond_id = $%d)`, argPos),
			[]any{v.pondID}
	}
	// zero value sees nothing
	return "FALSE", nil
}
