package orders

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestVisibilityFor(t *testing.T) {
	v, err := VisibilityFor(Actor{ID: 1, Role: RoleAdmin})
	require.NoError(t, err)
	pred, args := v.Predicate(1)
	assert.Equal(t, "TRUE", pred)
	assert.Empty(t, args)

	v, err = VisibilityFor(Actor{ID: 5, Role: RolePetambak, PondID: 7})
	require.NoError(t, err)
	pred, args = v.Predicate(2)
	assert.Contains(t, pred, "vi.pond_id = $2")
	assert.Equal(t, []any{int64(7)}, args)
	pond, scoped := v.PondScoped()
	assert.True(t, scoped)
	assert.Equal(t, int64(7), pond)

	_, err = VisibilityFor(Actor{ID: 5, Role: RolePetambak})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = VisibilityFor(Actor{ID: 9, Role: RoleBuyer})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = VisibilityFor(Actor{ID: 9, Role: "supplier"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestViewerVisibility(t *testing.T) {
	v, err := ViewerVisibility(Actor{ID: 9, Role: RoleBuyer})
	require.NoError(t, err)
	pred, args := v.Predicate(2)
	assert.Equal(t, "o.user_id = $2", pred)
	assert.Equal(t, []any{int64(9)}, args)

	_, err = ViewerVisibility(Actor{ID: 5, Role: RolePetambak})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestVisibilityAllows(t *testing.T) {
	pondOrder := &Order{OwnerID: 9, Items: []OrderItem{{PondID: ptr(int64(3))}, {PondID: nil}}}

	assert.True(t, OwnerVisibility(9).Allows(pondOrder))
	assert.False(t, OwnerVisibility(10).Allows(pondOrder))
	assert.True(t, Visibility{scope: scopePond, pondID: 3}.Allows(pondOrder))
	assert.False(t, Visibility{scope: scopePond, pondID: 4}.Allows(pondOrder))
	assert.True(t, Visibility{scope: scopeAll}.Allows(pondOrder))
	assert.False(t, Visibility{}.Allows(pondOrder))
	assert.False(t, OwnerVisibility(9).Allows(nil))

	pred, _ := Visibility{}.Predicate(1)
	assert.Equal(t, "FALSE", pred)
}
