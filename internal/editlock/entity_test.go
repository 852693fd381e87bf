package editlock

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityType(t *testing.T) {
	cases := []struct {
		raw     string
		want    EntityType
		wantErr bool
	}{
		{raw: "deal", want: EntityDeal},
		{raw: " Portfolio_Company ", want: EntityPortfolioCompany},
		{raw: "service_provider", want: EntityServiceProvider},
		{raw: "gp", want: EntityGP},
		{raw: "widget", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "portfolio-company", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseEntityType(tc.raw)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEntityType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEntityTypesAreAllValid(t *testing.T) {
	types := EntityTypes()
	assert.Len(t, types, 7)
	for _, entityType := range types {
		assert.True(t, entityType.Valid(), string(entityType))
	}
}

func TestNewKey(t *testing.T) {
	key, err := NewKey("org-1", "deal", " d-100 ")
	require.NoError(t, err)
	assert.Equal(t, Key{OrganizationID: "org-1", EntityType: EntityDeal, EntityID: "d-100"}, key)
	assert.Equal(t, "org-1/deal/d-100", key.String())

	_, err = NewKey("org-1", "widget", "w-1")
	assert.ErrorIs(t, err, ErrInvalidEntityType)

	_, err = NewKey("org-1", "deal", "   ")
	assert.ErrorIs(t, err, ErrInvalidEntityID)

	_, err = NewKey("org-1", "deal", strings.Repeat("x", maxEntityIDLength+1))
	assert.ErrorIs(t, err, ErrInvalidEntityID)

	_, err = NewKey("", "deal", "d-100")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
