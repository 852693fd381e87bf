package editlock

import "strings"

// EntityType identifies the collection a locked record belongs to.
type EntityType string

const (
	EntityGP               EntityType = "gp"
	EntityLP               EntityType = "lp"
	EntityFund             EntityType = "fund"
	EntityPortfolioCompany EntityType = "portfolio_company"
	EntityContact          EntityType = "contact"
	EntityDeal             EntityType = "deal"
	EntityServiceProvider  EntityType = "service_provider"
)

var entityTypes = map[EntityType]struct{}{
	EntityGP:               {},
	EntityLP:               {},
	EntityFund:             {},
	EntityPortfolioCompany: {},
	EntityContact:          {},
	EntityDeal:             {},
	EntityServiceProvider:  {},
}

const maxEntityIDLength = 200

// EntityTypes returns the lockable entity types in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityGP,
		EntityLP,
		EntityFund,
		EntityPortfolioCompany,
		EntityContact,
		EntityDeal,
		EntityServiceProvider,
	}
}

func ParseEntityType(raw string) (EntityType, error) {
	value := EntityType(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := entityTypes[value]; !ok {
		return "", ErrInvalidEntityType
	}
	return value, nil
}

func (t EntityType) Valid() bool {
	_, ok := entityTypes[t]
	return ok
}

// Key names one lockable record inside one organization.
type Key struct {
	OrganizationID string
	EntityType     EntityType
	EntityID       string
}

// NewKey validates raw request values and builds a Key.
func NewKey(organizationID, entityType, entityID string) (Key, error) {
	parsed, err := ParseEntityType(entityType)
	if err != nil {
		return Key{}, err
	}
	key := Key{
		OrganizationID: strings.TrimSpace(organizationID),
		EntityType:     parsed,
		EntityID:       strings.TrimSpace(entityID),
	}
	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	return key, nil
}

func (k Key) Validate() error {
	if !k.EntityType.Valid() {
		return ErrInvalidEntityType
	}
	if k.EntityID == "" || len(k.EntityID) > maxEntityIDLength {
		return ErrInvalidEntityID
	}
	if k.OrganizationID == "" {
		return ErrUnauthenticated
	}
	return nil
}

func (k Key) String() string {
	return k.OrganizationID + "/" + string(k.EntityType) + "/" + k.EntityID
}
