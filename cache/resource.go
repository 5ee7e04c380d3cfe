package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

type ResourceType string

const (
	ResourceCategories  ResourceType = "categories"
	ResourceProducts    ResourceType = "products"
	ResourceSuppliers   ResourceType = "suppliers"
	ResourceUserProfile ResourceType = "user_profile"
	ResourceSchema      ResourceType = "schema"
	ResourcePermissions ResourceType = "permissions"
)

// Identifiers shared by every resource type.
const (
	IdentifierAll     = "all"
	IdentifierCurrent = "current"
	// Wildcard passed to Invalidate drops every entry of the resource type.
	Wildcard = "*"
)

var resourceTTLs = map[ResourceType]time.Duration{
	ResourceCategories:  3600 * time.Second,
	ResourceProducts:    1800 * time.Second,
	ResourceSuppliers:   7200 * time.Second,
	ResourceUserProfile: 900 * time.Second,
	ResourceSchema:      86400 * time.Second,
	ResourcePermissions: 1800 * time.Second,
}

// dependentResources lists namespaces whose cached values embed another
// resource. Category listings embed their products.
var dependentResources = map[ResourceType][]ResourceType{
	ResourceProducts: {ResourceCategories},
}

func (r ResourceType) TTL() time.Duration {
	return resourceTTLs[r]
}

func (r ResourceType) Valid() bool {
	_, ok := resourceTTLs[r]
	return ok
}

func ParseResourceType(s string) (ResourceType, error) {
	r := ResourceType(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown cache resource type %q", s)
	}
	return r, nil
}

func ResourceTypes() []ResourceType {
	return []ResourceType{ResourceCategories, ResourceProducts, ResourceSuppliers, ResourceUserProfile, ResourceSchema, ResourcePermissions}
}

func ID(id int) string {
	return strconv.Itoa(id)
}

// FilterIdentifier derives a stable identifier from a filter set. Equal
// filters give equal identifiers; json.Marshal sorts map keys and keeps
// struct field order, so the encoding is canonical for both.
func FilterIdentifier(filters any) (string, error) {
	raw, err := json.Marshal(filters)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("f-%016x", xxhash.Sum64(raw)), nil
}
