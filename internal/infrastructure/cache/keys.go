package cache

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Key layout:
//
//	{prefix}:{tenant}:{entity}:{id}      single entity
//	{prefix}:{tenant}:{entity}:q:{hash}  query result
//
// The tenant segment comes first after the prefix so a whole tenant's
// entries match one pattern; the q: segment separates query keys so entity
// mutations can drop every cached list without touching entity keys.

// KeyBuilder builds tenant-namespaced cache keys
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder creates a KeyBuilder with the given key prefix
func NewKeyBuilder(prefix string) *KeyBuilder {
	if prefix == "" {
		prefix = "lexcore"
	}
	return &KeyBuilder{prefix: prefix}
}

// EntityKey returns the key for a single entity
func (b *KeyBuilder) EntityKey(tenantID uuid.UUID, entity string, id uuid.UUID) string {
	return fmt.Sprintf("%s:%s:%s:%s", b.prefix, tenantID, entity, id)
}

// QueryKey returns the key for a query result. Parameters hash
// deterministically: the same logical query yields the same key regardless
// of map iteration order.
func (b *KeyBuilder) QueryKey(tenantID uuid.UUID, entity string, params map[string]string) string {
	return fmt.Sprintf("%s:%s:%s:q:%s", b.prefix, tenantID, entity, hashParams(params))
}

// QueryPattern matches all of a tenant's query keys for an entity
func (b *KeyBuilder) QueryPattern(tenantID uuid.UUID, entity string) string {
	return fmt.Sprintf("%s:%s:%s:q:*", b.prefix, tenantID, entity)
}

// EntityPattern matches all of a tenant's keys for an entity, queries included
func (b *KeyBuilder) EntityPattern(tenantID uuid.UUID, entity string) string {
	return fmt.Sprintf("%s:%s:%s:*", b.prefix, tenantID, entity)
}

// TenantPattern matches every key of one tenant. Used when a consultant
// session ends and its cached view must be purged.
func (b *KeyBuilder) TenantPattern(tenantID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:*", b.prefix, tenantID)
}

// EntityTag returns the tag under which an entity's query keys register
func (b *KeyBuilder) EntityTag(tenantID uuid.UUID, entity string) string {
	return fmt.Sprintf("%s:tag:%s:%s", b.prefix, tenantID, entity)
}

// hashParams produces a stable hash of query parameters
func hashParams(params map[string]string) string {
	if len(params) == 0 {
		return "all"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
		sb.WriteByte('&')
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(sb.String()))
	return fmt.Sprintf("%016x", h.Sum64())
}
