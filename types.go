package adclient

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// SearchScope defines how far below the base DN a search descends.
type SearchScope int

const (
	ScopeBase SearchScope = iota
	ScopeOneLevel
	ScopeSubtree
)

// String returns the scope's wire-protocol name.
func (s SearchScope) String() string {
	switch s {
	case ScopeBase:
		return "base"
	case ScopeOneLevel:
		return "onelevel"
	case ScopeSubtree:
		return "subtree"
	default:
		return "unknown"
	}
}

// ldapScope maps the scope to go-ldap's search scope constants.
func (s SearchScope) ldapScope() int {
	switch s {
	case ScopeBase:
		return ldap.ScopeBaseObject
	case ScopeOneLevel:
		return ldap.ScopeSingleLevel
	default:
		return ldap.ScopeWholeSubtree
	}
}

// Directory object classes used by filter construction.
const (
	ObjectClassUser  = "user"
	ObjectClassGroup = "group"
)

// SearchSpec describes a single directory search. It is a value object:
// construct it, hand it to StreamSearch or CachedSearch, and do not mutate
// it afterwards.
type SearchSpec struct {
	BaseDN     string
	Scope      SearchScope
	Filter     string
	Attributes []string
	PageSize   uint32 // zero means the client's configured default
}

// signature returns the normalized cache key for the search: base DN, scope,
// filter and page size, case-folded. Attribute selection does not
// participate in the key; cached call sites use a fixed attribute set per
// query shape, and callers that vary attributes should bypass the cache.
func (s SearchSpec) signature() string {
	return strings.ToLower(fmt.Sprintf("%s|%s|%s|%d", s.BaseDN, s.Scope, s.Filter, s.PageSize))
}

// ResultPage is one page of a paged search: the decoded records plus the
// server's continuation cookie. An empty cookie marks the final page.
type ResultPage struct {
	Records []DirectoryRecord
	Cookie  []byte
}

// BatchSpec describes a bulk identifier resolution: which identifiers to
// resolve, the attribute they match against, the object-class constraint,
// and the attributes to fetch for each resolved record.
type BatchSpec struct {
	Identifiers []string
	ObjectClass string   // ObjectClassUser, ObjectClassGroup, or empty for any
	Attribute   string   // match attribute; defaults to "distinguishedName"
	Attributes  []string // attributes to fetch
	BaseDN      string   // defaults to the client's configured base DN
}

// BatchResult is the merged outcome of a batch resolution. Records from
// failed batches are absent; FailedBatches counts them so partial failures
// are visible rather than silently conflated with "not found".
type BatchResult struct {
	Records       []DirectoryRecord
	FailedBatches int
}
