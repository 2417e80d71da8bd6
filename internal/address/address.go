// Package address maps logical identifiers to collections and rows.
//
// Identifiers have two shapes:
//
//	<authority>/<collection>       every row of a collection
//	<authority>/<item>/<key>       the single row whose _id equals key
//
// A leading "content://" is accepted and dropped, so the canonical form of an
// identifier never carries a scheme. Resolvers are bound to one layout and
// only recognize that layout's collections.
package address

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/netstat/internal/contract"
)

// Kind distinguishes collection identifiers from item identifiers.
type Kind int

const (
	// KindCollection matches every row of a collection.
	KindCollection Kind = iota + 1
	// KindItem matches exactly one row by primary key.
	KindItem
)

// String returns "collection" or "item".
func (k Kind) String() string {
	switch k {
	case KindCollection:
		return "collection"
	case KindItem:
		return "item"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Address is a resolved identifier.
type Address struct {
	Kind       Kind
	Collection *contract.Collection
	// Key is the primary key of an item address; zero for collections.
	Key int64
}

// CollectionAddress returns the address of the whole collection.
func CollectionAddress(c *contract.Collection) Address {
	return Address{Kind: KindCollection, Collection: c}
}

// ItemAddress returns the address of one row of c.
func ItemAddress(c *contract.Collection, key int64) Address {
	return Address{Kind: KindItem, Collection: c, Key: key}
}

// String returns the canonical identifier.
func (a Address) String() string {
	if a.Collection == nil {
		return ""
	}
	if a.Kind == KindItem {
		return contract.Authority + "/" + a.Collection.Item + "/" + strconv.FormatInt(a.Key, 10)
	}
	return contract.Authority + "/" + a.Collection.Name
}

// Parent returns the owning collection address. A collection is its own parent.
func (a Address) Parent() Address {
	return CollectionAddress(a.Collection)
}

// IsItem reports whether a addresses a single row.
func (a Address) IsItem() bool {
	return a.Kind == KindItem
}

// TypeTag returns the content type of the address.
func (a Address) TypeTag() string {
	if a.Kind == KindItem {
		return a.Collection.ItemType()
	}
	return a.Collection.DirType()
}

// UnsupportedAddressError reports an identifier the resolver does not
// recognize. It indicates a caller bug and must not be retried.
type UnsupportedAddressError struct {
	Identifier string
	Reason     string
}

func (e *UnsupportedAddressError) Error() string {
	return fmt.Sprintf("unsupported address %q: %s", e.Identifier, e.Reason)
}

// Resolver resolves identifiers for one layout.
// A Resolver is immutable and safe for concurrent use.
type Resolver struct {
	layout      contract.Layout
	collections map[string]*contract.Collection
	items       map[string]*contract.Collection
}

// NewResolver returns a resolver for the collections of layout.
func NewResolver(layout contract.Layout) *Resolver {
	r := &Resolver{
		layout:      layout,
		collections: make(map[string]*contract.Collection),
		items:       make(map[string]*contract.Collection),
	}
	for _, c := range layout.Collections() {
		r.collections[c.Name] = c
		r.items[c.Item] = c
	}
	return r
}

// Layout returns the layout the resolver serves.
func (r *Resolver) Layout() contract.Layout {
	return r.layout
}

// Collections returns the collections the resolver recognizes.
func (r *Resolver) Collections() []*contract.Collection {
	return r.layout.Collections()
}

// Resolve parses identifier into an Address.
func (r *Resolver) Resolve(identifier string) (Address, error) {
	unsupported := func(reason string) (Address, error) {
		return Address{}, &UnsupportedAddressError{Identifier: identifier, Reason: reason}
	}

	path := strings.TrimPrefix(identifier, contract.Scheme)
	authority, rest, ok := strings.Cut(path, "/")
	if !ok || authority != contract.Authority {
		return unsupported("unknown authority")
	}

	segments := strings.Split(rest, "/")
	switch len(segments) {
	case 1:
		c, ok := r.collections[segments[0]]
		if !ok {
			return unsupported("unknown collection")
		}
		return CollectionAddress(c), nil
	case 2:
		c, ok := r.items[segments[0]]
		if !ok {
			return unsupported("unknown item type")
		}
		key, ok := parseKey(segments[1])
		if !ok {
			return unsupported("item key is not a canonical non-negative integer")
		}
		return ItemAddress(c, key), nil
	default:
		return unsupported("too many path segments")
	}
}

// parseKey accepts decimal digits without sign or leading zeros, so every
// row has exactly one item identifier.
func parseKey(s string) (int64, bool) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	key, err := strconv.ParseInt(s, 10, 64)
	return key, err == nil
}

// TypeOf returns the type tag of identifier.
func (r *Resolver) TypeOf(identifier string) (string, error) {
	addr, err := r.Resolve(identifier)
	if err != nil {
		return "", err
	}
	return addr.TypeTag(), nil
}

// ParentOf returns the canonical identifier of the collection owning
// identifier. It reports false for identifiers the resolver does not know.
func (r *Resolver) ParentOf(identifier string) (string, bool) {
	addr, err := r.Resolve(identifier)
	if err != nil {
		return "", false
	}
	return addr.Parent().String(), true
}
