package txn

import (
	"strings"
	"time"

	"BlueCarbon-Chain/internal/network"
)

// SortOrder defines how results should be ordered when listing transactions.
type SortOrder int

const (
	// SortByCreatedDesc orders transactions newest first.
	SortByCreatedDesc SortOrder = iota
	// SortByCreatedAsc orders transactions oldest first.
	SortByCreatedAsc
)

// ListOptions controls how transactions are selected when querying the store.
type ListOptions struct {
	Limit        int
	Offset       int
	Statuses     []Status
	Kinds        []Kind
	Network      network.Network
	Address      string
	TokenID      string
	CreatedSince time.Time
	Order        SortOrder
}

func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 200 {
		opts.Limit = 200
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Statuses = normalizeStatuses(opts.Statuses)
	opts.Kinds = normalizeKinds(opts.Kinds)
	if opts.Order != SortByCreatedAsc {
		opts.Order = SortByCreatedDesc
	}
	opts.Address = strings.TrimSpace(opts.Address)
	opts.TokenID = strings.TrimSpace(opts.TokenID)
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of transactions returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

// WithOffset skips the first n matching transactions.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses filters by status.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = append(opts.Statuses[:0], statuses...) }
}

// WithKinds filters by transaction kind.
func WithKinds(kinds ...Kind) ListOption {
	return func(opts *ListOptions) { opts.Kinds = append(opts.Kinds[:0], kinds...) }
}

// WithNetwork restricts results to one network.
func WithNetwork(n network.Network) ListOption {
	return func(opts *ListOptions) { opts.Network = n }
}

// WithAddress matches transactions sent from or to address.
func WithAddress(address string) ListOption {
	return func(opts *ListOptions) { opts.Address = address }
}

// WithTokenID filters by carbon credit token.
func WithTokenID(tokenID string) ListOption {
	return func(opts *ListOptions) { opts.TokenID = tokenID }
}

// WithCreatedSince keeps transactions created at or after ts.
func WithCreatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.CreatedSince = ts }
}

// WithSortOrder changes the returned order.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

// BuildListOptions applies option functions on top of defaults.
func BuildListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func (opts ListOptions) matches(tx *Transaction) bool {
	if len(opts.Statuses) > 0 && !containsStatus(opts.Statuses, tx.Status) {
		return false
	}
	if len(opts.Kinds) > 0 && !containsKind(opts.Kinds, tx.Kind) {
		return false
	}
	if opts.Network != "" && tx.Network != opts.Network {
		return false
	}
	if opts.Address != "" && tx.From != opts.Address && tx.To != opts.Address {
		return false
	}
	if opts.TokenID != "" && tx.TokenID != opts.TokenID {
		return false
	}
	if !opts.CreatedSince.IsZero() && tx.CreatedAt.Before(opts.CreatedSince) {
		return false
	}
	return true
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsKind(list []Kind, k Kind) bool {
	for _, v := range list {
		if v == k {
			return true
		}
	}
	return false
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func normalizeKinds(input []Kind) []Kind {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Kind]struct{}, len(input))
	result := make([]Kind, 0, len(input))
	for _, kind := range input {
		if !kind.Valid() {
			continue
		}
		if _, ok := seen[kind]; ok {
			continue
		}
		seen[kind] = struct{}{}
		result = append(result, kind)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
