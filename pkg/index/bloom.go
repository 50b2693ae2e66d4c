package index

import (
	"context"

	"github.com/pkg/errors"
	"github.com/willf/bloom"
)

// FilteredOpener puts a shared bloom filter in front of another opener. The
// filter is built once and only read afterwards. A filter hit is confirmed
// against the inner handle, so lookups stay exact.
type FilteredOpener struct {
	inner  Opener
	filter *bloom.BloomFilter
	size   uint
}

// NewFilteredOpener opens one inner handle, loads every address into a
// filter sized for falsePositive, and closes the handle again.
func NewFilteredOpener(ctx context.Context, inner Opener, falsePositive float64) (*FilteredOpener, error) {
	h, err := inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	enum, ok := h.(Enumerator)
	if !ok {
		return nil, errors.Errorf("%s cannot enumerate its addresses", inner.Describe())
	}

	n, err := enum.Count()
	if err != nil {
		return nil, errors.Wrap(err, "size bloom filter")
	}
	filter := bloom.NewWithEstimates(max(n, 1), falsePositive)
	if err := enum.Each(func(address string) error {
		filter.Add([]byte(address))
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "fill bloom filter")
	}

	return &FilteredOpener{inner: inner, filter: filter, size: n}, nil
}

// Size returns how many addresses were loaded into the filter
func (o *FilteredOpener) Size() uint {
	return o.size
}

// Describe names the inner source
func (o *FilteredOpener) Describe() string {
	return o.inner.Describe() + "+bloom"
}

// Open returns an inner handle wrapped by the shared filter
func (o *FilteredOpener) Open(ctx context.Context) (Index, error) {
	h, err := o.inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &filteredIndex{filter: o.filter, inner: h}, nil
}

type filteredIndex struct {
	filter *bloom.BloomFilter
	inner  Index
}

func (f *filteredIndex) Contains(address string) (bool, error) {
	if !f.filter.Test([]byte(address)) {
		return false, nil
	}
	return f.inner.Contains(address)
}

func (f *filteredIndex) Close() error {
	return f.inner.Close()
}
