package orm

import (
	"github.com/entitymapper/entitymapper/entity"
	"github.com/entitymapper/entitymapper/query"
)

// Options is the recognized read-options set of §3, consumed by Save
// (ForceCreate, WriteAllFields, Fields) and the Select family (OrderBy,
// OrderMode, GroupOn, Fields, MaxRecords, Filter). IgnoreDelayed is stored
// but no operation reads it: a Select without explicit Fields lists every
// declared field, delayed fields included.
type Options struct {
	ForceCreate    bool
	OrderBy        string
	OrderMode      query.OrderMode
	GroupOn        string
	Fields         []string
	MaxRecords     int // 0 = unlimited
	IgnoreDelayed  bool
	Filter         func(entity.Data) bool
	WriteAllFields bool
}

// Option mutates an Options value under construction.
type Option func(*Options)

func ForceCreate() Option { return func(o *Options) { o.ForceCreate = true } }

func OrderBy(field string) Option {
	return func(o *Options) { o.OrderBy, o.OrderMode = field, query.Ascending }
}

func OrderDescBy(field string) Option {
	return func(o *Options) { o.OrderBy, o.OrderMode = field, query.Descending }
}

func GroupOn(field string) Option { return func(o *Options) { o.GroupOn = field } }

func WithFields(fields ...string) Option { return func(o *Options) { o.Fields = fields } }

func MaxRecords(n int) Option { return func(o *Options) { o.MaxRecords = n } }

func IgnoreDelayed() Option { return func(o *Options) { o.IgnoreDelayed = true } }

func Filter(fn func(entity.Data) bool) Option { return func(o *Options) { o.Filter = fn } }

func WriteAllFields() Option { return func(o *Options) { o.WriteAllFields = true } }

func buildOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
