package report

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// ErrUnknownReport is returned for a report kind outside Kinds.
var ErrUnknownReport = errors.New("unknown report kind")

// DefaultCacheTTL bounds how stale a cached report may be.
const DefaultCacheTTL = 5 * time.Minute

// Options are shared by Aggregator and Snapshots. Zero fields get defaults.
type Options struct {
	Cache    Cache
	Settings ledger.Settings
	Audit    ledger.AuditSink

	// Location defines month boundaries. Defaults to UTC.
	Location *time.Location
	CacheTTL time.Duration
	Logger   logrus.FieldLogger
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Cache == nil {
		o.Cache = NopCache{}
	}
	if o.Settings == nil {
		o.Settings = ledger.StaticSettings{}
	}
	if o.Audit == nil {
		o.Audit = ledger.NopAudit{}
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
