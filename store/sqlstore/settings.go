package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/Yogihafidh/Koperasi-ksp-backend-sub000/ledger"
)

// =============================================================================
// SETTINGS - Typed lookups over the settings table
// =============================================================================

// DefaultSettingsTTL is how long a value read from the table is reused.
const DefaultSettingsTTL = 60 * time.Second

// Settings implements ledger.Settings. Values are cached per key for the
// TTL; Set updates the cache immediately in this process only.
//
// Lookups never fail: a missing key, an unparsable value, or a database
// error yields the caller's default.
type Settings struct {
	store *Store
	ttl   time.Duration
	log   logrus.FieldLogger
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSetting
}

type cachedSetting struct {
	value   string
	present bool
	expires time.Time
}

var _ ledger.Settings = (*Settings)(nil)

func NewSettings(store *Store, ttl time.Duration, log logrus.FieldLogger) *Settings {
	if ttl <= 0 {
		ttl = DefaultSettingsTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Settings{
		store: store,
		ttl:   ttl,
		log:   log,
		now:   time.Now,
		cache: make(map[string]cachedSetting),
	}
}

func (s *Settings) Int(ctx context.Context, key string, def int) int {
	raw, ok := s.lookup(ctx, key)
	if !ok {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		s.log.WithFields(logrus.Fields{"key": key, "value": raw}).Warn("setting is not an integer")
		return def
	}
	return v
}

func (s *Settings) Bool(ctx context.Context, key string, def bool) bool {
	raw, ok := s.lookup(ctx, key)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		s.log.WithFields(logrus.Fields{"key": key, "value": raw}).Warn("setting is not a boolean")
		return def
	}
	return v
}

// Set upserts a value.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	now := s.now()
	if _, err := s.store.db.ExecContext(ctx, s.store.dialect.upsertSetting, key, value, utc(now)); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[key] = cachedSetting{value: value, present: true, expires: now.Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

func (s *Settings) lookup(ctx context.Context, key string) (string, bool) {
	now := s.now()
	s.mu.Lock()
	c, ok := s.cache[key]
	s.mu.Unlock()
	if ok && now.Before(c.expires) {
		return c.value, c.present
	}

	var value string
	err := sqlx.GetContext(ctx, s.store.db, &value, `SELECT setting_value FROM settings WHERE setting_key = ?`, key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		c = cachedSetting{expires: now.Add(s.ttl)}
	case err != nil:
		s.log.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("setting lookup failed")
		return "", false
	default:
		c = cachedSetting{value: value, present: true, expires: now.Add(s.ttl)}
	}

	s.mu.Lock()
	s.cache[key] = c
	s.mu.Unlock()
	return c.value, c.present
}
