package ledger

import (
	"context"
	"time"
)

// =============================================================================
// EXTERNAL PORTS - Implemented outside the engine
// =============================================================================

// Identity resolves staff and members. Missing rows are reported as
// ErrStaffNotFound / ErrMemberNotFound.
type Identity interface {
	FindActingStaff(ctx context.Context, id string) (StaffState, error)
	FindMemberState(ctx context.Context, id string) (MemberState, error)
}

// AuditSink receives one event per state change. Record must not block
// for long and has no error result: audit failures never affect a commit.
type AuditSink interface {
	Record(ctx context.Context, e AuditEvent)
}

type AuditAction string

const (
	AuditTransactionCreated  AuditAction = "transaction.created"
	AuditTransactionApproved AuditAction = "transaction.approved"
	AuditTransactionRejected AuditAction = "transaction.rejected"
	AuditSnapshotGenerated   AuditAction = "snapshot.generated"
	AuditSnapshotFinalized   AuditAction = "snapshot.finalized"
)

// AuditEvent records who changed what. Before and After are JSON-encodable
// projections of the entity.
type AuditEvent struct {
	Action   AuditAction `json:"action"`
	Entity   string      `json:"entity"`
	EntityID string      `json:"entity_id"`
	Before   any         `json:"before,omitempty"`
	After    any         `json:"after,omitempty"`
	ActorID  string      `json:"actor_id"`
	IP       string      `json:"ip,omitempty"`
	At       time.Time   `json:"at"`
}

// Settings is a read-only typed key lookup. Providers own caching.
type Settings interface {
	Int(ctx context.Context, key string, def int) int
	Bool(ctx context.Context, key string, def bool) bool
}

// NopAudit discards events.
type NopAudit struct{}

func (NopAudit) Record(context.Context, AuditEvent) {}

// StaticSettings serves fixed values; unknown keys fall back to defaults.
type StaticSettings struct {
	Ints  map[string]int
	Bools map[string]bool
}

func (s StaticSettings) Int(_ context.Context, key string, def int) int {
	if v, ok := s.Ints[key]; ok {
		return v
	}
	return def
}

func (s StaticSettings) Bool(_ context.Context, key string, def bool) bool {
	if v, ok := s.Bools[key]; ok {
		return v
	}
	return def
}

// Setting keys read by the engine.
const (
	SettingSnapshotAutoGenerate = "snapshot.auto_generate"
	SettingReportCacheTTL       = "report.cache_ttl_seconds"
)

type requestIPKey struct{}

// WithRequestIP attaches the caller's address for audit events.
func WithRequestIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, requestIPKey{}, ip)
}

// RequestIP returns the address set by WithRequestIP, if any.
func RequestIP(ctx context.Context) string {
	ip, _ := ctx.Value(requestIPKey{}).(string)
	return ip
}
