package config

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/erp_mirror/appctx"
	"gorm.io/gorm"
)

// ErrMirrorDeleteBlocked is returned for DELETE statements against mirror tables.
var ErrMirrorDeleteBlocked = errors.New("mirror records are never physically deleted")

// MirrorGuardPlugin rejects deletes on any model carrying a last_sync_at column.
// Upstream is authoritative; soft-delete detection is not done here either.
//
// NOTE:
// - This does NOT apply to Raw SQL. Maintenance scripts must opt out via context.
type MirrorGuardPlugin struct{}

func NewMirrorGuardPlugin() *MirrorGuardPlugin { return &MirrorGuardPlugin{} }

func (p *MirrorGuardPlugin) Name() string { return "mirror_guard" }

func (p *MirrorGuardPlugin) Initialize(db *gorm.DB) error {
	return db.Callback().Delete().Before("gorm:delete").Register("mirror_guard:delete", mirrorGuardCallback)
}

func mirrorGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil || db.Statement.Schema == nil {
		return
	}
	if allowMirrorDelete(db.Statement.Context) {
		return
	}
	if db.Statement.Schema.LookUpField("last_sync_at") == nil {
		return
	}
	_ = db.AddError(ErrMirrorDeleteBlocked)
}

func allowMirrorDelete(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := appctx.GetBool(ctx, appctx.ContextKeyAllowMirrorDelete)
	return ok && v
}
