package erpsync

import (
	"bitbucket.org/mmdatafocus/erp_mirror/config"
	"bitbucket.org/mmdatafocus/erp_mirror/models"
	"bitbucket.org/mmdatafocus/erp_mirror/upstream"
	"gorm.io/gorm"
)

// NewServiceFromConfig wires the upstream client, the gorm mirror store, the diagnostics
// recorder and, when redis is connected, the run lock.
func NewServiceFromConfig(cfg config.UpstreamConfig, db *gorm.DB, publisher Publisher) (*Service, error) {
	client, err := upstream.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	reconciler := NewReconciler(client, models.NewMirrorStore(db), WithRecorder(NewDBRecorder(db)))

	var locker RunLocker
	if lockClient := config.GetRedisLock(); lockClient != nil {
		locker = NewRedisRunLocker(lockClient, 0)
	}
	return NewService(db, NewRunner(reconciler, locker), publisher), nil
}
