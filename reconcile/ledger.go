package reconcile

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var ErrFixInProgress = errors.New("fix in progress")

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// DBFixLedger is the gorm-backed FixLedger. One row per fix attempt, keyed
// by (tenant_id, handler_name, message_id); the unique index is the lock.
type DBFixLedger struct {
	db *gorm.DB
}

func NewDBFixLedger(db *gorm.DB) *DBFixLedger {
	return &DBFixLedger{db: db}
}

// Begin inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func (l *DBFixLedger) Begin(tenantId, handlerName, messageId string) (skip bool, err error) {
	key := models.IdempotencyKey{
		TenantId:    tenantId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := l.db.Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := l.db.Where("tenant_id = ? AND handler_name = ? AND message_id = ?", tenantId, handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return true, nil
	case models.IdempotencyStatusStarted:
		// Another worker currently holds this fix. If the row is stale the
		// holder died mid-flight; reclaim it by setting STARTED again.
		if time.Since(existing.UpdatedAt) < 5*time.Minute {
			return false, ErrFixInProgress
		}
		return false, l.restart(existing.ID)
	default:
		return false, l.restart(existing.ID)
	}
}

func (l *DBFixLedger) restart(id int) error {
	return l.db.Model(&models.IdempotencyKey{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
}

func (l *DBFixLedger) Succeeded(tenantId, handlerName, messageId string) error {
	return l.db.Model(&models.IdempotencyKey{}).
		Where("tenant_id = ? AND handler_name = ? AND message_id = ?", tenantId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func (l *DBFixLedger) Failed(tenantId, handlerName, messageId string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return l.db.Model(&models.IdempotencyKey{}).
		Where("tenant_id = ? AND handler_name = ? AND message_id = ?", tenantId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}
