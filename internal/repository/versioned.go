package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrStaleVersion means the row changed since it was read.
var ErrStaleVersion = errors.New("repository: stale version")

// versionedUpdate writes fields only if the stored version still equals
// *version, then advances *version to the value written.
func versionedUpdate(db *gorm.DB, model interface{}, id uuid.UUID, version *int64, fields map[string]interface{}) error {
	next := *version + 1
	fields["version"] = next
	fields["updated_at"] = time.Now().UTC()

	res := db.Model(model).Where("id = ? AND version = ?", id, *version).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	*version = next
	return nil
}
