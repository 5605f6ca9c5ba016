package migrations

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Migrate brings the dispatcher_states schema up to date inside one transaction.
func Migrate(db *gorm.DB) error {
	opts := *gormigrate.DefaultOptions
	opts.TableName = "dispatcher_migrations"
	opts.UseTransaction = true

	m := gormigrate.New(db, &opts, []*gormigrate.Migration{
		createDispatcherStatesTable(),
	})
	if err := m.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate dispatcher schema: %w", err)
	}
	return nil
}
