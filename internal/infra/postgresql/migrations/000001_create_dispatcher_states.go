package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/webhook-dispatcher/internal/repository"
	"gorm.io/gorm"
)

func createDispatcherStatesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_dispatcher_states",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DispatcherStateModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_dispatcher_states_status ON dispatcher_states ((value->>'status')) WHERE key = 'state'`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DispatcherStateModel{})
		},
	}
}
