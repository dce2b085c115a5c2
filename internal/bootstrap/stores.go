package bootstrap

import (
	"fmt"
	"os"

	"github.com/eleven-am/scribe-backend/internal/lease"
	"github.com/eleven-am/scribe-backend/internal/record"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideRecordStore(db *gorm.DB) *record.Store {
	return record.NewStore(db)
}

// ProvideLeaseStore names this instance by host plus a random suffix so two
// processes on one host never share lease ownership.
func ProvideLeaseStore(redisClient *redis.Client, cfg *Config) *lease.Store {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "scribe"
	}
	owner := fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	return lease.NewStore(redisClient, owner, cfg.SessionLeaseTTL)
}

func RunMigrations(recordStore *record.Store) error {
	return recordStore.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideRecordStore,
		ProvideLeaseStore,
	),
	fx.Invoke(RunMigrations),
)
