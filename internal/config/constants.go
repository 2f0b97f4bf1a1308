package config

import "time"

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 3000
	defaultEnv        = "development"

	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"

	defaultDBDriver     = DriverSQLite
	defaultSQLitePath   = "data/prism.db"
	defaultDBHost       = "127.0.0.1"
	defaultPostgresPort = 5432
	defaultMySQLPort    = 3306
	defaultDBUser       = "postgres"
	defaultDBName       = "prism"

	StorageLocal = "local"
	StorageS3    = "s3"

	defaultStorageDir = "data/uploads"
	defaultS3Region   = "us-east-1"

	defaultDailyLimit     = 1500
	defaultThinkingBudget = 32768
	defaultMaxRetries     = 3
	defaultInitialDelay   = time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultMultiplier     = 2.0
	defaultSaveDebounce   = 1500 * time.Millisecond

	defaultRateLimitRequests = 120
	defaultRateLimitWindow   = time.Minute

	defaultLogLevel    = "info"
	defaultLogKeepDays = 14
)
