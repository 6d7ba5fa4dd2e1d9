package tracecache

import "time"

const (
	defaultPrefix                = "trace"
	defaultMemoryCleanupInterval = 10 * time.Minute
	defaultSQLTable              = "trace_entries"
	defaultSQLListTable          = "trace_list_entries"
	defaultDynamoTable           = "trace_entries"
)

// StoreConfig controls how a Store is constructed.
type StoreConfig struct {
	Driver Driver

	// Prefix scopes keys on shared backends (e.g. redis, dynamodb).
	Prefix string

	// MemoryCleanupInterval controls in-process expired-entry sweeps.
	MemoryCleanupInterval time.Duration

	// RedisClient is required when DriverRedis is used.
	RedisClient RedisClient

	// SQLDriverName and SQLDSN are required when DriverSQL is used.
	SQLDriverName string
	SQLDSN        string
	SQLTable      string
	SQLListTable  string

	// DynamoClient is built from region/endpoint when nil.
	DynamoClient   DynamoAPI
	DynamoTable    string
	DynamoRegion   string
	DynamoEndpoint string

	// NATSKV is required when DriverNATS is used.
	NATSKV NATSKeyValue
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}
	if c.MemoryCleanupInterval <= 0 {
		c.MemoryCleanupInterval = defaultMemoryCleanupInterval
	}
	if c.SQLTable == "" {
		c.SQLTable = defaultSQLTable
	}
	if c.SQLListTable == "" {
		c.SQLListTable = defaultSQLListTable
	}
	if c.DynamoTable == "" {
		c.DynamoTable = defaultDynamoTable
	}
	return c
}
