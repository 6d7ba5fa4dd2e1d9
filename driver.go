package tracecache

// Driver identifies a store backend.
type Driver string

const (
	DriverNull   Driver = "null"
	DriverMemory Driver = "memory"
	DriverSQL    Driver = "sql"
	DriverDynamo Driver = "dynamodb"
	DriverNATS   Driver = "nats"
	DriverRedis  Driver = "redis"
)
