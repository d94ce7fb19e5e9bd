package cfg

type Cfg struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Application configuration
	Port              string
	BaseUrl           string
	SeedFile          string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string

	// Ingestion policy
	MaxRetries   int
	FetchTimeout int

	// WebSub
	LeaseSeconds int

	// Application metadata
	UserAgent  string
	ContactUrl string
	Timezone   string
	Debug      bool
	Version    string
}
