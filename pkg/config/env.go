package config

const (
	EnvPrefix = "SKEWERPOS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DetectionProviderHTTP   = "http"
	DetectionProviderOpenAI = "openai"

	EnvAppEnv            = "SKEWERPOS_APP_ENV"
	EnvPort              = "SKEWERPOS_APP_PORT"
	EnvDBDSN             = "SKEWERPOS_DB_DSN"
	EnvDBHost            = "SKEWERPOS_DB_HOST"
	EnvDBUser            = "SKEWERPOS_DB_USER"
	EnvDBName            = "SKEWERPOS_DB_NAME"
	EnvUseSQLite         = "SKEWERPOS_USE_SQLITE"
	EnvRedisURL          = "SKEWERPOS_REDIS_URL"
	EnvGCSBucket         = "SKEWERPOS_GCS_BUCKET_NAME"
	EnvSettlementTopic   = "SKEWERPOS_PUBSUB_SETTLEMENT_TOPIC"
	EnvImageMaxBytes     = "SKEWERPOS_MEDIA_IMAGE_MAX_BYTES"
	EnvDetectionProvider = "SKEWERPOS_DETECTION_PROVIDER"
	EnvDetectionEndpoint = "SKEWERPOS_DETECTION_ENDPOINT"
	EnvOpenAIAPIKey      = "SKEWERPOS_OPENAI_API_KEY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
