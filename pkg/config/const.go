package config

const (
	EnvPrefix = "EVENTPASS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "EVENTPASS_DB_DSN"
	EnvDBHost = "EVENTPASS_DB_HOST"
	EnvDBUser = "EVENTPASS_DB_USER"
	EnvDBName = "EVENTPASS_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
