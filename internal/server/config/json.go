package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dkravtsov/authd/internal/flagx"
	"github.com/dkravtsov/authd/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "8h" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. After unmarshalling, its fields are copied into the runtime Config
// struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	DatabaseDSN                  string         `json:"database_dsn"`
	RedisAddr                    string         `json:"redis_addr"`
	RefreshStore                 string         `json:"refresh_store"`
	AccessTokenSecret            string         `json:"access_token_secret"`
	RefreshTokenSecret           string         `json:"refresh_token_secret"`
	JWTIssuer                    string         `json:"jwt_issuer"`
	JWTAudience                  string         `json:"jwt_audience"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	LoginRatePerSecond           float64        `json:"login_rate_per_second"`
	LoginRateBurst               int            `json:"login_rate_burst"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The lookup order for the JSON file path is:
//
//	The -c or -config command-line flags.
//	If it is not set, no JSON file is loaded.
//
// If the file path is found, parseJson attempts to read and unmarshal it
// into a JsonConfig. The resulting values are copied into the target Config.
// If the file cannot be read or contains invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.RedisAddr = c.RedisAddr
	config.RefreshStore = c.RefreshStore
	config.AccessTokenSecret = c.AccessTokenSecret
	config.RefreshTokenSecret = c.RefreshTokenSecret
	config.JWTIssuer = c.JWTIssuer
	config.JWTAudience = c.JWTAudience
	config.AccessTokenValidityDuration = time.Duration(c.AccessTokenValidityDuration.Duration)
	config.RefreshTokenValidityDuration = time.Duration(c.RefreshTokenValidityDuration.Duration)
	config.LoginRatePerSecond = c.LoginRatePerSecond
	config.LoginRateBurst = c.LoginRateBurst
}
