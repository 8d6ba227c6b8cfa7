package config

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {

	// Test cases
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "Test1 OK", args: []string{"cmd",
			"-a", "127.0.0.1:9090", "-d", "db", "-x", "127.0.0.1:6380", "-m", "redis",
			"-s", "access-secret", "-k", "refresh-secret", "-i", "issuer", "-u", "audience",
			"-t", "480", "-r", "720",
		}, expectPanic: false,
			expected: &Config{
				EndpointAddrHTTP:             "127.0.0.1:9090",
				DatabaseDSN:                  "db",
				RedisAddr:                    "127.0.0.1:6380",
				RefreshStore:                 "redis",
				AccessTokenSecret:            "access-secret",
				RefreshTokenSecret:           "refresh-secret",
				JWTIssuer:                    "issuer",
				JWTAudience:                  "audience",
				AccessTokenValidityDuration:  8 * time.Hour,
				RefreshTokenValidityDuration: 12 * time.Hour,
			}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.PanicOnError)

			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {

				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
