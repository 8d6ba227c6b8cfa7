package config

import (
	"flag"
	"os"
	"time"

	"github.com/dkravtsov/authd/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-x string   Redis address (e.g., "127.0.0.1:6379")
//	-m string   refresh-token store backend ("postgres" or "redis")
//	-s string   access token HMAC secret
//	-k string   refresh token HMAC secret
//	-i string   JWT issuer
//	-u string   JWT audience
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers in minutes and then converted
//     to time.Duration values.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-x", "-m", "-s", "-k", "-i", "-u", "-t", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisAddr, "x", config.RedisAddr, "redis address")
	fs.StringVar(&config.RefreshStore, "m", config.RefreshStore, "refresh token store backend")
	fs.StringVar(&config.AccessTokenSecret, "s", config.AccessTokenSecret, "access token secret key")
	fs.StringVar(&config.RefreshTokenSecret, "k", config.RefreshTokenSecret, "refresh token secret key")
	fs.StringVar(&config.JWTIssuer, "i", config.JWTIssuer, "JWT issuer")
	fs.StringVar(&config.JWTAudience, "u", config.JWTAudience, "JWT audience")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh_token_validity_duration (in minutes)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
}
