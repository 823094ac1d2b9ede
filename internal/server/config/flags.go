package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC bind address (e.g., ":50051")
//	-driver     database driver, pgx or sqlite
//	-d string   database DSN
//	-tier       password tier: none, light, medium, strong
//	-alg        JWT signing algorithm (RS256, ES256, EdDSA, ...)
//	-k string   JWT private key path
//	-p string   JWT public key path
//	-t int      access token validity, minutes
//	-r int      refresh token validity, days
//	-l string   log level
//
// Only the flags listed here are taken from args, so other layers can
// share the command line.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-g", "-driver", "-d", "-tier", "-alg", "-k", "-p", "-t", "-r", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port to run server")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC address and port to run server")
	fs.StringVar(&config.DatabaseDriver, "driver", config.DatabaseDriver, "database driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.PasswordTier, "tier", config.PasswordTier, "password tier")
	fs.StringVar(&config.JWTAlgorithm, "alg", config.JWTAlgorithm, "JWT signing algorithm")
	fs.StringVar(&config.JWTPrivateKeyPath, "k", config.JWTPrivateKeyPath, "JWT private key path")
	fs.StringVar(&config.JWTPublicKeyPath, "p", config.JWTPublicKeyPath, "JWT public key path")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	accessMinutes := fs.Int("t", int(config.AccessTokenTTL.Minutes()), "access token validity (in minutes)")
	refreshDays := fs.Int("r", int(config.RefreshTokenTTL.Hours()/24), "refresh token validity (in days)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	// flags that were not given keep sub-unit values from earlier layers
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenTTL = time.Duration(*accessMinutes) * time.Minute
		case "r":
			config.RefreshTokenTTL = time.Duration(*refreshDays) * 24 * time.Hour
		}
	})
	return nil
}
