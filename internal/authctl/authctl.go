// Package authctl implements the operator command line: key generation,
// offline password policy checks, bcrypt hashing and token inspection.
package authctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/passwords"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

const usage = `usage: authctl <command> [flags]

commands:
  keygen          generate a JWT signing key pair
  check-password  check a password against a policy tier
  hash            print the bcrypt digest of a password
  verify-token    verify a token with a public key
`

var errUsage = errors.New("usage")

// Run executes the command in args and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "keygen":
		err = keygen(args[1:], stdout)
	case "check-password":
		err = checkPassword(ctx, args[1:], stdout, stderr)
	case "hash":
		err = hash(args[1:], stdout, stderr)
	case "verify-token":
		err = verifyToken(args[1:], stdout)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	case errors.Is(err, errRejected):
		return 1
	}
	fmt.Fprintln(stderr, "error:", err)
	return 1
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func keygen(args []string, stdout io.Writer) error {
	fs := newFlagSet("keygen", stdout)
	alg := fs.String("alg", "EdDSA", "signing algorithm (RS256, PS256, ES256, ES384, ES512, EdDSA)")
	out := fs.String("out", "keys", "output directory")
	force := fs.Bool("force", false, "overwrite existing files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	priv, pub, err := auth.GenerateKeyPair(*alg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(*out, 0o700); err != nil {
		return err
	}
	privPath := filepath.Join(*out, "private.pem")
	pubPath := filepath.Join(*out, "public.pem")
	if !*force {
		for _, p := range []string{privPath, pubPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists, use -force to overwrite", p)
			}
		}
	}
	if err := os.WriteFile(privPath, priv, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "wrote %s and %s (%s)\n", privPath, pubPath, *alg)
	return nil
}

var errRejected = errors.New("rejected")

func checkPassword(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("check-password", stderr)
	tier := fs.String("tier", string(passwords.TierMedium), "password tier")
	email := fs.String("email", "", "account email, for the similarity rule")
	common := fs.String("common", "", "common password list (path or s3://bucket/key)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := logging.NewJSONLogger(stderr, "warn")
	v, err := passwords.NewValidator(*tier, passwords.LoadCommonPasswords(ctx, *common, passwords.S3Options{}, log))
	if err != nil {
		return err
	}

	pw, err := getPassword(stderr, "Password: ")
	if err != nil {
		return err
	}

	err = v.Validate(pw, *email)
	var verr *passwords.ValidationError
	if errors.As(err, &verr) {
		fmt.Fprintf(stdout, "rejected by tier %s:\n", v.Tier())
		for _, r := range verr.Reasons {
			fmt.Fprintf(stdout, "  - %s\n", r)
		}
		return errRejected
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "ok (tier %s)\n", v.Tier())
	return nil
}

func hash(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("hash", stderr)
	cost := fs.Int("cost", passwords.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pw, err := getPassword(stderr, "Password: ")
	if err != nil {
		return err
	}
	digest, err := passwords.NewBcryptHasher(*cost).Hash(pw)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, digest)
	return nil
}

func verifyToken(args []string, stdout io.Writer) error {
	fs := newFlagSet("verify-token", stdout)
	alg := fs.String("alg", "EdDSA", "signing algorithm")
	keyPath := fs.String("key", "keys/public.pem", "public key path")
	kind := fs.String("kind", string(auth.KindAccess), "token kind: access, refresh or reset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stdout, "usage: authctl verify-token [flags] TOKEN")
		return errUsage
	}

	m, err := auth.ParseSigningMethod(*alg)
	if err != nil {
		return err
	}
	pub, err := auth.LoadPublicKey(m, *keyPath)
	if err != nil {
		return err
	}

	claims, err := auth.NewVerifier(m, pub, timex.SystemClock()).Verify(strings.TrimSpace(fs.Arg(0)), auth.Kind(*kind))
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "subject: %s\n", claims.Subject)
	if claims.ID != "" {
		fmt.Fprintf(stdout, "jti:     %s\n", claims.ID)
	}
	if claims.IssuedAt != nil {
		fmt.Fprintf(stdout, "issued:  %s\n", claims.IssuedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(stdout, "expires: %s\n", claims.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}
