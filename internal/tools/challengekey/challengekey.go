// Package challengekey generates the HMAC secret that signs challenge
// cookies.
package challengekey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/keyfold/keyfold/internal/passkey/challenge"
)

// Config holds configuration for key generation.
type Config struct {
	Bytes int
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: challenge.MinKeySize}
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, fmt.Sprintf("number of random bytes (default: %d)", challenge.MinKeySize))
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run generates the key and writes it to out as an env assignment ready for
// the provider's configuration.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if cfg.Bytes < challenge.MinKeySize {
		return fmt.Errorf("bytes must be at least %d", challenge.MinKeySize)
	}
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}

	buf := make([]byte, cfg.Bytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	_, err := fmt.Fprintf(out, "KEYFOLD_CHALLENGE_HMAC_KEY=%s\n", hex.EncodeToString(buf))
	return err
}
