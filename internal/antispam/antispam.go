package antispam

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/forms-backend/internal/model"
	"golang.org/x/crypto/blake2b"
)

// ErrVerifierUnavailable means the CAPTCHA verifier could not be consulted.
var ErrVerifierUnavailable = errors.New("captcha verifier unavailable")

// CaptchaVerifier checks a CAPTCHA token with the issuing provider.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token string) (bool, error)
}

// Client describes the network origin of a submission.
type Client struct {
	Address   string
	UserAgent string
}

// Evaluator produces the antispam record of a submission.
type Evaluator struct {
	key      []byte
	verifier CaptchaVerifier
	log      zerolog.Logger
}

// NewEvaluator creates an Evaluator. key seeds the fingerprint hash and may
// be empty; it must not exceed 64 bytes.
func NewEvaluator(key string, verifier CaptchaVerifier, log zerolog.Logger) (*Evaluator, error) {
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("antispam hash key longer than %d bytes", blake2b.Size)
	}
	if verifier == nil {
		return nil, errors.New("captcha verifier is required")
	}
	return &Evaluator{
		key:      []byte(key),
		verifier: verifier,
		log:      log.With().Str("component", "antispam").Logger(),
	}, nil
}

// Evaluate fingerprints the client and verifies the CAPTCHA token. An empty
// token is sent as is; the provider rejects it.
func (e *Evaluator) Evaluate(ctx context.Context, client Client, captchaToken string) (*model.AntiSpam, error) {
	record := &model.AntiSpam{
		IPHash:        e.Fingerprint(client.Address),
		UserAgentHash: e.Fingerprint(client.UserAgent),
	}

	pass, err := e.verifier.Verify(ctx, captchaToken)
	if err != nil {
		e.log.Error().Err(err).Msg("CAPTCHA verification failed")
		return nil, fmt.Errorf("%w: %v", ErrVerifierUnavailable, err)
	}
	record.CaptchaPass = pass
	return record, nil
}

// Fingerprint returns the hex BLAKE2b-256 digest of value, keyed when a key
// was configured.
func (e *Evaluator) Fingerprint(value string) string {
	h, err := blake2b.New256(e.key)
	if err != nil {
		// Key length is checked in NewEvaluator.
		panic(err)
	}
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}
