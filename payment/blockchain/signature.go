package blockchain

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// SignatureVerifier checks the HTTP signature the provider attaches to
// webhook calls: secp256k1 ECDSA over SHA-256 of the signing string built
// from the headers named in the Signature header.
type SignatureVerifier struct {
	pub *btcec.PublicKey
}

// NewSignatureVerifier parses a hex encoded compressed or uncompressed
// public key.
func NewSignatureVerifier(pubKeyHex string) (*SignatureVerifier, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(pubKeyHex))
	if err != nil {
		return nil, fmt.Errorf("decode provider public key: %w", err)
	}
	pub, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse provider public key: %w", err)
	}
	return &SignatureVerifier{pub: pub}, nil
}

func (v *SignatureVerifier) Verify(r *http.Request, body []byte) error {
	params, err := parseSignatureHeader(r.Header.Get("Signature"))
	if err != nil {
		return err
	}
	if alg := params["algorithm"]; alg != "" && alg != "ecdsa-sha256" {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidSignature, alg)
	}

	if err := checkDigest(r.Header.Get("Digest"), body); err != nil {
		return err
	}

	headers := strings.Fields(params["headers"])
	if len(headers) == 0 {
		headers = []string{"date"}
	}
	signingString, err := SigningString(r, headers)
	if err != nil {
		return err
	}

	der, err := base64.StdEncoding.DecodeString(params["signature"])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	hash := sha256.Sum256([]byte(signingString))
	if !sig.Verify(hash[:], v.pub) {
		return ErrInvalidSignature
	}
	return nil
}

// SigningString joins the named headers as "name: value" lines. The
// pseudo header (request-target) is the lowercased method and request URI.
func SigningString(r *http.Request, headers []string) (string, error) {
	lines := make([]string, 0, len(headers))
	for _, h := range headers {
		h = strings.ToLower(h)
		if h == "(request-target)" {
			lines = append(lines, fmt.Sprintf("%s: %s %s", h, strings.ToLower(r.Method), r.URL.RequestURI()))
			continue
		}
		value := r.Header.Get(h)
		if h == "host" && value == "" {
			value = r.Host
		}
		if value == "" {
			return "", fmt.Errorf("%w: missing signed header %s", ErrInvalidSignature, h)
		}
		lines = append(lines, h+": "+value)
	}
	return strings.Join(lines, "\n"), nil
}

// BodyDigest renders the Digest header value for body.
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

func checkDigest(header string, body []byte) error {
	if header == "" {
		return fmt.Errorf("%w: missing digest", ErrInvalidSignature)
	}
	if header != BodyDigest(body) {
		return fmt.Errorf("%w: digest mismatch", ErrInvalidSignature)
	}
	return nil
}

// parseSignatureHeader splits keyId="..",algorithm="..",signature=".." pairs.
func parseSignatureHeader(header string) (map[string]string, error) {
	if header == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidSignature)
	}
	params := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		params[strings.ToLower(key)] = strings.Trim(value, `"`)
	}
	if params["signature"] == "" {
		return nil, fmt.Errorf("%w: empty signature", ErrInvalidSignature)
	}
	return params, nil
}
