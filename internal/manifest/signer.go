// Package manifest implements the autopilot's deliverable manifest signing:
// a canonical hash plus a keyed HMAC signature, so a submitted deliverable
// is both content-addressed and attributable to the signing key that
// produced it. The signature covers the same canonical bytes as the hash,
// encoded as lowercase hex to match what the marketplace expects for
// signed manifests.
package manifest

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"nearautopilot/internal/canon"
	"nearautopilot/pkg/types"
)

const algorithm = "hmac-sha256"

// Sign builds the canonical encoding of manifest, computes its SHA-256 hex
// digest as manifestHash, and computes an HMAC-SHA256 of the same canonical
// bytes under signingKey, hex-encoded, tagged with algorithm "hmac-sha256".
func Sign(m types.DeliverableManifest, signingKey, signerID string) (types.SignedManifest, error) {
	canonical, err := canon.Encode(m)
	if err != nil {
		return types.SignedManifest{}, fmt.Errorf("manifest: canonical encode: %w", err)
	}

	hash := sha256.Sum256(canonical)
	manifestHash := hex.EncodeToString(hash[:])

	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write(canonical)
	signatureHex := hex.EncodeToString(mac.Sum(nil))

	return types.SignedManifest{
		Manifest:     m,
		ManifestHash: manifestHash,
		Signature: types.ManifestSignature{
			Algorithm:    algorithm,
			SignerID:     signerID,
			SignatureHex: signatureHex,
		},
	}, nil
}

// Verify recomputes the canonical bytes from signed.Manifest and compares
// the HMAC against signed.Signature.SignatureHex in constant time, using
// signingKey. Returns false (never an error) on any mismatch, malformed
// signature encoding, or algorithm tag the verifier does not recognize.
func Verify(signed types.SignedManifest, signingKey string) bool {
	if signed.Signature.Algorithm != algorithm {
		return false
	}

	canonical, err := canon.Encode(signed.Manifest)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write(canonical)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(signed.Signature.SignatureHex)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(expected, got) == 1
}
