// Package certificate produces and checks the compact proof that a message's
// claimed sender controls an identifier.
//
// A Certificate pairs the claimed identifier with a token signed by the
// claimant's KeyCapability whose payload is that same identifier. It is
// created fresh for every outgoing message and never cached.
package certificate

import (
	"context"
	"fmt"

	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/identity"
	"github.com/sirupsen/logrus"
)

// Certificate binds a message to a claimed identifier.
type Certificate struct {
	Claim string `json:"claim"`
	Proof string `json:"proof"`
}

// Make signs self's canonical string form with keys.
func Make(ctx context.Context, self identity.ID, keys crypto.KeyCapability) (*Certificate, error) {
	claim := self.String()

	proof, err := keys.SignToken(ctx, claim)
	if err != nil {
		return nil, fmt.Errorf("sign certificate for %s: %w", claim, err)
	}

	return &Certificate{Claim: claim, Proof: proof}, nil
}

// Verify reports whether cert's proof decodes to exactly its claim and its
// signature checks out against senderKey. Malformed certificates are simply
// not verified.
func Verify(cert *Certificate, senderKey crypto.PublicKey) bool {
	if cert == nil {
		return false
	}

	token, err := crypto.DecodeToken(cert.Proof)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "certificate.Verify",
			"claim":    cert.Claim,
			"error":    err.Error(),
		}).Warn("Certificate proof could not be decoded")
		return false
	}

	payloadMatches := token.Payload != "" && token.Payload == cert.Claim
	signatureValid := token.Verify(senderKey.Sign)

	if !payloadMatches || !signatureValid {
		logrus.WithFields(logrus.Fields{
			"function":        "certificate.Verify",
			"claim":           cert.Claim,
			"payload_matches": payloadMatches,
			"signature_valid": signatureValid,
		}).Warn("Certificate rejected")
		return false
	}
	return true
}

// ClaimID parses the certificate's claim as an identifier.
func (c *Certificate) ClaimID() (identity.ID, error) {
	return identity.Parse(c.Claim)
}
