// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
)

// ErrVerification means a delivery could not be authenticated.
var ErrVerification = errors.New("webhook: verification failed")

// Verification failure reasons, used as metric labels.
const (
	ReasonNoSecret       = "no_secret"
	ReasonMissingHeaders = "missing_headers"
	ReasonMismatch       = "signature_mismatch"
)

// VerificationError carries the failure reason.
type VerificationError struct {
	Reason string
}

func (e *VerificationError) Error() string { return "webhook: verification failed: " + e.Reason }

// Unwrap makes errors.Is(err, ErrVerification) hold.
func (e *VerificationError) Unwrap() error { return ErrVerification }

// Sign returns the signature header value for a delivery.
func Sign(secret, messageID, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(messageID))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify authenticates a delivery. It fails closed: no secret or any
// missing header is a failure.
func Verify(secret string, h http.Header, body []byte) error {
	if secret == "" {
		return &VerificationError{Reason: ReasonNoSecret}
	}
	id := h.Get(HeaderMessageID)
	ts := h.Get(HeaderMessageTimestamp)
	sig := h.Get(HeaderMessageSignature)
	if id == "" || ts == "" || sig == "" {
		return &VerificationError{Reason: ReasonMissingHeaders}
	}
	expected := Sign(secret, id, ts, body)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return &VerificationError{Reason: ReasonMismatch}
	}
	return nil
}

func verificationReason(err error) string {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return fmt.Sprint(err)
}
