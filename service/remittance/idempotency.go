package remittance

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/go-playground/validator/v10"
)

// PayloadHash fingerprints the business content of a request. Two requests with
// the same idempotency key must carry the same hash.
func PayloadHash(req SubmitRequest) string {
	h := sha256.New()
	for _, part := range []string{
		req.SenderID,
		req.RecipientID,
		req.Recipient.Name,
		req.Recipient.AccountNumber,
		req.Recipient.BankCode,
		strconv.FormatInt(req.SourceAmount, 10),
		req.SourceCurrency,
		req.DestinationCurrency,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveIdempotencyKey builds a key for callers that did not supply one. Identical
// payloads on the same UTC day collapse onto one transaction.
func DeriveIdempotencyKey(payloadHash string, now time.Time) string {
	sum := sha256.Sum256([]byte(payloadHash + "|" + Day(now)))
	return "derived-" + hex.EncodeToString(sum[:16])
}

func normalizeRequest(req SubmitRequest) SubmitRequest {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.SenderID = strings.TrimSpace(req.SenderID)
	req.RecipientID = strings.TrimSpace(req.RecipientID)
	req.SourceCurrency = strings.ToUpper(strings.TrimSpace(req.SourceCurrency))
	req.DestinationCurrency = strings.ToUpper(strings.TrimSpace(req.DestinationCurrency))
	return req
}

// requestValidator checks SubmitRequest struct tags and ISO currency codes.
type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{v: v}
}

func (rv *requestValidator) validate(req SubmitRequest) error {
	if err := rv.v.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{
				Field:  fieldPath(fe.Namespace()),
				Reason: "failed " + fe.Tag() + " check",
				Err:    ErrInvalidRequest,
			}
		}
		return &ValidationError{Field: "request", Reason: err.Error(), Err: ErrInvalidRequest}
	}

	for _, c := range []struct{ field, code string }{
		{"source_currency", req.SourceCurrency},
		{"destination_currency", req.DestinationCurrency},
	} {
		if !provider.ValidCurrency(c.code) {
			return &ValidationError{
				Field:  c.field,
				Reason: c.code + " is not an ISO 4217 currency",
				Err:    ErrInvalidCurrency,
			}
		}
	}
	return nil
}

// fieldPath drops the struct name validator puts in front of a namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
