package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	stripeScheme          = "stripe-v1"

	// DefaultStripeTolerance bounds the accepted skew between the signed
	// timestamp and receipt.
	DefaultStripeTolerance = 300 * time.Second
)

// stripeV1Verifier implements the t/v1 signed-payload scheme: the
// signature header carries a unix timestamp and one or more v1 HMAC
// candidates over "<t>.<body>".
type stripeV1Verifier struct {
	provider  string
	tolerance time.Duration
}

func NewStripeV1Verifier(provider string, tolerance time.Duration) Verifier {
	if tolerance <= 0 {
		tolerance = DefaultStripeTolerance
	}
	return &stripeV1Verifier{provider: strings.TrimSpace(provider), tolerance: tolerance}
}

func (v *stripeV1Verifier) Provider() string { return v.provider }

func (v *stripeV1Verifier) Verify(headers http.Header, rawBody []byte, receivedAt time.Time, secret string) (Result, error) {
	if strings.TrimSpace(secret) == "" {
		return Result{}, fmt.Errorf("webhook secret for provider %q is empty", v.provider)
	}

	res := Result{Scheme: stripeScheme}

	timestamp, candidates := parseStripeSignatureHeader(headers.Values(stripeSignatureHeader))
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil || ts <= 0 || len(candidates) == 0 {
		return res, nil
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write(rawBody)
	expected := mac.Sum(nil)

	matched := false
	for _, sigHex := range candidates {
		decoded, err := hex.DecodeString(sigHex)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			matched = true
			break
		}
	}
	if !matched {
		return res, nil
	}

	skew := receivedAt.UTC().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return res, nil
	}

	res.Valid = true
	res.EventID, res.Type, res.Checkout = extractCheckout(rawBody)
	return res, nil
}

func parseStripeSignatureHeader(values []string) (timestamp string, v1 []string) {
	joined := strings.TrimSpace(strings.Join(values, ","))
	if joined == "" {
		return "", nil
	}
	for _, part := range strings.Split(joined, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch {
		case key == "t" && timestamp == "":
			timestamp = val
		case key == "v1" && val != "":
			v1 = append(v1, val)
		}
	}
	return timestamp, v1
}
