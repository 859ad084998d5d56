package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/print-slicer/backend/internal/models"
)

// CallbackPayload is the JSON body posted to a caller-supplied URL.
type CallbackPayload struct {
	FileID      string               `json:"fileId"`
	Status      models.FileStatus    `json:"status"`
	Error       string               `json:"error,omitempty"`
	FailureKind models.FailureKind   `json:"failureKind,omitempty"`
	MassGrams   float64              `json:"massInGrams,omitempty"`
	Dimensions  *models.BoundingBox  `json:"dimensions,omitempty"`
	Pricing     *models.PricingTiers `json:"pricing,omitempty"`
}

// PayloadFromResult converts a unit result to the callback body.
func PayloadFromResult(r models.FileResult) CallbackPayload {
	p := CallbackPayload{
		FileID:      r.FileID,
		Status:      r.Status,
		FailureKind: r.FailureKind,
		MassGrams:   r.MassGrams,
		Dimensions:  r.Dimensions,
		Pricing:     r.Pricing,
	}
	if r.Status == models.FileStatusError {
		p.Error = r.Message
	}
	return p
}

// Signer produces bearer tokens for outgoing requests.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewSigner creates an HS256 signer. It returns nil when secret is empty.
func NewSigner(secret, issuer string, ttl time.Duration) *Signer {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Signer{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Sign returns a token whose subject is subject.
func (s *Signer) Sign(subject string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// CallbackSink posts results to one URL.
type CallbackSink struct {
	url    string
	client *http.Client
	signer *Signer
}

// NewCallbackSink creates a sink posting to url. signer may be nil.
func NewCallbackSink(url string, client *http.Client, signer *Signer) *CallbackSink {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CallbackSink{url: url, client: client, signer: signer}
}

func (s *CallbackSink) Deliver(ctx context.Context, result models.FileResult) error {
	body, err := json.Marshal(PayloadFromResult(result))
	if err != nil {
		return &DeliveryError{Target: s.url, Err: fmt.Errorf("encoding payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Target: s.url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.signer != nil {
		token, err := s.signer.Sign(result.FileID)
		if err != nil {
			return &DeliveryError{Target: s.url, Err: fmt.Errorf("signing: %w", err)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return post(s.client, req, s.url)
}

func post(client *http.Client, req *http.Request, target string) error {
	resp, err := client.Do(req)
	if err != nil {
		return &DeliveryError{Target: target, Transport: true, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DeliveryError{Target: target, StatusCode: resp.StatusCode}
	}
	return nil
}
