package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"blocmark/server/internal/config"
	"blocmark/server/internal/models"
)

// RedisSender implements the Sender interface by storing emails in Redis.
// Used by the test harness to assert on outbound mail without SMTP.
type RedisSender struct {
	client *redis.Client
	cfg    *config.Config
}

// NewRedisSender creates a new RedisSender.
func NewRedisSender(client *redis.Client, cfg *config.Config) Sender {
	return &RedisSender{
		client: client,
		cfg:    cfg,
	}
}

// Send stores a representation of the email in Redis instead of sending it
// via SMTP. The key is differentiated by the notification kind inferred
// from the subject line so tests can fetch the exact email they expect.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	kind := "unknown"
	switch {
	case strings.Contains(subject, "booking request"):
		kind = string(models.NotifyBookingRequested)
	case strings.Contains(subject, "booking is confirmed"):
		kind = string(models.NotifyBookingConfirmed)
	case strings.Contains(subject, "booking was declined"):
		kind = string(models.NotifyBookingRejected)
	case strings.Contains(subject, "booking was cancelled"):
		kind = string(models.NotifyBookingCancelled)
	case strings.Contains(subject, "booking was updated"):
		kind = string(models.NotifyBookingEdited)
	case strings.Contains(subject, "custom offer"):
		kind = string(models.NotifyOfferReceived)
	case strings.Contains(subject, "offer was accepted"):
		kind = string(models.NotifyOfferAccepted)
	case strings.Contains(subject, "offer was declined"):
		kind = string(models.NotifyOfferRefused)
	}

	primaryTo := ""
	if len(to) > 0 {
		primaryTo = to[0]
	}

	emailData := map[string]interface{}{
		"to":      strings.Join(to, ", "),
		"from":    s.cfg.SmtpFromAddress,
		"subject": subject,
		"body":    string(rawMessage),
		"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
		"kind":    kind,
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	key := fmt.Sprintf("mockemail:%s:%s", primaryTo, kind)
	ttl := 5 * time.Minute

	err = s.client.Set(ctx, key, jsonData, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
	}

	log.Printf("Mock email stored in Redis key '%s' (TTL: %v, To: %s, Subject: %s)", key, ttl, strings.Join(to, ", "), subject)
	return nil
}
