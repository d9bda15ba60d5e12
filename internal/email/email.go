// SPDX-License-Identifier: MIT

// Package email defines the outbound mail boundary. The server only needs
// verification mail; actual delivery is pluggable.
package email

import (
	"context"

	"github.com/rs/zerolog"
)

// Sender delivers account verification mail.
type Sender interface {
	SendVerification(ctx context.Context, to, token string) error
}

// LogSender logs the verification token instead of sending mail. Used when
// no SMTP transport is configured, which keeps registration usable in
// development.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "email").Logger()}
}

func (s *LogSender) SendVerification(_ context.Context, to, token string) error {
	s.logger.Info().Str("to", to).Str("token", token).Msg("verification mail suppressed, no smtp configured")
	return nil
}
