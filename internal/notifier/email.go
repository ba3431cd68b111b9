package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopforge/storefront-backend/pkg/config"
	"github.com/shopforge/storefront-backend/pkg/db/models"
	pkgerrors "github.com/shopforge/storefront-backend/pkg/errors"
	"github.com/shopforge/storefront-backend/pkg/logger"
)

// Service sends the best-effort order confirmation email. Failures never
// affect the committed order.
type Service struct {
	client *http.Client
	cfg    config.EmailConfig
	logg   *logger.Logger
}

// NewService builds the email notifier.
func NewService(cfg config.EmailConfig, logg *logger.Logger) *Service {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
		logg:   logg,
	}
}

type mailAddress struct {
	Email string `json:"email"`
}

type mailPersonalization struct {
	To      []mailAddress `json:"to"`
	Subject string        `json:"subject"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailRequest struct {
	Personalizations []mailPersonalization `json:"personalizations"`
	From             mailAddress           `json:"from"`
	Content          []mailContent         `json:"content"`
}

// SendConfirmation posts the confirmation to the mail provider. Template
// rendering lives upstream; this only fulfills the send contract.
func (s *Service) SendConfirmation(ctx context.Context, order *models.Order) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if s.cfg.APIKey == "" {
		if s.logg != nil {
			s.logg.Warn(ctx, "email api key not configured, skipping confirmation send")
		}
		return nil
	}

	payload := mailRequest{
		Personalizations: []mailPersonalization{{
			To:      []mailAddress{{Email: order.Email}},
			Subject: fmt.Sprintf("Order confirmation #%d", order.OrderNumber),
		}},
		From: mailAddress{Email: s.cfg.DefaultFrom},
		Content: []mailContent{{
			Type:  "text/plain",
			Value: fmt.Sprintf("Thanks for your purchase. Your order number is %d.", order.OrderNumber),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode confirmation payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build confirmation request")
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send confirmation email")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("mail provider returned status %d", resp.StatusCode))
	}
	return nil
}
