package fulfillment

import (
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/shopforge/storefront-backend/pkg/enums"
	pkgerrors "github.com/shopforge/storefront-backend/pkg/errors"
	"github.com/shopforge/storefront-backend/pkg/types"
)

// Metadata keys the storefront writes onto every checkout session it creates.
const (
	metaCartID             = "cart_id"
	metaUserID             = "user_id"
	metaShippingName       = "shipping_name"
	metaShippingLine1      = "shipping_line1"
	metaShippingLine2      = "shipping_line2"
	metaShippingCity       = "shipping_city"
	metaShippingState      = "shipping_state"
	metaShippingPostalCode = "shipping_postal_code"
	metaShippingCountry    = "shipping_country"
)

var validate = validator.New()

// Session is the typed, validated view of a gateway checkout session. Totals
// are the captured amounts and are authoritative for what was charged; they
// are never recomputed from the cart.
type Session struct {
	SessionID       string `validate:"required"`
	PaymentStatus   string `validate:"required"`
	CartID          uuid.UUID
	UserID          *uuid.UUID
	Email           string `validate:"required,email"`
	SubtotalCents   int64  `validate:"gte=0"`
	TotalCents      int64  `validate:"gte=0"`
	Currency        enums.Currency
	PaymentIntentID string
	Shipping        types.ShippingAddress
}

// Paid reports whether the gateway has settled the payment.
func (s *Session) Paid() bool {
	return s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

// sessionFromStripe converts and validates the raw gateway object. Metadata
// presence is checked here, at the classifier boundary, so nothing downstream
// handles stringly-typed maps.
func sessionFromStripe(cs *stripe.CheckoutSession) (*Session, error) {
	if cs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout session payload required")
	}

	rawCartID, ok := cs.Metadata[metaCartID]
	if !ok || rawCartID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout session metadata missing cart reference")
	}
	cartID, err := uuid.Parse(rawCartID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checkout session carries malformed cart id")
	}

	session := &Session{
		SessionID:     cs.ID,
		PaymentStatus: string(cs.PaymentStatus),
		CartID:        cartID,
		Email:         customerEmail(cs),
		SubtotalCents: cs.AmountSubtotal,
		TotalCents:    cs.AmountTotal,
		Currency:      enums.Normalize(string(cs.Currency)),
		Shipping: types.ShippingAddress{
			Name:       cs.Metadata[metaShippingName],
			Line1:      cs.Metadata[metaShippingLine1],
			Line2:      cs.Metadata[metaShippingLine2],
			City:       cs.Metadata[metaShippingCity],
			State:      cs.Metadata[metaShippingState],
			PostalCode: cs.Metadata[metaShippingPostalCode],
			Country:    cs.Metadata[metaShippingCountry],
		},
	}

	if raw, ok := cs.Metadata[metaUserID]; ok && raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checkout session carries malformed user id")
		}
		session.UserID = &userID
	}

	if cs.PaymentIntent != nil {
		session.PaymentIntentID = cs.PaymentIntent.ID
	}

	if err := validate.Struct(session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "checkout session failed validation")
	}
	return session, nil
}

func customerEmail(cs *stripe.CheckoutSession) string {
	if cs.CustomerDetails != nil && cs.CustomerDetails.Email != "" {
		return cs.CustomerDetails.Email
	}
	return cs.CustomerEmail
}
