package types

// ShippingAddress is the shipping snapshot copied verbatim from the checkout
// session metadata onto the order. Every field is optional upstream.
type ShippingAddress struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Empty reports whether no shipping data was captured at all.
func (a ShippingAddress) Empty() bool {
	return a == ShippingAddress{}
}
