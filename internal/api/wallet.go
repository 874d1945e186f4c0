package api

import (
	"context"
	"net/http"
	"net/url"
)

type Card struct {
	ID          string `json:"id"`
	Brand       string `json:"brand"`
	LastFour    string `json:"lastFourDigits"`
	HolderName  string `json:"holderName"`
	ExpiryMonth int    `json:"expirationMonth"`
	ExpiryYear  int    `json:"expirationYear"`
	IsDefault   bool   `json:"isDefault"`
}

// NewCard carries a card token produced by the payment provider's tokenizer;
// raw card numbers never reach this client.
type NewCard struct {
	CardToken   string `json:"cardToken"`
	HolderName  string `json:"holderName"`
	MakeDefault bool   `json:"makeDefault,omitempty"`
}

func (c *Client) ListCards(ctx context.Context) ([]Card, error) {
	var cards []Card
	if err := c.doJSON(ctx, http.MethodGet, "/api/wallet/cards", nil, nil, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

func (c *Client) AddCard(ctx context.Context, card NewCard) (*Card, error) {
	var created Card
	if err := c.doJSON(ctx, http.MethodPost, "/api/wallet/cards", nil, card, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) DeleteCard(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/wallet/cards/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) SetDefaultCard(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPut, "/api/wallet/cards/"+url.PathEscape(id)+"/default", nil, nil, nil)
}
