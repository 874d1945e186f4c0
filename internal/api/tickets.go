package api

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

type TicketStatus string

const (
	TicketOpen       TicketStatus = "Open"
	TicketInProgress TicketStatus = "InProgress"
	TicketResolved   TicketStatus = "Resolved"
	TicketClosed     TicketStatus = "Closed"
)

type Ticket struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject"`
	Description string       `json:"description"`
	Category    string       `json:"category,omitempty"`
	Status      TicketStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt,omitempty"`
}

type NewTicket struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

type TicketFilter struct {
	PageRequest
	Status TicketStatus
}

func (c *Client) ListTickets(ctx context.Context, f TicketFilter) (*Page[Ticket], error) {
	q := f.values()
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	var page Page[Ticket]
	if err := c.doJSON(ctx, http.MethodGet, "/api/support/tickets", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	var t Ticket
	if err := c.doJSON(ctx, http.MethodGet, "/api/support/tickets/"+url.PathEscape(id), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) CreateTicket(ctx context.Context, nt NewTicket) (*Ticket, error) {
	var t Ticket
	if err := c.doJSON(ctx, http.MethodPost, "/api/support/tickets", nil, nt, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) UpdateTicketStatus(ctx context.Context, id string, status TicketStatus) error {
	body := struct {
		Status TicketStatus `json:"status"`
	}{status}
	return c.doJSON(ctx, http.MethodPatch, "/api/support/tickets/"+url.PathEscape(id)+"/status", nil, body, nil)
}

func (c *Client) DeleteTicket(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/support/tickets/"+url.PathEscape(id), nil, nil, nil)
}
