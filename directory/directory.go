/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

// Package directory is the contact-lookup collaborator: a simple
// request/response client used to resolve a display name for a phone number
// at call start. It carries no state and no call-control logic.
package directory

import (
	"context"
	"net/http"
	"net/url"

	"github.com/connectcrm/agentdesk/consolesdk"
)

// Contact is one directory entry.
type Contact struct {
	Name    string `json:"name"`
	Number  string `json:"number"`
	Company string `json:"company,omitempty"`
}

// lookupResponse is the contacts endpoint response shape.
type lookupResponse struct {
	Status bool `json:"status"`
	Data   struct {
		Contacts []Contact `json:"contacts"`
	} `json:"data"`
}

// Client is the directory API client.
type Client struct {
	core *consolesdk.Client
}

// New creates a directory client over the shared core client.
func New(core *consolesdk.Client) *Client {
	return &Client{core: core}
}

// LookupByNumber returns the contacts matching a phone number. An empty
// result is not an error.
func (c *Client) LookupByNumber(ctx context.Context, number string) ([]Contact, error) {
	params := url.Values{}
	params.Set("number", number)

	resp, err := c.core.RequestWithRetry(ctx, http.MethodGet, "contacts", params, nil)
	if err != nil {
		return nil, err
	}

	var out lookupResponse
	if err := consolesdk.ParseResponse(resp, &out); err != nil {
		return nil, err
	}
	return out.Data.Contacts, nil
}

// ResolveDisplayName returns the best display name for a number, or "" when
// the directory has no match. Implements session.ContactResolver.
func (c *Client) ResolveDisplayName(ctx context.Context, number string) (string, error) {
	contacts, err := c.LookupByNumber(ctx, number)
	if err != nil {
		return "", err
	}
	if len(contacts) == 0 {
		return "", nil
	}
	return contacts[0].Name, nil
}
