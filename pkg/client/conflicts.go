// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/url"
)

// ConflictClient provides access to conflicts that wait for a decision.
type ConflictClient struct {
	c *Client
}

// List returns the conflicts awaiting a decision.
func (cc *ConflictClient) List(ctx context.Context) ([]Conflict, error) {
	data, err := cc.c.get(ctx, "/api/v1/conflicts")
	if err != nil {
		return nil, err
	}
	return decode[[]Conflict](data, "conflicts")
}

// Get returns one conflict.
func (cc *ConflictClient) Get(ctx context.Context, id string) (*Conflict, error) {
	data, err := cc.c.get(ctx, "/api/v1/conflicts/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	return decodePtr[Conflict](data, "conflict")
}

// Resolve answers a conflict. The server applies the resolution in the
// background.
func (cc *ConflictClient) Resolve(ctx context.Context, id string, res Resolution) error {
	_, err := cc.c.postJSON(ctx, "/api/v1/conflicts/"+url.PathEscape(id)+"/resolve", res)
	return err
}
