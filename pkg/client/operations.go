// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net/url"
)

// OperationClient provides access to pending operations.
//
// Every optimistic write the server makes is tracked as an operation until
// the backend confirms it. Failed operations stay listed until they are
// retried or dismissed.
type OperationClient struct {
	c *Client
}

// List returns tracked operations. A non-empty status filters by
// [OperationPending], [OperationCompleted] or [OperationFailed].
func (o *OperationClient) List(ctx context.Context, status string) ([]Operation, error) {
	path := "/api/v1/operations"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	data, err := o.c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	return decode[[]Operation](data, "operations")
}

// Get returns one operation.
func (o *OperationClient) Get(ctx context.Context, id string) (*Operation, error) {
	data, err := o.c.get(ctx, "/api/v1/operations/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	return decodePtr[Operation](data, "operation")
}

// Retry replays a failed operation and waits for the outcome.
func (o *OperationClient) Retry(ctx context.Context, id string) (*Operation, error) {
	data, err := o.c.post(ctx, "/api/v1/operations/"+url.PathEscape(id)+"/retry")
	if err != nil {
		return nil, err
	}
	return decodePtr[Operation](data, "operation")
}

// Dismiss rolls back an operation's local effects and forgets it.
func (o *OperationClient) Dismiss(ctx context.Context, id string) error {
	_, err := o.c.delete(ctx, "/api/v1/operations/"+url.PathEscape(id))
	return err
}
