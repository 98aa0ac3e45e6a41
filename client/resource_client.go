package client

import (
	"context"
	"encoding/json"

	"polygate/resource"
	"polygate/status"
)

// ResourceClient exposes exactly the resource contract's operations against one backend.
// Safe for concurrent use; all calls share the backend's single connection.
type ResourceClient struct {
	desc resource.Descriptor
	conn *Conn
}

func NewResourceClient(desc resource.Descriptor, conn *Conn) *ResourceClient {
	return &ResourceClient{desc: desc, conn: conn}
}

func (c *ResourceClient) List(ctx context.Context) ([]resource.Record, error) {
	var raw json.RawMessage
	if err := c.conn.Invoke(ctx, c.desc.Method(resource.OpList), resource.ListArgs{}, &raw); err != nil {
		return nil, err
	}
	records, err := c.desc.DecodeList(raw)
	if err != nil {
		return nil, status.Newf(status.Internal, "decode %s list: %v", c.desc.Singular, err)
	}
	return records, nil
}

func (c *ResourceClient) GetByID(ctx context.Context, id string) (resource.Record, error) {
	return c.record(ctx, resource.OpGetByID, resource.IDArgs{ID: id})
}

// Create sends rec without an id; the returned record carries the backend-assigned one.
func (c *ResourceClient) Create(ctx context.Context, rec resource.Record) (resource.Record, error) {
	rec.SetIdentity("")
	return c.record(ctx, resource.OpCreate, rec)
}

// Update replaces every field of the record identified by rec.Identity().
func (c *ResourceClient) Update(ctx context.Context, rec resource.Record) (resource.Record, error) {
	return c.record(ctx, resource.OpUpdate, rec)
}

func (c *ResourceClient) Delete(ctx context.Context, id string) error {
	var reply resource.DeleteReply
	if err := c.conn.Invoke(ctx, c.desc.Method(resource.OpDelete), resource.IDArgs{ID: id}, &reply); err != nil {
		return err
	}
	if !reply.Success {
		return status.Newf(status.Internal, "%s backend did not acknowledge delete of %s", c.desc.Singular, id)
	}
	return nil
}

func (c *ResourceClient) record(ctx context.Context, op resource.Op, args any) (resource.Record, error) {
	var raw json.RawMessage
	if err := c.conn.Invoke(ctx, c.desc.Method(op), args, &raw); err != nil {
		return nil, err
	}
	rec, err := c.desc.Decode(raw)
	if err != nil {
		return nil, status.Newf(status.Internal, "decode %s: %v", c.desc.Singular, err)
	}
	if rec.Identity() == "" {
		return nil, status.Newf(status.Internal, "%s backend returned a record without an id", c.desc.Singular)
	}
	return rec, nil
}
