package itemservice

import (
	"context"

	"muxrpc/client"
	"muxrpc/codec"
	"muxrpc/descriptor"
	"muxrpc/registry"
	"muxrpc/server"
)

// Descriptor is the process-wide service descriptor, built once and shared
// read-only by every connection.
var Descriptor = descriptor.MustNewService("ItemService",
	&descriptor.Method{
		Name:         "GetItem",
		NewRequest:   func() codec.Message { return &GetItemRequest{} },
		NewResponse:  func() codec.Message { return &GetItemResponse{} },
		NewException: func() codec.Message { return &ItemNotFound{} },
	},
	&descriptor.Method{
		Name:       "ReportView",
		NewRequest: func() codec.Message { return &ViewEvent{} },
		OneWay:     true,
	},
)

// ItemService is the application-side interface a server implements.
type ItemService interface {
	GetItem(ctx context.Context, req *GetItemRequest) (*GetItemResponse, error)
	ReportView(ctx context.Context, ev *ViewEvent) error
}

// NewServer wires an implementation into a dispatch server.
func NewServer(impl ItemService, opts *server.Options) (*server.Server, error) {
	srv := server.New(Descriptor, opts)
	err := srv.Handle("GetItem", func(ctx context.Context, req codec.Message) (codec.Message, error) {
		return impl.GetItem(ctx, req.(*GetItemRequest))
	})
	if err != nil {
		return nil, err
	}
	err = srv.Handle("ReportView", func(ctx context.Context, req codec.Message) (codec.Message, error) {
		return nil, impl.ReportView(ctx, req.(*ViewEvent))
	})
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// Client is the typed client wrapper.
type Client struct {
	c *client.Client
}

func NewClient(reg registry.Registry, opts *client.Options) *Client {
	return &Client{c: client.New(Descriptor, reg, opts)}
}

func (c *Client) GetItem(ctx context.Context, req *GetItemRequest) (*GetItemResponse, error) {
	resp := &GetItemResponse{}
	if err := c.c.Call(ctx, "GetItem", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ReportView(ctx context.Context, ev *ViewEvent) error {
	return c.c.Call(ctx, "ReportView", ev, nil)
}

func (c *Client) Close() {
	c.c.Close()
}
