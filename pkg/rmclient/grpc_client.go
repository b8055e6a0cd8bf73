package rmclient

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/warren/pkg/rmproto"
	"github.com/cuemby/warren/pkg/spec"
)

// GRPCClient is the production Client implementation: a thin translation
// layer over rmproto's hand-written gRPC service (see pkg/rmproto for why
// there is no protobuf codegen involved).
type GRPCClient struct {
	conn   *grpc.ClientConn
	client *rmproto.ResourceManagerClient
}

// Dial connects to a resource manager at addr.
func Dial(addr string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial resource manager at %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, client: rmproto.NewResourceManagerClient(conn)}, nil
}

// Close releases the underlying connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) Start(ctx context.Context, appRunId, amHost string) error {
	_, err := c.client.Register(ctx, &rmproto.RegisterRequest{AppRunId: appRunId, Host: amHost})
	return err
}

func (c *GRPCClient) AddContainerRequest(ctx context.Context, capability spec.Capability, count int) (string, error) {
	resp, err := c.client.AddContainerRequest(ctx, &rmproto.AddContainerRequestRequest{
		Capability: rmproto.Capability{VCores: int32(capability.VCores), MemoryMB: int32(capability.MemoryMB)},
		Count:      int32(count),
	})
	if err != nil {
		return "", err
	}
	return resp.RequestId, nil
}

func (c *GRPCClient) Allocate(ctx context.Context, progress float32, handler AllocationHandler) error {
	resp, err := c.client.Allocate(ctx, &rmproto.AllocateRequest{Progress: progress})
	if err != nil {
		return err
	}

	if len(resp.Acquired) > 0 {
		acquired := make([]AcquiredContainer, len(resp.Acquired))
		for i, a := range resp.Acquired {
			acquired[i] = AcquiredContainer{
				ContainerId: a.ContainerId,
				Host:        a.Host,
				Capability:  spec.Capability{VCores: int(a.Capability.VCores), MemoryMB: int(a.Capability.MemoryMB)},
			}
		}
		handler.Acquired(acquired)
	}

	if len(resp.Completed) > 0 {
		completed := make([]CompletedContainer, len(resp.Completed))
		for i, cpl := range resp.Completed {
			completed[i] = CompletedContainer{
				ContainerId: cpl.ContainerId,
				ExitCode:    int(cpl.ExitCode),
				Diagnostics: cpl.Diagnostics,
			}
		}
		handler.Completed(completed)
	}

	return nil
}

func (c *GRPCClient) CompleteContainerRequest(ctx context.Context, requestId string) error {
	_, err := c.client.CompleteContainerRequest(ctx, &rmproto.CompleteContainerRequestRequest{RequestId: requestId})
	return err
}

func (c *GRPCClient) SetTracker(ctx context.Context, bindAddress, url string) error {
	_, err := c.client.SetTracker(ctx, &rmproto.SetTrackerRequest{BindAddress: bindAddress, URL: url})
	return err
}

func (c *GRPCClient) Stop(ctx context.Context, finalStatus string) error {
	_, err := c.client.Stop(ctx, &rmproto.StopRequest{FinalStatus: finalStatus})
	return err
}
