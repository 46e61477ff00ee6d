package xray

import (
	"context"
	"fmt"

	statsService "github.com/xtls/xray-core/app/stats/command"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// StatsClient reads per-user traffic counters from a running xray instance
// over its gRPC API.
type StatsClient struct {
	ss   statsService.StatsServiceClient
	conn *grpc.ClientConn
}

func DialStats(addr string) (*StatsClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &StatsClient{
		ss:   statsService.NewStatsServiceClient(conn),
		conn: conn,
	}, nil
}

func (c *StatsClient) Close() error {
	return c.conn.Close()
}

// QueryUserTraffic returns the uplink/downlink byte counters for the entry
// labeled with email, optionally resetting them so the next poll reads deltas.
func (c *StatsClient) QueryUserTraffic(ctx context.Context, email string, reset bool) (up, down int64, err error) {
	up, err = c.query(ctx, fmt.Sprintf("user>>>%s>>>traffic>>>uplink", email), reset)
	if err != nil {
		return 0, 0, err
	}
	down, err = c.query(ctx, fmt.Sprintf("user>>>%s>>>traffic>>>downlink", email), reset)
	if err != nil {
		return 0, 0, err
	}
	return up, down, nil
}

func (c *StatsClient) query(ctx context.Context, pattern string, reset bool) (int64, error) {
	resp, err := c.ss.QueryStats(ctx, &statsService.QueryStatsRequest{
		Pattern: pattern,
		Reset_:  reset,
	})
	if err != nil {
		return 0, err
	}

	stat := resp.GetStat()
	if len(stat) == 0 {
		return 0, nil
	}
	return stat[0].Value, nil
}
