package proxy

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietOpts(d Dialer) Options {
	return Options{
		FailCeiling:  2,
		CheckTimeout: 100 * time.Millisecond,
		Dialer:       d,
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		name string
		e    Endpoint
		want string
	}{
		{
			name: "plain",
			e:    Endpoint{Protocol: "http", Host: "10.0.0.1", Port: 8080},
			want: "http://10.0.0.1:8080",
		},
		{
			name: "authenticated",
			e:    Endpoint{Protocol: "socks5", Host: "proxy.example", Port: 1080, Username: "u", Password: "p"},
			want: "socks5://u:p@proxy.example:1080",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.e.URL())
		})
	}
}

func TestRotatorNextPrefersBestScores(t *testing.T) {
	endpoints := []Endpoint{
		{Host: "slow", Port: 1, AverageResponseMs: 900},
		{Host: "fast", Port: 1, AverageResponseMs: 50},
		{Host: "flaky", Port: 1, AverageResponseMs: 60, FailCount: 4},
		{Host: "steady", Port: 1, AverageResponseMs: 120},
	}
	r := NewRotator(endpoints, Options{BestSubset: 2}, nil)

	// The two best scores are fast (50) and steady (120); flaky's fail
	// count multiplies it out of the subset.
	seen := map[string]int{}
	for i := 0; i < 6; i++ {
		e := r.Next()
		require.NotNil(t, e)
		seen[e.Host]++
	}
	assert.Equal(t, 3, seen["fast"])
	assert.Equal(t, 3, seen["steady"])
	assert.Zero(t, seen["slow"])
	assert.Zero(t, seen["flaky"])
}

func TestRotatorNextEmptyPoolMeansDirect(t *testing.T) {
	r := NewRotator(nil, Options{}, nil)
	assert.Nil(t, r.Next())
}

func TestRotatorSnapshotRanksByScore(t *testing.T) {
	r := NewRotator([]Endpoint{
		{Host: "slow", Port: 1, AverageResponseMs: 900},
		{Host: "fast", Port: 1, AverageResponseMs: 50},
		{Host: "flaky", Port: 1, AverageResponseMs: 300, FailCount: 4},
	}, Options{}, nil)

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "fast", snap[0].Host)
	assert.Equal(t, "slow", snap[1].Host)
	assert.Equal(t, "flaky", snap[2].Host, "fail count should multiply flaky to the bottom")
}

func TestHealthCheckEvictsAfterCeiling(t *testing.T) {
	deadDialer := func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	r := NewRotator([]Endpoint{{Host: "dead", Port: 1}}, quietOpts(deadDialer), nil)

	r.checkAll(context.Background())
	assert.Equal(t, 1, r.Len(), "one failure should not evict yet")

	r.checkAll(context.Background())
	assert.Zero(t, r.Len(), "endpoint should be evicted at the fail ceiling")
}

func TestHealthCheckRecoveryResetsFailures(t *testing.T) {
	healthy := func(context.Context, string, string) (net.Conn, error) {
		server, client := net.Pipe()
		go func() { _ = server.Close() }()
		return client, nil
	}
	r := NewRotator([]Endpoint{{Host: "a", Port: 1, FailCount: 1}}, quietOpts(healthy), nil)

	r.checkAll(context.Background())

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Zero(t, snap[0].FailCount, "a passing probe should reset the fail count")
}

func TestRotatorAddReAdmitsEvicted(t *testing.T) {
	deadDialer := func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	r := NewRotator([]Endpoint{{Host: "a", Port: 1}}, quietOpts(deadDialer), nil)

	r.checkAll(context.Background())
	r.checkAll(context.Background())
	require.Zero(t, r.Len())

	r.Add(Endpoint{Host: "a", Port: 1})
	assert.Equal(t, 1, r.Len())
}

func TestRotatorAddIgnoresDuplicates(t *testing.T) {
	r := NewRotator([]Endpoint{{Host: "a", Port: 1}}, Options{}, nil)
	r.Add(Endpoint{Host: "a", Port: 1})
	assert.Equal(t, 1, r.Len())
}
