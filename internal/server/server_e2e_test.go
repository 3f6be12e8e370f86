package server

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/config"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/graphstore"
	"github.com/ZanzyTHEbar/hybrid-kg-go/pkg/engine"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

// pickFreePort tries to get a free TCP port on 127.0.0.1
func pickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func TestSSEServer_ListTools(t *testing.T) {
	graphCfg := graphstore.NewConfig()
	graphCfg.URL = "file:test-e2e?mode=memory&cache=shared"
	cfg := config.NewConfig()
	cfg.EmbeddingDims = 4
	eng, err := engine.New(cfg, engine.Options{GraphConfig: graphCfg})
	require.NoError(t, err)
	defer eng.Close()

	srv := NewMCPServer(eng)

	port, err := pickFreePort()
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	endpoint := "/sse"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// start SSE server
	go func() { _ = srv.RunSSE(ctx, addr, endpoint) }()

	// wait briefly for server to bind
	time.Sleep(150 * time.Millisecond)

	// connect with MCP SSE client
	client := mcp.NewClient(&mcp.Implementation{Name: "e2e-client", Version: "test"}, nil)
	transport := mcp.NewSSEClientTransport("http://"+addr+endpoint, nil)

	// retry connect a few times to avoid flakes
	var session *mcp.ClientSession
	for i := 0; i < 5; i++ {
		session, err = client.Connect(ctx, transport)
		if err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)
	require.NotEmpty(t, tools.Tools)
}
