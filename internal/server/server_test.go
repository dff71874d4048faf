package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ServeAndShutdown(t *testing.T) {
	t.Parallel()

	for _, h2 := range []bool{false, true} {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)

		handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		})
		srv := NewServer(ln.Addr().String(), handler, h2)
		assert.Equal(t, ln.Addr().String(), srv.Addr())

		done := make(chan error, 1)
		go func() { done <- srv.Serve(ln) }()

		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, "ok", string(body))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, srv.Shutdown(ctx))
		cancel()
		assert.NoError(t, <-done)
	}
}
