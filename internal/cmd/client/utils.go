package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	transports "github.com/rzbill/rookery/internal/cmd/client/transports"
)

// httpClient is shared by every HTTP command except tail, which must not
// time out.
var httpClient = &http.Client{Timeout: 30 * time.Second}

// grpcAddrFromEnv returns the gRPC server address from ROOKERY_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("ROOKERY_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:50051"
}

// dialGRPCContext creates a client for the Rookery gRPC endpoint with
// insecure transport for local/dev.
func dialGRPCContext(_ context.Context) (*grpc.ClientConn, error) {
	return grpc.NewClient(grpcAddrFromEnv(), grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// decodedEvent returns a map with the event id and either payload_json or
// payload_text.
func decodedEvent(ev transports.Event) map[string]any {
	out := map[string]any{}
	if ev.ID != 0 {
		out["event_id"] = ev.ID
	}
	if len(ev.Data) > 0 && (ev.Data[0] == '{' || ev.Data[0] == '[') {
		var v any
		if json.Unmarshal(ev.Data, &v) == nil {
			out["payload_json"] = v
			return out
		}
	}
	if utf8.Valid(ev.Data) {
		out["payload_text"] = string(ev.Data)
	}
	return out
}

// printResponse writes the status line and body of resp, and returns an
// error for non-2xx codes so scripted callers see a failing exit status.
func printResponse(w io.Writer, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	fmt.Fprintln(w, "status:", resp.Status)
	if s := strings.TrimSpace(string(body)); s != "" {
		fmt.Fprintln(w, s)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}
