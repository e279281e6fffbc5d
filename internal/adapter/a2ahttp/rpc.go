package a2ahttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/domain/failure"
	"github.com/Strob0t/agentrelay/internal/port/a2a"
)

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Message a2a.Message `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Retryable  bool    `json:"retryable"`
		RetryAfter float64 `json:"retryAfter"` // seconds
	} `json:"data"`
}

// classify turns a JSON-RPC error object into a RemoteError. The error's
// data block decides retryability.
func (e *rpcError) classify() *failure.Error {
	fe := &failure.Error{
		Kind: failure.KindRemote,
		Msg:  fmt.Sprintf("rpc error %d: %s", e.Code, e.Message),
	}
	if e.Data != nil {
		fe.Retryable = e.Data.Retryable
		if e.Data.RetryAfter > 0 {
			fe.RetryAfter = time.Duration(e.Data.RetryAfter * float64(time.Second))
		}
	}
	return fe
}

func encodeRequest(method string, msg a2a.Message) ([]byte, error) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Role == "" {
		msg.Role = "user"
	}
	return json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  rpcParams{Message: msg},
	})
}

// decodeFrameData decodes one stream frame. Data may be a bare frame or a
// JSON-RPC response whose result is the frame.
func decodeFrameData(data []byte) (event.Frame, error) {
	data = bytes.TrimSpace(data)
	var probe struct {
		JSONRPC string `json:"jsonrpc"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return event.Frame{}, failure.Protocol(err, "undecodable frame")
	}
	if probe.JSONRPC == "" {
		return decodeFrame(data)
	}
	result, err := decodeEnvelope(data)
	if err != nil {
		return event.Frame{}, err
	}
	return decodeFrame(result)
}

// decodeCallResult decodes a message/send response. The result is either a
// final frame or the artifact itself.
func decodeCallResult(data []byte) (event.Frame, error) {
	result, err := decodeEnvelope(data)
	if err != nil {
		return event.Frame{}, err
	}
	var shape map[string]json.RawMessage
	if json.Unmarshal(result, &shape) == nil {
		if _, ok := shape["event"]; ok {
			return decodeFrame(result)
		}
	}
	f, err := event.ArtifactFrame(result)
	if err != nil {
		return event.Frame{}, failure.Protocol(err, "invalid result")
	}
	return f, nil
}

func decodeFrame(data []byte) (event.Frame, error) {
	f, err := event.DecodeFrame(data)
	if err != nil {
		return event.Frame{}, failure.Protocol(err, "invalid frame")
	}
	return f, nil
}

// decodeEnvelope checks a JSON-RPC response and returns its result.
func decodeEnvelope(data []byte) (json.RawMessage, error) {
	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, failure.Protocol(err, "undecodable json-rpc envelope")
	}
	if resp.JSONRPC != "2.0" {
		return nil, failure.Protocol(nil, "unexpected jsonrpc version %q", resp.JSONRPC)
	}
	if resp.Error != nil {
		return nil, resp.Error.classify()
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, failure.Protocol(nil, "json-rpc response has neither result nor error")
	}
	return resp.Result, nil
}

// parseRetryAfter reads a Retry-After header as delta-seconds or HTTP date.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
