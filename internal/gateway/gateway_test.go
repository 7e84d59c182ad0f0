package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nodegrid/inference-gateway/internal/api"
	"github.com/nodegrid/inference-gateway/internal/forward"
	"github.com/nodegrid/inference-gateway/internal/registry"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// --- helpers ----------------------------------------------------------------

// stubForwarder substitutes the outbound transport with a function.
type stubForwarder struct {
	fn func(ctx context.Context, target registry.Target, body []byte) (*forward.BackendReply, error)
}

func (s *stubForwarder) Forward(ctx context.Context, target registry.Target, body []byte) (*forward.BackendReply, error) {
	return s.fn(ctx, target, body)
}

func testRegistry(chatURL, speechURL string) *registry.Registry {
	return registry.New(
		registry.Target{Name: "llm-node", URL: chatURL},
		registry.Target{Name: "TTS node", URL: speechURL},
	)
}

// serveGateway starts a fasthttp server on an in-memory listener with the
// gateway's middleware pipeline. Returns an HTTP client that routes to it,
// and a cleanup function.
func serveGateway(t *testing.T, gw *Gateway) (*http.Client, func()) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()

	handler := applyMiddleware(
		func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/v1/chat/completions":
				gw.dispatchChat(ctx)
			case "/v1/audio/speech":
				gw.dispatchSpeech(ctx)
			default:
				ctx.SetStatusCode(404)
			}
		},
		recovery,
		requestID,
		timing,
		corsHandler(nil),
	)

	go func() {
		_ = fasthttp.Serve(ln, handler)
	}()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}

	return client, func() { ln.Close() }
}

// doPost sends a POST request via the in-memory listener client.
func doPost(t *testing.T, client *http.Client, path string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest("POST", "http://test"+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// readBody reads and returns the full response body.
func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// --- constructor ------------------------------------------------------------

func TestNewWithOptions_PanicsOnNilDeps(t *testing.T) {
	reg := testRegistry("http://x", "http://y")
	fwd := &stubForwarder{}

	tests := []struct {
		name string
		fn   func()
	}{
		{"nil context", func() { New(nil, reg, fwd) }},
		{"nil registry", func() { New(context.Background(), nil, fwd) }},
		{"nil forwarder", func() { New(context.Background(), reg, nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}

// --- chat relay -------------------------------------------------------------

// Scenario A: a healthy chat backend's status and body relay verbatim.
func TestChat_RelaysBackendResponseVerbatim(t *testing.T) {
	backendBody := `{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"hi back"}}]}`

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, backendBody)
	}))
	defer backend.Close()

	gw := New(context.Background(), testRegistry(backend.URL, "http://unused"),
		forward.NewHTTPForwarder(backend.Client()))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/chat/completions",
		[]byte(`{"model":"qwen3-8b-instruct","messages":[{"role":"user","content":"hi"}]}`))

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if got := string(readBody(t, resp)); got != backendBody {
		t.Errorf("body = %s, want the backend body verbatim", got)
	}
}

// Scenario B: an unreachable chat backend becomes exactly one 502 with a
// non-empty diagnostic — never any other status.
func TestChat_UnreachableBackendIs502(t *testing.T) {
	// A closed server gives us a connection-refused target URL.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	gw := New(context.Background(), testRegistry(deadURL, "http://unused"),
		forward.NewHTTPForwarder(&http.Client{}))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/chat/completions",
		[]byte(`{"model":"qwen3-8b-instruct","messages":[]}`))

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var er struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(readBody(t, resp), &er); err != nil {
		t.Fatalf("502 body is not the error envelope: %v", err)
	}
	if !strings.HasPrefix(er.Error, "llm-node unreachable: ") {
		t.Errorf("error = %q, want the llm-node prefix", er.Error)
	}
	if strings.TrimPrefix(er.Error, "llm-node unreachable: ") == "" {
		t.Error("diagnostic detail must be non-empty")
	}
}

func TestChat_ForwardsDecodedRequestUnchanged(t *testing.T) {
	var received api.ChatCompletionRequest

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("backend received invalid JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","choices":[]}`)
	}))
	defer backend.Close()

	gw := New(context.Background(), testRegistry(backend.URL, "http://unused"),
		forward.NewHTTPForwarder(backend.Client()))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/chat/completions",
		[]byte(`{"model":"llama-3-70b","messages":[{"role":"system","content":"be terse"},{"role":"user","content":"hello"}]}`))
	readBody(t, resp)

	if received.Model != "llama-3-70b" {
		t.Errorf("model = %q", received.Model)
	}
	if len(received.Messages) != 2 ||
		received.Messages[0] != (api.ChatMessage{Role: "system", Content: "be terse"}) ||
		received.Messages[1] != (api.ChatMessage{Role: "user", Content: "hello"}) {
		t.Errorf("messages = %+v", received.Messages)
	}
}

// Boundary: an empty messages sequence is accepted and forwarded, not rejected.
func TestChat_EmptyMessagesAccepted(t *testing.T) {
	var rawBody []byte

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","choices":[]}`)
	}))
	defer backend.Close()

	gw := New(context.Background(), testRegistry(backend.URL, "http://unused"),
		forward.NewHTTPForwarder(backend.Client()))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/chat/completions", []byte(`{"model":"m","messages":[]}`))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	readBody(t, resp)

	if !strings.Contains(string(rawBody), `"messages":[]`) {
		t.Errorf("forwarded body = %s, want an explicit empty messages array", rawBody)
	}
}

func TestChat_MalformedJSONIs400(t *testing.T) {
	gw := New(context.Background(), testRegistry("http://unused", "http://unused"),
		&stubForwarder{fn: func(context.Context, registry.Target, []byte) (*forward.BackendReply, error) {
			t.Error("the forwarder must not be reached for malformed JSON")
			return nil, nil
		}})
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/chat/completions", []byte(`{not json`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if !strings.Contains(string(readBody(t, resp)), "invalid JSON") {
		t.Error("expected an invalid JSON diagnostic")
	}
}

// Idempotence: a stateless backend seen twice yields identical gateway
// responses — nothing accumulates across requests.
func TestChat_RepeatedRequestsAreIdentical(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"fixed","choices":[]}`)
	}))
	defer backend.Close()

	gw := New(context.Background(), testRegistry(backend.URL, "http://unused"),
		forward.NewHTTPForwarder(backend.Client()))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	reqBody := []byte(`{"model":"qwen3-8b-instruct","messages":[{"role":"user","content":"hi"}]}`)

	first := doPost(t, client, "/v1/chat/completions", reqBody)
	firstStatus, firstBody := first.StatusCode, string(readBody(t, first))

	for i := 0; i < 5; i++ {
		resp := doPost(t, client, "/v1/chat/completions", reqBody)
		status, body := resp.StatusCode, string(readBody(t, resp))
		if status != firstStatus || body != firstBody {
			t.Fatalf("request %d differed: status=%d body=%s", i, status, body)
		}
	}
}

// Backend application errors (4xx/5xx) relay as-is: a relay of an
// unsuccessful backend outcome is still a successful relay.
func TestChat_BackendErrorStatusPassesThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"detail":"model crashed"}`)
	}))
	defer backend.Close()

	gw := New(context.Background(), testRegistry(backend.URL, "http://unused"),
		forward.NewHTTPForwarder(backend.Client()))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/chat/completions", []byte(`{"model":"m","messages":[]}`))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want the backend's 500", resp.StatusCode)
	}
	if got := string(readBody(t, resp)); got != `{"detail":"model crashed"}` {
		t.Errorf("body = %s, want the backend body unchanged", got)
	}
}

// --- speech relay -----------------------------------------------------------

// Scenario C: audio bytes relay byte-identical with the backend content type.
func TestSpeech_RelaysAudioVerbatim(t *testing.T) {
	audio := []byte("RIFF\x00\x01\x02\x03WAVEfmt fake-pcm-payload")

	var received api.SpeechRequest
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("backend received invalid JSON: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Write(audio)
	}))
	defer backend.Close()

	gw := New(context.Background(), testRegistry("http://unused", backend.URL),
		forward.NewHTTPForwarder(backend.Client()))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/audio/speech",
		[]byte(`{"input":"hello","voice":"en_US","format":"wav"}`))

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("content type = %q, want audio/wav", ct)
	}
	if got := readBody(t, resp); !bytes.Equal(got, audio) {
		t.Errorf("audio bytes differ: got %d bytes, want %d", len(got), len(audio))
	}

	if received.Input != "hello" || received.Voice == nil || *received.Voice != "en_US" ||
		received.Format == nil || *received.Format != "wav" {
		t.Errorf("backend received %+v", received)
	}
}

// Scenario D: a backend 400 for an unsupported format relays unchanged.
func TestSpeech_BackendRejectionPassesThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, "Unsupported format; only 'wav' is implemented")
	}))
	defer backend.Close()

	gw := New(context.Background(), testRegistry("http://unused", backend.URL),
		forward.NewHTTPForwarder(backend.Client()))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/audio/speech", []byte(`{"input":"hello","format":"mp3"}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if got := string(readBody(t, resp)); got != "Unsupported format; only 'wav' is implemented" {
		t.Errorf("body = %q, want the backend's rejection unchanged", got)
	}
}

func TestSpeech_UnreachableBackendIs502WithTTSPrefix(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	gw := New(context.Background(), testRegistry("http://unused", deadURL),
		forward.NewHTTPForwarder(&http.Client{}))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/audio/speech", []byte(`{"input":"hello"}`))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	var er struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(readBody(t, resp), &er); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(er.Error, "TTS node unreachable: ") {
		t.Errorf("error = %q, want the TTS node prefix", er.Error)
	}
}

func TestSpeech_AbsentOptionalFieldsStayAbsent(t *testing.T) {
	var rawBody []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "audio/wav")
	}))
	defer backend.Close()

	gw := New(context.Background(), testRegistry("http://unused", backend.URL),
		forward.NewHTTPForwarder(backend.Client()))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	resp := doPost(t, client, "/v1/audio/speech", []byte(`{"input":"hello"}`))
	readBody(t, resp)

	s := string(rawBody)
	if strings.Contains(s, "voice") || strings.Contains(s, "format") {
		t.Errorf("optional fields materialised in the forwarded body: %s", s)
	}
}

// --- routing ----------------------------------------------------------------

func TestChat_PrefixRuleSelectsBackend(t *testing.T) {
	var hitGPU0, hitDefault bool

	gpu0 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitGPU0 = true
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"gpu0","choices":[]}`)
	}))
	defer gpu0.Close()

	def := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitDefault = true
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"default","choices":[]}`)
	}))
	defer def.Close()

	reg := registry.New(
		registry.Target{Name: "llm-node", URL: def.URL},
		registry.Target{Name: "TTS node", URL: "http://unused"},
		registry.Rule{Prefix: "qwen3-", Target: registry.Target{Name: "llm-node", URL: gpu0.URL}},
	)

	gw := New(context.Background(), reg, forward.NewHTTPForwarder(&http.Client{}))
	client, cleanup := serveGateway(t, gw)
	defer cleanup()

	readBody(t, doPost(t, client, "/v1/chat/completions", []byte(`{"model":"qwen3-8b-instruct","messages":[]}`)))
	if !hitGPU0 || hitDefault {
		t.Errorf("qwen3 model: gpu0=%v default=%v, want the rule target only", hitGPU0, hitDefault)
	}

	hitGPU0, hitDefault = false, false
	readBody(t, doPost(t, client, "/v1/chat/completions", []byte(`{"model":"mistral-7b","messages":[]}`)))
	if hitGPU0 || !hitDefault {
		t.Errorf("unmatched model: gpu0=%v default=%v, want the default target", hitGPU0, hitDefault)
	}
}
