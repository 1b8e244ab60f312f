package http

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	opensrfaddr "github.com/evergreen-library-system/opensrf-go/addr"
	"github.com/evergreen-library-system/opensrf-go/bus"
	"github.com/evergreen-library-system/opensrf-go/config"
	"github.com/evergreen-library-system/opensrf-go/message"
)

// sessionCacheEntry pins one thread to the drone that answered its CONNECT,
// alongside the client that opened it and the service it belongs to
// (spec.md §4.7 step 2/6).
type sessionCacheEntry struct {
	ClientIP  string
	DroneAddr string
	Service   string
}

// Translator is the HTTP-to-bus bridge of spec.md §4.7.
type Translator struct {
	Client      bus.Client
	Domain      string
	SelfAddress string
	Config      config.TranslatorConfig
	trace       func(string)

	mu    sync.Mutex
	cache *lru.Cache[string, sessionCacheEntry]
}

// New builds a Translator. trace may be nil, in which case trace messages
// are dropped — the same "do nothing by default" convention the teacher's
// acp.Run uses for its trace closure. The pinned-session cache is capacity
// bounded by Config.MaxActiveStatefulSessions (spec.md §4.7's
// MAX_ACTIVE_STATEFUL_SESSIONS): once full, admitting a new thread evicts
// the least recently used one rather than refusing it.
func New(client bus.Client, domain, selfAddress string, cfg config.TranslatorConfig, trace func(string)) *Translator {
	if trace == nil {
		trace = func(string) {}
	}
	size := cfg.MaxActiveStatefulSessions
	if size <= 0 {
		size = 128
	}
	cache, _ := lru.New[string, sessionCacheEntry](size)
	return &Translator{
		Client:      client,
		Domain:      domain,
		SelfAddress: selfAddress,
		Config:      cfg,
		trace:       trace,
		cache:       cache,
	}
}

func (t *Translator) getCache(thread string) (sessionCacheEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Get(thread)
}

func (t *Translator) putCache(thread string, e sessionCacheEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Add(thread, e)
}

func (t *Translator) evict(thread string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Remove(thread)
}

// ServeHTTP implements http.Handler, running one request through the full
// translation pipeline of spec.md §4.7.
func (t *Translator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	msgs, err := message.DecodeBatch(string(body))
	if err != nil {
		http.Error(w, "malformed osrf message batch", http.StatusBadRequest)
		return
	}

	service := r.Header.Get("X-OpenSRF-service")
	to := r.Header.Get("X-OpenSRF-to")

	var thread, recipient string
	switch {
	case service != "":
		thread = r.Header.Get("X-OpenSRF-thread")
		if thread == "" {
			thread = uuid.NewString()
		}
		recipient = opensrfaddr.Router(t.Domain).String()

	case to != "":
		thread = r.Header.Get("X-OpenSRF-thread")
		entry, ok := t.getCache(thread)
		if !ok || entry.DroneAddr != to {
			http.Error(w, "unknown or mismatched thread for X-OpenSRF-to", http.StatusBadRequest)
			return
		}
		recipient = to
		service = entry.Service

	default:
		http.Error(w, "request must set X-OpenSRF-service or X-OpenSRF-to", http.StatusBadRequest)
		return
	}

	locale := r.Header.Get("X-OpenSRF-locale")
	if locale == "" {
		locale = "en-US"
	}
	for i := range msgs {
		msgs[i].Locale = locale
		if msgs[i].Type == message.TypeRequest {
			t.logRequest(thread, msgs[i])
		}
	}

	t.drainStale()

	if isDisconnectOnly(msgs) {
		t.evict(thread)
		w.WriteHeader(http.StatusOK)
		return
	}

	tm, err := message.NewTransportMessage(recipient, t.SelfAddress, thread, uuid.NewString(), msgs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if service != "" && recipient != to {
		tm.RouterTo = service
	}

	if err := t.Client.Send(tm); err != nil {
		http.Error(w, "failed to send request to bus", http.StatusInternalServerError)
		return
	}

	t.recvLoop(w, r, thread, service, msgs)
}

// recvLoop implements step 6 of spec.md §4.7: wait for replies, choose
// multipart or buffered-array framing on the first one, and stream or
// accumulate until a non-100 STATUS arrives.
func (t *Translator) recvLoop(w http.ResponseWriter, r *http.Request, thread, service string, outbound []message.OSRFMessage) {
	timeout := time.Duration(t.Config.MaxRequestWaitSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	headersSent := false
	multipart := r.Header.Get("X-OpenSRF-multipart") == "true"
	boundary := "osrf-" + uuid.NewString()
	var buffered []string

	for {
		inbound, err := t.Client.Recv(timeout)
		if err != nil {
			t.evict(thread)
			if !headersSent {
				http.Error(w, "bus recv failed", http.StatusInternalServerError)
			}
			return
		}
		if inbound == nil {
			if !headersSent {
				http.Error(w, "timed out waiting for a reply", http.StatusGatewayTimeout)
			}
			return
		}
		if inbound.IsError {
			t.evict(thread)
			if !headersSent {
				http.Error(w, inbound.ErrorType, http.StatusNotFound)
			}
			return
		}

		replyMsgs, err := inbound.Messages()
		if err != nil {
			continue
		}

		if !headersSent {
			headersSent = true
			w.Header().Set("X-OpenSRF-from", inbound.Sender)
			w.Header().Set("X-OpenSRF-thread", thread)
			if containsConnect(outbound) {
				t.putCache(thread, sessionCacheEntry{ClientIP: r.RemoteAddr, DroneAddr: inbound.Sender, Service: service})
			}
			if multipart {
				w.Header().Set("Content-Type", fmt.Sprintf(`multipart/x-mixed-replace; boundary="%s"`, boundary))
			} else {
				w.Header().Set("Content-Type", "text/plain")
			}
			w.WriteHeader(http.StatusOK)
		}

		replyBody, err := message.EncodeBatch(replyMsgs)
		if err != nil {
			continue
		}

		terminal := false
		for _, m := range replyMsgs {
			if m.Type != message.TypeStatus || m.Status == nil {
				continue
			}
			if m.Status.Code == message.StatusTimeout {
				t.evict(thread)
			}
			if m.Status.Code.IsTerminal() {
				terminal = true
			}
		}

		if multipart {
			fmt.Fprintf(w, "--%s\r\nContent-Type: text/plain\r\n\r\n%s\r\n", boundary, replyBody)
			flush(w)
			if terminal {
				fmt.Fprintf(w, "--%s--\r\n", boundary)
				flush(w)
				return
			}
			continue
		}

		buffered = append(buffered, replyBody)
		if terminal {
			io.WriteString(w, joinJSONArrays(buffered))
			return
		}
	}
}

func (t *Translator) drainStale() {
	for {
		stale, err := t.Client.Recv(0)
		if err != nil || stale == nil {
			return
		}
	}
}

func (t *Translator) logRequest(thread string, m message.OSRFMessage) {
	if m.Request == nil {
		return
	}
	params := any(m.Request.Params)
	if t.redacted(m.Request.Method) {
		params = "[REDACTED]"
	}
	t.trace(fmt.Sprintf("REQUEST thread=%s method=%s params=%v", thread, m.Request.Method, params))
}

func (t *Translator) redacted(method string) bool {
	for _, pattern := range t.Config.RedactMethods {
		if match, _ := doublestar.Match(pattern, method); match {
			return true
		}
	}
	return false
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func containsConnect(msgs []message.OSRFMessage) bool {
	for _, m := range msgs {
		if m.Type == message.TypeConnect {
			return true
		}
	}
	return false
}

func isDisconnectOnly(msgs []message.OSRFMessage) bool {
	if len(msgs) == 0 {
		return false
	}
	for _, m := range msgs {
		if m.Type != message.TypeDisconnect {
			return false
		}
	}
	return true
}

// joinJSONArrays concatenates JSON-array-encoded batches into a single JSON
// array, stripping the bracketing '[' / ']' from all but the outer result
// (spec.md §4.7 step 6, non-multipart mode).
func joinJSONArrays(parts []string) string {
	var elems []string
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		trimmed = strings.TrimPrefix(trimmed, "[")
		trimmed = strings.TrimSuffix(trimmed, "]")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed != "" {
			elems = append(elems, trimmed)
		}
	}
	return "[" + strings.Join(elems, ",") + "]"
}
