package node

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"ringkv/internal/quorum"
	"ringkv/internal/replication"
	"ringkv/internal/telemetry"
)

type opResponse struct {
	TransID int64  `json:"trans_id"`
	Status  string `json:"status"`
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Replies int    `json:"replies"`
}

type memberResponse struct {
	Addr      string `json:"addr"`
	Heartbeat int64  `json:"heartbeat"`
	Status    string `json:"status"`
}

// NewHandler exposes the runner over HTTP:
//
//	POST   /kv/{key}  create, body is the value
//	PUT    /kv/{key}  update, body is the value
//	GET    /kv/{key}  read
//	DELETE /kv/{key}  delete
//	GET    /members   membership table
//	GET    /healthz   liveness
//	GET    /metrics   Prometheus metrics
func NewHandler(r *Runner) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /kv/{key}", r.writeHandler(replication.Create))
	mux.HandleFunc("PUT /kv/{key}", r.writeHandler(replication.Update))
	mux.HandleFunc("GET /kv/{key}", r.keyHandler(replication.Read))
	mux.HandleFunc("DELETE /kv/{key}", r.keyHandler(replication.Delete))
	mux.HandleFunc("GET /members", r.members)
	mux.HandleFunc("GET /healthz", r.healthz)
	mux.Handle("GET /metrics", telemetry.MetricsHandler())
	return mux
}

// healthz returns 200 OK while the node participates in the group.
func (r *Runner) healthz(w http.ResponseWriter, _ *http.Request) {
	if !r.node.Membership().Active() {
		http.Error(w, "not in group", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (r *Runner) members(w http.ResponseWriter, _ *http.Request) {
	m := r.node.Membership()
	out := []memberResponse{{Addr: m.Self().String(), Heartbeat: m.Heartbeat(), Status: "SELF"}}
	for _, p := range m.Snapshot() {
		out = append(out, memberResponse{Addr: p.Addr.String(), Heartbeat: p.Heartbeat, Status: p.Status.String()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Runner) writeHandler(op replication.MessageType) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		val, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(val) == 0 {
			// an empty value is indistinguishable from a missing key on read
			http.Error(w, "value cannot be empty", http.StatusBadRequest)
			return
		}
		r.serveOp(w, req, op, string(val))
	}
}

func (r *Runner) keyHandler(op replication.MessageType) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.serveOp(w, req, op, "")
	}
}

func (r *Runner) serveOp(w http.ResponseWriter, req *http.Request, op replication.MessageType, value string) {
	key := req.PathValue("key")
	res, err := r.Do(req.Context(), op, key, value)
	switch {
	case errors.Is(err, ErrRingTooSmall), errors.Is(err, ErrStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}

	code := http.StatusOK
	if res.Status != quorum.Success {
		code = http.StatusConflict
		if op == replication.Read {
			code = http.StatusNotFound
		}
	}
	writeJSON(w, code, opResponse{
		TransID: res.TransID,
		Status:  res.Status.String(),
		Key:     res.Key,
		Value:   res.Value,
		Replies: res.Replies,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
