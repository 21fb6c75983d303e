package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"pmo_doc_generator/buildinfo"
	"pmo_doc_generator/exporter"
	"pmo_doc_generator/generator"
	"pmo_doc_generator/metrics"
)

//go:embed web/index.html
var webFiles embed.FS

// maxTopicBytes bounds the form/JSON body; topics are one line of text.
const maxTopicBytes = 16 << 10

type Server struct {
	chain   *generator.SequentialChain
	metrics *metrics.Metrics
	logger  *slog.Logger
	page    *template.Template

	// runMu 串行化链路运行：transcript 只允许单写者，读取走 Transcript 自己的锁。
	runMu      sync.Mutex
	transcript *generator.Transcript
	store      *runStore
}

// maxStoredRuns 限制保存的运行结果数量，超出后淘汰最早的结果。
const maxStoredRuns = 64

// runStore keeps the most recent results for document download, oldest first.
type runStore struct {
	mu    sync.Mutex
	limit int
	order []string
	runs  map[string]*generator.RunResult
}

func newStore(limit int) *runStore {
	return &runStore{limit: limit, runs: make(map[string]*generator.RunResult)}
}

func (s *runStore) set(res *generator.RunResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[res.ID]; !ok {
		s.order = append(s.order, res.ID)
	}
	s.runs[res.ID] = res
	for len(s.order) > s.limit {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *runStore) get(id string) (*generator.RunResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.runs[id]
	return res, ok
}

// New wires the chain to the web surface. transcript is the process-wide
// history shown in the "Message History" panel.
func New(chain *generator.SequentialChain, transcript *generator.Transcript, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	if chain == nil {
		return nil, errors.New("chain required")
	}
	if transcript == nil {
		transcript = generator.NewTranscript(chain.InputKey())
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	page, err := template.New("index.html").ParseFS(webFiles, "web/index.html")
	if err != nil {
		return nil, err
	}
	return &Server{
		chain:      chain,
		metrics:    m,
		logger:     logger,
		page:       page,
		transcript: transcript,
		store:      newStore(maxStoredRuns),
	}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /{$}", s.handleSubmit)
	mux.HandleFunc("GET /runs/{id}/document", s.handleDocument)
	mux.HandleFunc("POST /api/runs", s.handleRunCreate)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRunGet)
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return logMiddleware(s.logger, mux)
}

// execute 运行一次链路并保存结果；空主题在进入链路前返回 ErrEmptyTopic。
func (s *Server) execute(ctx context.Context, topic string) (*generator.RunResult, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, generator.ErrEmptyTopic
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	res, err := s.chain.Execute(ctx, s.transcript, topic)
	s.metrics.ObserveRun(err)
	if err != nil {
		s.logger.Error("chain run failed", "topic", topic, "error", err)
		return nil, err
	}
	s.store.set(res)
	return res, nil
}

// transcriptSnapshot 不持有 runMu，运行中的请求不会阻塞读取。
func (s *Server) transcriptSnapshot() (string, []generator.TranscriptEntry) {
	return s.transcript.Snapshot()
}

// --- HTML handlers ---

type pageData struct {
	Title       string
	Topic       string
	Outputs     []renderedOutput
	Transcript  string
	DownloadURL string
	Error       string
}

type renderedOutput struct {
	Key  string
	HTML template.HTML
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, pageData{})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxTopicBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	topic := r.PostFormValue("topic")
	if strings.TrimSpace(topic) == "" {
		s.renderPage(w, http.StatusOK, pageData{})
		return
	}

	res, err := s.execute(r.Context(), topic)
	if err != nil {
		s.renderPage(w, http.StatusBadGateway, pageData{
			Topic: topic,
			Error: "Document generation failed. Please try again later.",
		})
		return
	}

	data := pageData{
		Topic:       topic,
		DownloadURL: "/runs/" + res.ID + "/document",
	}
	for _, o := range res.Outputs {
		html, err := markdownHTML(o.Text)
		if err != nil {
			s.logger.Warn("markdown render failed; showing plain text", "key", o.Key, "error", err)
			html = template.HTML("<pre>" + template.HTMLEscapeString(o.Text) + "</pre>")
		}
		data.Outputs = append(data.Outputs, renderedOutput{Key: o.Key, HTML: html})
	}
	data.Transcript, _ = s.transcriptSnapshot()
	s.renderPage(w, http.StatusOK, data)
}

func (s *Server) renderPage(w http.ResponseWriter, status int, data pageData) {
	if data.Title == "" {
		data.Title = "PMO Document Generator"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.page.Execute(w, data); err != nil {
		s.logger.Error("render page", "error", err)
	}
}

// handleDocument 导出 docx：先完整生成到内存，成功后才写响应，失败时不输出任何文档字节。
func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	res, ok := s.store.get(r.PathValue("id"))
	if !ok {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	data, err := exporter.Export(exporter.DefaultTitle, res.Combined())
	s.metrics.ObserveExport(err)
	if err != nil {
		s.logger.Error("document export failed", "run_id", res.ID, "error", err)
		http.Error(w, "document export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", exporter.DocumentMIME)
	w.Header().Set("Content-Disposition", `attachment; filename="`+exporter.DocumentFilename+`"`)
	_, _ = w.Write(data)
}

// --- JSON handlers ---

type runCreateReq struct {
	Topic string `json:"topic"`
}

type runResp struct {
	RunID       string            `json:"run_id"`
	Topic       string            `json:"topic"`
	Outputs     map[string]string `json:"outputs"`
	OutputKeys  []string          `json:"output_keys"`
	Combined    string            `json:"combined"`
	DocumentURL string            `json:"document_url"`
	Transcript  string            `json:"transcript,omitempty"`
}

type transcriptResp struct {
	Rendered string                      `json:"rendered"`
	Entries  []generator.TranscriptEntry `json:"entries"`
}

type errorResp struct {
	Error string `json:"error"`
}

func (s *Server) handleRunCreate(w http.ResponseWriter, r *http.Request) {
	var req runCreateReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTopicBytes)).Decode(&req); err != nil {
		writeJSONStatus(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	res, err := s.execute(r.Context(), req.Topic)
	switch {
	case errors.Is(err, generator.ErrEmptyTopic):
		writeJSONStatus(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	case err != nil:
		writeJSONStatus(w, http.StatusBadGateway, errorResp{Error: "completion service failed"})
		return
	}
	resp := toRunResp(res)
	resp.Transcript, _ = s.transcriptSnapshot()
	writeJSONStatus(w, http.StatusCreated, resp)
}

func (s *Server) handleRunGet(w http.ResponseWriter, r *http.Request) {
	res, ok := s.store.get(r.PathValue("id"))
	if !ok {
		writeJSONStatus(w, http.StatusNotFound, errorResp{Error: "run not found"})
		return
	}
	writeJSON(w, toRunResp(res))
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	rendered, entries := s.transcriptSnapshot()
	writeJSON(w, transcriptResp{Rendered: rendered, Entries: entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info())
}

func toRunResp(res *generator.RunResult) runResp {
	outputs := make(map[string]string, len(res.Outputs))
	for _, o := range res.Outputs {
		outputs[o.Key] = o.Text
	}
	return runResp{
		RunID:       res.ID,
		Topic:       res.Topic,
		Outputs:     outputs,
		OutputKeys:  res.Keys(),
		Combined:    res.Combined(),
		DocumentURL: "/runs/" + res.ID + "/document",
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}
