package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmo_doc_generator/exporter"
	"pmo_doc_generator/generator"
	"pmo_doc_generator/metrics"
)

type scriptedLLM struct {
	replies map[string]string
	err     error
	calls   int
}

func (l *scriptedLLM) Complete(_ context.Context, p generator.Prompt) (string, error) {
	l.calls++
	if l.err != nil {
		return "", l.err
	}
	return l.replies[p.Step], nil
}

type fixture struct {
	srv        *Server
	handler    http.Handler
	llm        *scriptedLLM
	transcript *generator.Transcript
	metrics    *metrics.Metrics
}

func newFixture(t *testing.T, llmErr error) *fixture {
	t.Helper()
	llm := &scriptedLLM{
		replies: map[string]string{"pid": "# PID\n\nScope for relaunch", "script": "## Narrative\n\n- step one"},
		err:     llmErr,
	}
	steps := []*generator.Step{
		mustStep(t, llm, "pid", "title", "PID for {topic}", "topic"),
		mustStep(t, llm, "script", "script", "Elaborate {title}", "title"),
	}
	chain, err := generator.NewSequentialChain("topic", steps)
	require.NoError(t, err)

	tr := generator.NewTranscript("topic")
	m := metrics.New()
	srv, err := New(chain, tr, m, nil)
	require.NoError(t, err)
	return &fixture{srv: srv, handler: srv.Routes(), llm: llm, transcript: tr, metrics: m}
}

func mustStep(t *testing.T, llm generator.LLMClient, name, key, tmpl string, vars ...string) *generator.Step {
	t.Helper()
	pt, err := generator.NewPromptTemplate(tmpl, vars...)
	require.NoError(t, err)
	st, err := generator.NewStep(llm, generator.StepConfig{Name: name, OutputKey: key, Template: pt})
	require.NoError(t, err)
	return st
}

func (f *fixture) do(method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) submit(topic string) *httptest.ResponseRecorder {
	form := url.Values{"topic": {topic}}
	return f.do(http.MethodPost, "/", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
}

func TestNew_RequiresChain(t *testing.T) {
	_, err := New(nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestIndex(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "PMO Document Generator")
	assert.NotContains(t, rec.Body.String(), "Download Word Document")
}

func TestSubmit_EmptyTopicIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.submit("   ")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "Download Word Document")
	assert.NotContains(t, rec.Body.String(), "Message History")
	assert.Zero(t, f.llm.calls)
	assert.Zero(t, f.transcript.Len())
}

func TestSubmit_RendersOutputsAndHistory(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.submit("Website Relaunch")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<h1>PID</h1>")
	assert.Contains(t, body, "<li>step one</li>")
	assert.Contains(t, body, "Download Word Document")
	assert.Contains(t, body, "Message History")
	assert.Contains(t, body, "topic: Website Relaunch")
	assert.Equal(t, 2, f.llm.calls)
}

func TestSubmit_UpstreamFailureShowsGenericError(t *testing.T) {
	f := newFixture(t, context.DeadlineExceeded)
	rec := f.submit("Website Relaunch")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Document generation failed")
	assert.NotContains(t, rec.Body.String(), "Download Word Document")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues(metrics.OutcomeError)))
}

func TestAPI_RunLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/runs", strings.NewReader(`{"topic":"Website Relaunch"}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)

	var created runResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.NotEmpty(t, created.RunID)
	assert.Equal(t, []string{"title", "script"}, created.OutputKeys)
	assert.Equal(t, "# PID\n\nScope for relaunch", created.Outputs["title"])
	assert.Equal(t, created.Outputs["title"]+"\n\n"+created.Outputs["script"], created.Combined)
	assert.Contains(t, created.Transcript, "title: # PID")

	rec = f.do(http.MethodGet, "/api/runs/"+created.RunID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched runResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fetched))
	assert.Equal(t, created.Outputs, fetched.Outputs)

	rec = f.do(http.MethodGet, created.DocumentURL, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, exporter.DocumentMIME, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), exporter.DocumentFilename)

	doc, err := exporter.Parse(rec.Body.Bytes())
	require.NoError(t, err)
	heading, _ := doc.Heading()
	assert.Equal(t, exporter.DefaultTitle, heading)
	require.Len(t, doc.Body(), 1)
	assert.Equal(t, created.Combined, doc.Body()[0].Text)
}

func TestAPI_EmptyTopic(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/runs", strings.NewReader(`{"topic":""}`), "application/json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.llm.calls)
}

func TestAPI_BadJSON(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/runs", strings.NewReader(`{`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_UpstreamFailure(t *testing.T) {
	f := newFixture(t, errors.New("401 invalid api key"))
	rec := f.do(http.MethodPost, "/api/runs", strings.NewReader(`{"topic":"Website Relaunch"}`), "application/json")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "invalid api key", "upstream details are not leaked")
}

func TestAPI_UnknownRun(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/runs/nope", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/runs/nope/document", nil, "").Code)
}

func TestAPI_Transcript(t *testing.T) {
	f := newFixture(t, nil)
	f.submit("Website Relaunch")
	f.submit("Data Migration")

	rec := f.do(http.MethodGet, "/api/transcript", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tr transcriptResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tr))
	assert.Len(t, tr.Entries, 8)
	assert.Equal(t, 1, tr.Entries[0].Seq)
	assert.Equal(t, 8, tr.Entries[7].Seq)
	assert.Contains(t, tr.Rendered, "topic: Data Migration")
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)

	f.submit("Website Relaunch")
	rec = f.do(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pmodoc_chain_runs_total{outcome="ok"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodDelete, "/api/runs", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRunStore_EvictsOldest(t *testing.T) {
	st := newStore(2)
	st.set(&generator.RunResult{ID: "a"})
	st.set(&generator.RunResult{ID: "b"})
	st.set(&generator.RunResult{ID: "a"})
	st.set(&generator.RunResult{ID: "c"})

	_, ok := st.get("a")
	assert.False(t, ok, "oldest run evicted")
	_, ok = st.get("b")
	assert.True(t, ok)
	_, ok = st.get("c")
	assert.True(t, ok)
	assert.Len(t, st.runs, 2)
	assert.Len(t, st.order, 2)
}

// blockingLLM 在 release 关闭前一直阻塞，用于观察运行中的读取。
type blockingLLM struct {
	started chan struct{}
	release chan struct{}
}

func (l *blockingLLM) Complete(ctx context.Context, p generator.Prompt) (string, error) {
	select {
	case l.started <- struct{}{}:
	default:
	}
	select {
	case <-l.release:
		return p.Step + " done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestTranscript_ReadableDuringRun(t *testing.T) {
	llm := &blockingLLM{started: make(chan struct{}, 1), release: make(chan struct{})}
	chain, err := generator.NewSequentialChain("topic", []*generator.Step{
		mustStep(t, llm, "pid", "title", "PID for {topic}", "topic"),
	})
	require.NoError(t, err)
	srv, err := New(chain, nil, nil, nil)
	require.NoError(t, err)
	h := srv.Routes()

	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"topic":"Website Relaunch"}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		done <- rec.Code
	}()

	select {
	case <-llm.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run never reached the completion service")
	}

	got := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/transcript", nil))
		got <- rec
	}()

	select {
	case rec := <-got:
		require.Equal(t, http.StatusOK, rec.Code)
		var tr transcriptResp
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&tr))
		require.Len(t, tr.Entries, 1)
		assert.Equal(t, "topic: Website Relaunch", tr.Rendered)
	case <-time.After(5 * time.Second):
		t.Fatal("transcript read blocked by in-flight run")
	}

	close(llm.release)
	assert.Equal(t, http.StatusCreated, <-done)
}

func TestDocument_ExportFailureReturnsNoBytes(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.replies["pid"] = "page one\fpage two"

	rec := f.do(http.MethodPost, "/api/runs", strings.NewReader(`{"topic":"Website Relaunch"}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created runResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = f.do(http.MethodGet, created.DocumentURL, nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEqual(t, exporter.DocumentMIME, rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "PK")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ExportsTotal.WithLabelValues(metrics.OutcomeError)))
}
