package generator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStep_Validation(t *testing.T) {
	tmpl := MustPromptTemplate("{topic}", "topic")

	_, err := NewStep(nil, StepConfig{OutputKey: "title", Template: tmpl})
	assert.Error(t, err)

	_, err = NewStep(&fakeLLM{}, StepConfig{OutputKey: "title"})
	assert.ErrorIs(t, err, ErrInvalidChain)

	_, err = NewStep(&fakeLLM{}, StepConfig{Template: tmpl})
	assert.ErrorIs(t, err, ErrInvalidChain)

	_, err = NewStep(&fakeLLM{}, StepConfig{OutputKey: "title", Template: tmpl, Temperature: 3})
	assert.ErrorIs(t, err, ErrInvalidChain)

	st, err := NewStep(&fakeLLM{}, StepConfig{OutputKey: "title", Template: tmpl})
	require.NoError(t, err)
	assert.Equal(t, "title", st.Name())
}

func TestStep_RunRecordsInputAndOutput(t *testing.T) {
	llm := &fakeLLM{replies: map[string]string{"pid": "  generated PID \n"}}
	st, err := NewStep(llm, StepConfig{
		Name:        "pid",
		OutputKey:   "title",
		System:      "be precise",
		Template:    MustPromptTemplate("PID for {topic}", "topic"),
		Temperature: 0.5,
	})
	require.NoError(t, err)

	tr := NewTranscript("")
	key, text, err := st.Run(context.Background(), tr, map[string]string{"topic": "Website Relaunch"})
	require.NoError(t, err)

	assert.Equal(t, "title", key)
	assert.Equal(t, "generated PID", text)
	require.Len(t, llm.prompts, 1)
	assert.Equal(t, Prompt{Step: "pid", System: "be precise", User: "PID for Website Relaunch", Temperature: 0.5}, llm.prompts[0])

	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "topic", entries[0].Key)
	assert.Equal(t, "Website Relaunch", entries[0].Text)
	assert.Equal(t, "title", entries[1].Key)
	assert.Equal(t, "generated PID", entries[1].Text)
}

func TestStep_RunRecordsRenderedPromptWithoutInputKey(t *testing.T) {
	llm := &fakeLLM{}
	st := newTestStep(llm, "script", "script", "Elaborate: {title}", "title")

	tr := NewTranscript("")
	_, _, err := st.Run(context.Background(), tr, map[string]string{"title": "PID"})
	require.NoError(t, err)

	entries := tr.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, PromptInputKey, entries[0].Key)
	assert.Equal(t, "Elaborate: PID", entries[0].Text)
}

func TestStep_RunPropagatesCompletionError(t *testing.T) {
	boom := errors.New("rate limited")
	llm := &fakeLLM{errs: map[string]error{"pid": boom}}
	st := newTestStep(llm, "pid", "title", "{topic}", "topic")

	tr := NewTranscript("")
	_, _, err := st.Run(context.Background(), tr, map[string]string{"topic": "x"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, tr.Len(), "input stays recorded, no output entry")
}

func TestStep_RunEmptyCompletion(t *testing.T) {
	llm := &fakeLLM{replies: map[string]string{"pid": " \n\t"}}
	st := newTestStep(llm, "pid", "title", "{topic}", "topic")

	_, _, err := st.Run(context.Background(), NewTranscript(""), map[string]string{"topic": "x"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestStep_RunMissingBindingDoesNotCallModel(t *testing.T) {
	llm := &fakeLLM{}
	st := newTestStep(llm, "pid", "title", "{topic}", "topic")

	tr := NewTranscript("")
	_, _, err := st.Run(context.Background(), tr, map[string]string{})
	assert.ErrorIs(t, err, ErrMissingBinding)
	assert.Empty(t, llm.prompts)
	assert.Zero(t, tr.Len())
}

func TestStep_RetryOnlyAppends(t *testing.T) {
	st := newTestStep(&fakeLLM{}, "pid", "title", "{topic}", "topic")
	tr := NewTranscript("")
	for i := 0; i < 2; i++ {
		_, _, err := st.Run(context.Background(), tr, map[string]string{"topic": "x"})
		require.NoError(t, err)
	}
	assert.Equal(t, 4, tr.Len())
}
