package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foxzi/leadcast/internal/campaign"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCompleter struct {
	reply string
	err   error
	last  Request
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(ctx context.Context, req Request) (string, error) {
	f.last = req
	return f.reply, f.err
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"Sure! Here you go: {\"a\":1} hope it helps", `{"a":1}`},
		{"no json here", "no json here"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanJSON(tt.in))
	}
}

func TestParseSubjects(t *testing.T) {
	long := strings.Repeat("x", MaxSubjectLength+1)

	tests := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{"three valid", `{"subjects":["A","B","C"]}`, []string{"A", "B", "C"}, false},
		{"truncated to three", `{"subjects":["A","B","C","D"]}`, []string{"A", "B", "C"}, false},
		{"fenced", "```json\n{\"subjects\":[\"A\",\"B\",\"C\"]}\n```", []string{"A", "B", "C"}, false},
		{"drops invalid", `{"subjects":["A","","` + long + `",3,"B","C"]}`, []string{"A", "B", "C"}, false},
		{"too few", `{"subjects":["A","` + long + `","B"]}`, nil, true},
		{"missing key", `{"lines":["A","B","C"]}`, nil, true},
		{"not json", `subjects: A, B, C`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSubjects(tt.content)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSubjectsCountsRunes(t *testing.T) {
	// 40 Devanagari runes is well over 52 bytes but within the limit
	hindi := strings.Repeat("स", 40)
	got, err := parseSubjects(`{"subjects":["` + hindi + `","B","C"]}`)
	require.NoError(t, err)
	assert.Equal(t, hindi, got[0])
}

func TestParseBody(t *testing.T) {
	body, err := parseBody("```json\n" + `{"greeting":"Hi Asha,","body_paragraph_1":"p1","body_paragraph_2":"p2","call_to_action":"Book now","closing":"Regards"}` + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "Hi Asha,", body.Greeting)
	assert.Equal(t, "p1", body.Paragraph1)
	assert.Equal(t, "Book now", body.CallToAction)

	_, err = parseBody(`{"greeting":"Hi","body_paragraph_1":"p1"}`)
	assert.ErrorIs(t, err, ErrInvalidResponse)

	_, err = parseBody(`nothing`)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestGenerateVariants(t *testing.T) {
	fake := &fakeCompleter{reply: `{"subjects":["One","Two","Three"]}`}
	g := NewGenerator(fake, "", testLogger())

	got, err := g.GenerateVariants(context.Background(), campaign.PersonaSenior, "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"One", "Two", "Three"}, got)

	require.Len(t, fake.last.Messages, 1)
	prompt := fake.last.Messages[0].Content
	assert.Contains(t, prompt, `"Preventive Health"`)
	assert.Contains(t, prompt, "in Hindi")
	assert.Contains(t, prompt, "senior citizen")
	assert.Equal(t, 0.9, fake.last.Temperature)
}

func TestGenerateVariantsProviderError(t *testing.T) {
	boom := errors.New("boom")
	g := NewGenerator(&fakeCompleter{err: boom}, "", testLogger())
	_, err := g.GenerateVariants(context.Background(), campaign.PersonaStudent, "en")
	assert.ErrorIs(t, err, boom)
}

func TestGenerateBody(t *testing.T) {
	fake := &fakeCompleter{reply: `{"greeting":"Hello Ravi,","body_paragraph_1":"a","body_paragraph_2":"b","call_to_action":"Book","closing":"Thanks"}`}
	g := NewGenerator(fake, "", testLogger())

	body, err := g.GenerateBody(context.Background(), campaign.BodyRequest{
		PersonaID: campaign.PersonaProfessional,
		LeadName:  "Ravi",
		Language:  "en",
		Subject:   "Know your numbers",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ravi,", body.Greeting)

	require.Len(t, fake.last.Messages, 2)
	assert.Equal(t, RoleSystem, fake.last.Messages[0].Role)
	assert.Contains(t, fake.last.Messages[1].Content, "Lead Name: Ravi")
	assert.Contains(t, fake.last.Messages[1].Content, "Subject Line: Know your numbers")
}

func TestClassifyPersona(t *testing.T) {
	fake := &fakeCompleter{reply: `{"archetype": "ARCH_PRICE"}`}
	g := NewGenerator(fake, "", testLogger())

	id, err := g.ClassifyPersona(context.Background(), campaign.Lead{City: "Pune", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, campaign.PersonaPrice, id)
	assert.Contains(t, fake.last.Messages[0].Content, "City: Pune")
	assert.Contains(t, fake.last.Messages[0].Content, "Organization Type: Not provided")

	fake.reply = `{"archetype": "ARCH_ALIEN"}`
	_, err = g.ClassifyPersona(context.Background(), campaign.Lead{})
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestOpenAIComplete(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/chat/completions", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAI(OpenAIConfig{Endpoint: srv.URL + "/openai", APIKey: "secret", Model: "grok-3"})
	out, err := c.Complete(context.Background(), Request{
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		Temperature: 0.3,
		MaxTokens:   10,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "grok-3", got.Model)
	assert.Equal(t, 10, got.MaxTokens)
}

func TestOpenAIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "empty") {
			w.Write([]byte(`{"choices":[]}`))
			return
		}
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAI(OpenAIConfig{Endpoint: srv.URL}).Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = NewOpenAI(OpenAIConfig{Endpoint: srv.URL + "/empty/"}).Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

type fakeBedrock struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeBedrock) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockComplete(t *testing.T) {
	fake := &fakeBedrock{body: `{"content":[{"type":"text","text":"{\"subjects\":[]}"}],"stop_reason":"end_turn"}`}
	b := newBedrockWithClient(fake, "")

	out, err := b.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "hi"},
		},
		Temperature: 0.8,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"subjects":[]}`, out)

	require.NotNil(t, fake.input)
	assert.Equal(t, defaultBedrockModel, *fake.input.ModelId)

	var sent bedrockRequest
	require.NoError(t, json.Unmarshal(fake.input.Body, &sent))
	assert.Equal(t, bedrockAPIVersion, sent.AnthropicVersion)
	assert.Equal(t, "be brief", sent.System)
	require.Len(t, sent.Messages, 1)
	assert.Equal(t, "hi", sent.Messages[0].Content[0].Text)
	assert.Equal(t, 500, sent.MaxTokens)
}

func TestBedrockErrors(t *testing.T) {
	_, err := newBedrockWithClient(&fakeBedrock{err: errors.New("throttled")}, "m").Complete(context.Background(), Request{})
	require.Error(t, err)

	_, err = newBedrockWithClient(&fakeBedrock{body: `{"content":[]}`}, "m").Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidResponse)
}
