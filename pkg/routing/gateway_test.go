package routing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
	"github.com/synaptica-ai/privacy-gateway/pkg/provider"
)

func TestMain(m *testing.M) {
	logger.Silence()
	m.Run()
}

// echoProvider answers with the text it received, standing in for a model
// that repeats the prompt unchanged.
type echoProvider struct {
	name     string
	remote   bool
	notReady bool
	fail     error
	panics   bool

	mu       sync.Mutex
	prompts  []string
	systems  []string
	messages [][]models.ChatMessage
}

func (e *echoProvider) Name() string               { return e.name }
func (e *echoProvider) RequiresRedaction() bool    { return e.remote }
func (e *echoProvider) Ready(context.Context) bool { return !e.notReady }

func (e *echoProvider) GenerateText(_ context.Context, prompt string, _ int) (string, error) {
	e.mu.Lock()
	e.prompts = append(e.prompts, prompt)
	e.mu.Unlock()
	if e.panics {
		panic("boom")
	}
	if e.fail != nil {
		return "", e.fail
	}
	return prompt, nil
}

func (e *echoProvider) Chat(_ context.Context, system string, messages []models.ChatMessage, _ int) (string, error) {
	e.mu.Lock()
	e.systems = append(e.systems, system)
	e.messages = append(e.messages, messages)
	e.mu.Unlock()
	if e.fail != nil {
		return "", e.fail
	}
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, " | "), nil
}

func (e *echoProvider) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.prompts) + len(e.messages)
}

type mapStore struct {
	patients map[string]models.PatientAttributes
	err      error
}

func (s *mapStore) LoadAttributes(_ context.Context, id string) (*models.PatientAttributes, error) {
	if s.err != nil {
		return nil, s.err
	}
	if a, ok := s.patients[id]; ok {
		return &a, nil
	}
	return nil, nil
}

type fixedExtractor struct {
	entities models.EntitySet
	ok       bool
}

func (f fixedExtractor) TryExtract(context.Context, string) (models.EntitySet, bool) {
	return f.entities, f.ok
}

type recorder struct {
	mu       sync.Mutex
	statuses []models.Status
}

func (r *recorder) Notify(_ context.Context, s models.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.statuses {
		if len(out) == 0 || out[len(out)-1] != s.Phase {
			out = append(out, s.Phase)
		}
	}
	return out
}

var jeanMartin = models.PatientAttributes{Name: "Jean Martin", DateOfBirth: "12/05/2015"}

func newGateway(p provider.Provider, opts Options) *Gateway {
	opts.Registry = provider.NewRegistry(p)
	if opts.Store == nil {
		opts.Store = &mapStore{patients: map[string]models.PatientAttributes{"p-1": jeanMartin}}
	}
	return New(opts)
}

func TestGenerateLocalPassthrough(t *testing.T) {
	local := &echoProvider{name: "ollama"}
	rec := &recorder{}
	g := newGateway(local, Options{Observer: rec})

	prompt := "Jean Martin est né le 12/05/2015, voir [patient_1]"
	out, err := g.GenerateText(context.Background(), GenerateInput{Prompt: prompt, PatientID: "p-1"})

	require.NoError(t, err)
	assert.Equal(t, prompt, out, "no restoration on the local path")
	assert.Equal(t, []string{prompt}, local.prompts)
	assert.Equal(t, []string{"ResolvingProvider", "LocalPassthrough", "Done"}, rec.phases())
}

func TestGenerateRemoteRedactsAndRestores(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true}
	rec := &recorder{}
	g := newGateway(remote, Options{Observer: rec})

	prompt := "Jean Martin est né le 12/05/2015 et doit revoir le Dr Paul"
	out, err := g.GenerateText(context.Background(), GenerateInput{RequestID: "r-1", Prompt: prompt, PatientID: "p-1"})

	require.NoError(t, err)
	assert.Equal(t, prompt, out)
	require.Len(t, remote.prompts, 1)
	assert.Equal(t, "[patient_1] est né le [date_1] et doit revoir le Dr Paul", remote.prompts[0])

	assert.Equal(t, []string{"ResolvingProvider", "RedactingInputs", "CallingProvider", "RestoringOutput", "Done"}, rec.phases())
	for _, s := range rec.statuses {
		assert.Equal(t, "r-1", s.RequestID)
		assert.NotContains(t, s.Message, "Jean")
		for _, v := range s.Fields {
			assert.NotContains(t, v, "Jean")
			assert.NotContains(t, v, "12/05/2015")
		}
	}
}

func TestGenerateEmptyPrompt(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true}
	g := newGateway(remote, Options{})

	out, err := g.GenerateText(context.Background(), GenerateInput{Prompt: "   "})

	assert.Equal(t, models.GenerationResult{Success: false, Result: "", Error: "EmptyInput"}, ToResult(out, err))
	assert.Equal(t, 0, remote.calls())
}

func TestGenerateCancelledBeforeProviderCall(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The caller gives up while the prompt is being redacted.
	cancelOnRedaction := ObserverFunc(func(_ context.Context, s models.Status) {
		if s.Phase == string(PhaseRedactingInputs) {
			cancel()
		}
	})
	g := newGateway(remote, Options{})

	out, err := g.GenerateText(ctx, GenerateInput{Prompt: "Jean Martin va bien", PatientID: "p-1", Observer: cancelOnRedaction})

	assert.Equal(t, KindCancelled, KindOf(err))
	assert.Empty(t, out)
	assert.Equal(t, 0, remote.calls())
	assert.Equal(t, "Cancelled: cancelled by caller", ToResult(out, err).Error)
}

func TestGenerateAlreadyCancelled(t *testing.T) {
	local := &echoProvider{name: "ollama"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}

	_, err := newGateway(local, Options{Observer: rec}).GenerateText(ctx, GenerateInput{Prompt: "bonjour"})

	assert.Equal(t, KindCancelled, KindOf(err))
	assert.Equal(t, 0, local.calls())
	assert.Equal(t, "Cancelled", rec.phases()[len(rec.phases())-1])
}

func TestGenerateProviderNotConfigured(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true, notReady: true}
	_, err := newGateway(remote, Options{}).GenerateText(context.Background(), GenerateInput{Prompt: "bonjour"})
	assert.Equal(t, KindProviderNotConfigured, KindOf(err))
	assert.Equal(t, 0, remote.calls())

	_, err = New(Options{}).GenerateText(context.Background(), GenerateInput{Prompt: "bonjour"})
	assert.Equal(t, KindProviderNotConfigured, KindOf(err))
}

func TestGenerateProviderFailureIsNotRestored(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true, fail: errors.New("quota exceeded")}
	rec := &recorder{}

	out, err := newGateway(remote, Options{Observer: rec}).GenerateText(context.Background(), GenerateInput{Prompt: "Jean Martin", PatientID: "p-1"})

	assert.Empty(t, out)
	assert.Equal(t, KindProviderFailure, KindOf(err))
	assert.Equal(t, models.GenerationResult{Error: "ProviderFailure: quota exceeded"}, ToResult(out, err))
	assert.NotContains(t, rec.phases(), "RestoringOutput")
	assert.Equal(t, "Failed", rec.phases()[len(rec.phases())-1])
}

func TestGeneratePanicBecomesInternalFailure(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true, panics: true}

	var out string
	var err error
	require.NotPanics(t, func() {
		out, err = newGateway(remote, Options{}).GenerateText(context.Background(), GenerateInput{Prompt: "bonjour"})
	})
	assert.Empty(t, out)
	assert.Equal(t, KindInternalFailure, KindOf(err))
}

func TestGenerateStoreFailureFailsClosed(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true}
	g := newGateway(remote, Options{Store: &mapStore{err: errors.New("connection refused")}})

	_, err := g.GenerateText(context.Background(), GenerateInput{Prompt: "Jean Martin", PatientID: "p-1"})

	assert.Equal(t, KindInternalFailure, KindOf(err))
	assert.Equal(t, 0, remote.calls(), "unchecked text must not reach a remote provider")
}

func TestGenerateUnknownPatientStillRedactsPatterns(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true}
	g := newGateway(remote, Options{})

	out, err := g.GenerateText(context.Background(), GenerateInput{Prompt: "Écrire à jean@example.fr", PatientID: "nobody"})

	require.NoError(t, err)
	assert.Equal(t, "Écrire à jean@example.fr", out)
	assert.Equal(t, "Écrire à [email_1]", remote.prompts[0])
}

func TestGenerateAbsorbsExtractionFailure(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true}
	rec := &recorder{}
	g := newGateway(remote, Options{Observer: rec, Extractor: fixedExtractor{ok: false}})

	out, err := g.GenerateText(context.Background(), GenerateInput{Prompt: "Jean Martin va bien", PatientID: "p-1"})

	require.NoError(t, err)
	assert.Equal(t, "Jean Martin va bien", out)
	found := false
	for _, s := range rec.statuses {
		if s.Fields[fieldExtraction] == "unavailable" {
			found = true
		}
	}
	assert.True(t, found, "extraction failure should be reported as a status")
}

func TestGenerateUsesExtractedEntities(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true}
	extractor := fixedExtractor{ok: true, entities: models.EntitySet{{Text: "Sophie Leroy", Category: models.EntityPerson}}}
	g := newGateway(remote, Options{Extractor: extractor})

	prompt := "Jean Martin a vu Sophie Leroy"
	out, err := g.GenerateText(context.Background(), GenerateInput{Prompt: prompt, PatientID: "p-1"})

	require.NoError(t, err)
	assert.Equal(t, prompt, out)
	assert.Equal(t, "[patient_1] a vu [person_1]", remote.prompts[0])
}

func TestChatKeepsDifferentEmailsApart(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true}
	g := newGateway(remote, Options{})

	out, err := g.Chat(context.Background(), ChatInput{
		SystemPrompt: "Tu rédiges des courriers.",
		Messages: []models.ChatMessage{
			{Role: "user", Content: "Écrire à alice@example.fr"},
			{Role: "user", Content: "Mettre en copie bob@example.org"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "Écrire à alice@example.fr | Mettre en copie bob@example.org", out)

	sent := remote.messages[0]
	assert.Equal(t, "Écrire à [email_1]", sent[0].Content)
	assert.Equal(t, "Mettre en copie [email_2]", sent[1].Content)
	assert.Equal(t, "Tu rédiges des courriers.", remote.systems[0])
}

func TestChatRedactsSystemPromptAndHistory(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true}
	g := newGateway(remote, Options{})

	out, err := g.Chat(context.Background(), ChatInput{
		SystemPrompt: "Dossier de Jean Martin, né le 12/05/2015.",
		Messages: []models.ChatMessage{
			{Role: "user", Content: "Résume le suivi de Jean Martin"},
			{Role: "assistant", Content: "Jean Martin va mieux."},
			{Role: "user", Content: "Et sa date de naissance, 12/05/2015 ?"},
		},
		PatientID: "p-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "Résume le suivi de Jean Martin | Jean Martin va mieux. | Et sa date de naissance, 12/05/2015 ?", out)
	assert.Equal(t, "Dossier de [patient_1], né le [date_1].", remote.systems[0])
	for _, m := range remote.messages[0] {
		assert.NotContains(t, m.Content, "Jean Martin")
		assert.NotContains(t, m.Content, "12/05/2015")
	}
	assert.Equal(t, "Et sa date de naissance, [date_1] ?", remote.messages[0][2].Content)
}

func TestChatLocalPassthrough(t *testing.T) {
	local := &echoProvider{name: "ollama"}
	messages := []models.ChatMessage{{Role: "user", Content: "Jean Martin va bien"}}

	out, err := newGateway(local, Options{}).Chat(context.Background(), ChatInput{SystemPrompt: "Jean", Messages: messages, PatientID: "p-1"})

	require.NoError(t, err)
	assert.Equal(t, "Jean Martin va bien", out)
	assert.Equal(t, messages, local.messages[0])
	assert.Equal(t, "Jean", local.systems[0])
}

func TestChatEmptyInput(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true}
	g := newGateway(remote, Options{})

	for _, messages := range [][]models.ChatMessage{nil, {{Role: "user", Content: " "}}} {
		_, err := g.Chat(context.Background(), ChatInput{SystemPrompt: "Tu es utile.", Messages: messages})
		assert.Equal(t, KindEmptyInput, KindOf(err))
	}
	assert.Equal(t, 0, remote.calls())
}

func TestRedactPreviewReportsCountsOnly(t *testing.T) {
	g := newGateway(&echoProvider{name: "ollama"}, Options{})

	preview, err := g.Redact(context.Background(), RedactInput{
		Text:      "Jean Martin est né le 12/05/2015, joignable à jean@example.fr",
		PatientID: "p-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "[patient_1] est né le [date_1], joignable à [email_1]", preview.RedactedText)
	assert.Equal(t, 3, preview.Replacements)
	assert.Equal(t, map[string]int{"patient": 1, "date": 1, "email": 1}, preview.Categories)
	assert.Equal(t, "[patient_1]", preview.Pseudonym)

	_, err = g.Redact(context.Background(), RedactInput{Text: ""})
	assert.Equal(t, KindEmptyInput, KindOf(err))
}

func TestSetActiveProvider(t *testing.T) {
	local := &echoProvider{name: "ollama"}
	remote := &echoProvider{name: "cloud", remote: true}
	g := New(Options{Registry: provider.NewRegistry(local, remote)})

	require.NoError(t, g.SetActiveProvider("cloud"))
	_, err := g.GenerateText(context.Background(), GenerateInput{Prompt: "a@example.fr"})
	require.NoError(t, err)
	assert.Equal(t, []string{"[email_1]"}, remote.prompts)
	assert.Empty(t, local.prompts)

	assert.Error(t, g.SetActiveProvider("missing"))
	assert.Len(t, g.Providers(context.Background()), 2)
}

func TestToResult(t *testing.T) {
	assert.Equal(t, models.GenerationResult{Success: true, Result: "ok"}, ToResult("ok", nil))
	assert.Equal(t, models.GenerationResult{Error: "InternalFailure: boom"}, ToResult("ignored", errors.New("boom")))
}

func TestChatNeverIssuesTokensWrittenInAnotherMessage(t *testing.T) {
	remote := &echoProvider{name: "cloud", remote: true}
	g := newGateway(remote, Options{})

	out, err := g.Chat(context.Background(), ChatInput{Messages: []models.ChatMessage{
		{Role: "user", Content: "Écrire à alice@example.fr"},
		{Role: "user", Content: "le gabarit utilise [email_1]"},
	}})

	require.NoError(t, err)
	assert.Equal(t, "Écrire à alice@example.fr | le gabarit utilise [email_1]", out)
	require.Len(t, remote.messages, 1)
	sent := remote.messages[0]
	assert.Equal(t, "Écrire à [email_2]", sent[0].Content)
	assert.Equal(t, "le gabarit utilise [email_1]", sent[1].Content)
}

func TestPanickingObserverDoesNotEscape(t *testing.T) {
	broken := ObserverFunc(func(context.Context, models.Status) { panic("observer down") })

	local := &echoProvider{name: "ollama"}
	var out string
	var err error
	assert.NotPanics(t, func() {
		out, err = newGateway(local, Options{}).GenerateText(context.Background(), GenerateInput{Prompt: "x", Observer: broken})
	})
	require.NoError(t, err)
	assert.Equal(t, "x", out)

	remote := &echoProvider{name: "cloud", remote: true}
	assert.NotPanics(t, func() {
		out, err = newGateway(remote, Options{Observer: broken}).Chat(context.Background(), ChatInput{
			Messages: []models.ChatMessage{{Role: "user", Content: "Écrire à alice@example.fr"}},
		})
	})
	require.NoError(t, err)
	assert.Equal(t, "Écrire à alice@example.fr", out)
}
