// Package routing is the single entry point for text generation and chat.
// It decides per call whether the active model may see prompts as written
// or whether they must be redacted first, and restores the model's answer
// before handing it back.
package routing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
	"github.com/synaptica-ai/privacy-gateway/pkg/extraction"
	"github.com/synaptica-ai/privacy-gateway/pkg/observability/metrics"
	"github.com/synaptica-ai/privacy-gateway/pkg/patient"
	"github.com/synaptica-ai/privacy-gateway/pkg/provider"
	"github.com/synaptica-ai/privacy-gateway/pkg/redaction"
)

// Phase is a state of the per-call state machine.
type Phase string

const (
	PhaseIdle              Phase = "Idle"
	PhaseResolvingProvider Phase = "ResolvingProvider"
	PhaseLocalPassthrough  Phase = "LocalPassthrough"
	PhaseRedactingInputs   Phase = "RedactingInputs"
	PhaseCallingProvider   Phase = "CallingProvider"
	PhaseRestoringOutput   Phase = "RestoringOutput"
	PhaseDone              Phase = "Done"
	PhaseCancelled         Phase = "Cancelled"
	PhaseFailed            Phase = "Failed"
)

const (
	OperationGenerate = "generate"
	OperationChat     = "chat"
	OperationRedact   = "redact"

	pathLocal  = "local"
	pathRemote = "remote"
)

type Options struct {
	Registry *provider.Registry
	// Store and Extractor are optional.
	Store     patient.Store
	Extractor extraction.Extractor
	// Engine defaults to the built-in pattern rules.
	Engine *redaction.Engine
	// Observer receives statuses of calls that do not bring their own.
	Observer        Observer
	MaxOutputTokens int
}

// Gateway holds no per-call state; concurrent calls are independent.
type Gateway struct {
	registry        *provider.Registry
	store           patient.Store
	extractor       extraction.Extractor
	engine          *redaction.Engine
	observer        Observer
	maxOutputTokens int
}

func New(opts Options) *Gateway {
	g := &Gateway{
		registry:        opts.Registry,
		store:           opts.Store,
		extractor:       opts.Extractor,
		engine:          opts.Engine,
		observer:        opts.Observer,
		maxOutputTokens: opts.MaxOutputTokens,
	}
	if g.registry == nil {
		g.registry = provider.NewRegistry()
	}
	if g.engine == nil {
		g.engine = redaction.NewEngine(nil)
	}
	if g.observer == nil {
		g.observer = NopObserver{}
	}
	if g.maxOutputTokens <= 0 {
		g.maxOutputTokens = 1024
	}
	return g
}

type GenerateInput struct {
	RequestID       string
	Prompt          string
	PatientID       string
	MaxOutputTokens int
	Observer        Observer
}

type ChatInput struct {
	RequestID       string
	SystemPrompt    string
	Messages        []models.ChatMessage
	PatientID       string
	MaxOutputTokens int
	Observer        Observer
}

type RedactInput struct {
	RequestID string
	Text      string
	PatientID string
	Observer  Observer
}

// call tracks one invocation through the state machine.
type call struct {
	id        string
	operation string
	observer  Observer
	phase     Phase
	path      string
}

func (g *Gateway) newCall(requestID, operation string, observer Observer) *call {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	if observer == nil {
		observer = g.observer
	}
	return &call{id: requestID, operation: operation, observer: observer, phase: PhaseIdle}
}

// enter records the new phase and notifies the observer. Statuses are
// advisory: an observer that panics is logged and ignored.
func (c *call) enter(ctx context.Context, phase Phase, message string, fields map[string]string) {
	c.phase = phase
	defer func() {
		if r := recover(); r != nil {
			logger.WithRequest(c.id).WithField("phase", phase).Errorf("Recovered panic in status observer: %v", r)
		}
	}()
	c.observer.Notify(ctx, models.Status{
		RequestID: c.id,
		Operation: c.operation,
		Phase:     string(phase),
		Message:   message,
		Fields:    fields,
		Timestamp: time.Now().UTC(),
	})
}

// checkpoint reports a cancellation observed on ctx.
func (c *call) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return newError(KindCancelled, "cancelled by caller", err)
	}
	return nil
}

// finish moves the call to its terminal state and notifies it.
func (c *call) finish(ctx context.Context, err error) {
	fields := map[string]string{fieldPath: c.path, fieldOutcome: "ok"}
	if err == nil {
		c.enter(ctx, PhaseDone, "call completed", fields)
		return
	}
	kind := KindOf(err)
	fields[fieldOutcome] = string(kind)
	if kind == KindCancelled {
		c.enter(ctx, PhaseCancelled, "call cancelled", fields)
		return
	}
	fields["failed_in"] = string(c.phase)
	c.enter(ctx, PhaseFailed, err.Error(), fields)
}

// recoverInto converts a panic into an InternalFailure on *errp.
func (c *call) recoverInto(out *string, errp *error) {
	if r := recover(); r != nil {
		logger.WithRequest(c.id).WithField("phase", c.phase).Errorf("Recovered panic in gateway: %v", r)
		*out = ""
		*errp = newError(KindInternalFailure, fmt.Sprintf("unexpected failure during %s", c.phase), nil)
	}
}

func (g *Gateway) tokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return g.maxOutputTokens
}

// GenerateText answers a single prompt.
func (g *Gateway) GenerateText(ctx context.Context, in GenerateInput) (out string, err error) {
	c := g.newCall(in.RequestID, OperationGenerate, in.Observer)
	defer func() { c.finish(ctx, err) }()
	defer c.recoverInto(&out, &err)

	if strings.TrimSpace(in.Prompt) == "" {
		return "", newError(KindEmptyInput, "", nil)
	}
	p, err := g.resolve(ctx, c)
	if err != nil {
		return "", err
	}
	maxTokens := g.tokens(in.MaxOutputTokens)

	if !p.RequiresRedaction() {
		c.path = pathLocal
		c.enter(ctx, PhaseLocalPassthrough, "local provider, prompt sent as written", map[string]string{fieldProvider: p.Name()})
		if err := c.checkpoint(ctx); err != nil {
			return "", err
		}
		return g.callProvider(ctx, c, p, func() (string, error) {
			return p.GenerateText(ctx, in.Prompt, maxTokens)
		})
	}

	c.path = pathRemote
	c.enter(ctx, PhaseRedactingInputs, "redaction engaged", map[string]string{fieldProvider: p.Name()})
	attrs, err := g.loadAttributes(ctx, c, in.PatientID)
	if err != nil {
		return "", err
	}
	issuer := redaction.NewIssuer(in.Prompt)
	res, err := g.redact(ctx, c, issuer, in.Prompt, attrs)
	if err != nil {
		return "", err
	}
	g.reportRedaction(ctx, c, res.Context)

	if err := c.checkpoint(ctx); err != nil {
		return "", err
	}
	answer, err := g.callProvider(ctx, c, p, func() (string, error) {
		return p.GenerateText(ctx, res.Text, maxTokens)
	})
	if err != nil {
		return "", err
	}
	return g.restore(ctx, c, answer, res.Context)
}

// Chat answers a conversation. On the remote path the system prompt and
// each message are redacted in order with one shared placeholder issuer,
// and the reply is restored once with the combined table.
func (g *Gateway) Chat(ctx context.Context, in ChatInput) (out string, err error) {
	c := g.newCall(in.RequestID, OperationChat, in.Observer)
	defer func() { c.finish(ctx, err) }()
	defer c.recoverInto(&out, &err)

	if !hasContent(in.Messages) {
		return "", newError(KindEmptyInput, "", nil)
	}
	p, err := g.resolve(ctx, c)
	if err != nil {
		return "", err
	}
	maxTokens := g.tokens(in.MaxOutputTokens)

	if !p.RequiresRedaction() {
		c.path = pathLocal
		c.enter(ctx, PhaseLocalPassthrough, "local provider, conversation sent as written", map[string]string{fieldProvider: p.Name()})
		if err := c.checkpoint(ctx); err != nil {
			return "", err
		}
		return g.callProvider(ctx, c, p, func() (string, error) {
			return p.Chat(ctx, in.SystemPrompt, in.Messages, maxTokens)
		})
	}

	c.path = pathRemote
	c.enter(ctx, PhaseRedactingInputs, "redaction engaged", map[string]string{
		fieldProvider: p.Name(),
		"messages":    strconv.Itoa(len(in.Messages)),
	})
	attrs, err := g.loadAttributes(ctx, c, in.PatientID)
	if err != nil {
		return "", err
	}

	inputs := make([]string, 0, len(in.Messages)+1)
	inputs = append(inputs, in.SystemPrompt)
	for _, m := range in.Messages {
		inputs = append(inputs, m.Content)
	}
	issuer := redaction.NewIssuer(inputs...)
	var system *redaction.RestorationContext
	redactedSystem := in.SystemPrompt
	if in.SystemPrompt != "" {
		res, err := g.redact(ctx, c, issuer, in.SystemPrompt, attrs)
		if err != nil {
			return "", err
		}
		redactedSystem, system = res.Text, res.Context
	}

	redacted := make([]models.ChatMessage, len(in.Messages))
	tables := make([]*redaction.RestorationContext, len(in.Messages))
	for i, m := range in.Messages {
		res, err := g.redact(ctx, c, issuer, m.Content, attrs)
		if err != nil {
			return "", err
		}
		redacted[i] = models.ChatMessage{Role: m.Role, Content: res.Text}
		tables[i] = res.Context
	}

	combined := redaction.Combine(system, tables...)
	if combined.Conflicts > 0 {
		logger.WithRequest(c.id).WithField("conflicts", combined.Conflicts).Warn("Restoration tables disagree on some placeholders")
	}
	g.reportRedaction(ctx, c, combined)

	if err := c.checkpoint(ctx); err != nil {
		return "", err
	}
	answer, err := g.callProvider(ctx, c, p, func() (string, error) {
		return p.Chat(ctx, redactedSystem, redacted, maxTokens)
	})
	if err != nil {
		return "", err
	}
	return g.restore(ctx, c, answer, combined)
}

// Redact runs the redaction engine only and reports what it replaced. The
// restoration table never leaves this method.
func (g *Gateway) Redact(ctx context.Context, in RedactInput) (preview models.RedactPreview, err error) {
	c := g.newCall(in.RequestID, OperationRedact, in.Observer)
	c.path = pathRemote
	defer func() { c.finish(ctx, err) }()
	defer func() {
		if r := recover(); r != nil {
			logger.WithRequest(c.id).Errorf("Recovered panic in redaction preview: %v", r)
			preview = models.RedactPreview{}
			err = newError(KindInternalFailure, "unexpected failure during redaction", nil)
		}
	}()

	if strings.TrimSpace(in.Text) == "" {
		return models.RedactPreview{}, newError(KindEmptyInput, "", nil)
	}
	c.enter(ctx, PhaseRedactingInputs, "redaction preview", nil)
	attrs, err := g.loadAttributes(ctx, c, in.PatientID)
	if err != nil {
		return models.RedactPreview{}, err
	}
	res, err := g.redact(ctx, c, redaction.NewIssuer(in.Text), in.Text, attrs)
	if err != nil {
		return models.RedactPreview{}, err
	}
	g.reportRedaction(ctx, c, res.Context)

	return models.RedactPreview{
		RedactedText: res.Text,
		Replacements: res.Context.Len(),
		Categories:   res.Context.Categories(),
		Pseudonym:    res.Context.Pseudonym,
	}, nil
}

// Providers describes the configured providers.
func (g *Gateway) Providers(ctx context.Context) []models.ProviderInfo {
	return g.registry.List(ctx)
}

func (g *Gateway) SetActiveProvider(name string) error {
	return g.registry.SetActive(name)
}

func (g *Gateway) resolve(ctx context.Context, c *call) (provider.Provider, error) {
	c.enter(ctx, PhaseResolvingProvider, "resolving provider", nil)
	if err := c.checkpoint(ctx); err != nil {
		return nil, err
	}
	p, err := g.registry.Active()
	if err != nil {
		return nil, newError(KindProviderNotConfigured, err.Error(), err)
	}
	if !p.Ready(ctx) {
		if err := c.checkpoint(ctx); err != nil {
			return nil, err
		}
		return nil, newError(KindProviderNotConfigured, fmt.Sprintf("provider %s is not ready", p.Name()), nil)
	}
	return p, nil
}

// loadAttributes fails closed: a store error aborts the call rather than
// sending text that could not be checked against the patient's record.
func (g *Gateway) loadAttributes(ctx context.Context, c *call, patientID string) (*models.PatientAttributes, error) {
	if patientID == "" || g.store == nil {
		return nil, nil
	}
	if err := c.checkpoint(ctx); err != nil {
		return nil, err
	}
	attrs, err := g.store.LoadAttributes(ctx, patientID)
	if err != nil {
		if cerr := c.checkpoint(ctx); cerr != nil {
			return nil, cerr
		}
		logger.WithRequest(c.id).WithError(err).Error("Failed to load patient attributes")
		return nil, newError(KindInternalFailure, "patient record store unavailable", err)
	}
	if attrs == nil {
		logger.WithRequest(c.id).Warn("Unknown patient, redacting with patterns and extraction only")
	}
	return attrs, nil
}

// redact is one self-contained engine pass with its own extraction.
func (g *Gateway) redact(ctx context.Context, c *call, issuer *redaction.Issuer, text string, attrs *models.PatientAttributes) (redaction.Result, error) {
	if err := c.checkpoint(ctx); err != nil {
		return redaction.Result{}, err
	}
	var entities models.EntitySet
	if g.extractor != nil && strings.TrimSpace(text) != "" {
		found, ok := g.extractor.TryExtract(ctx, text)
		if err := c.checkpoint(ctx); err != nil {
			return redaction.Result{}, err
		}
		if ok {
			entities = found
		} else {
			c.enter(ctx, PhaseRedactingInputs, "assisted extraction unavailable, continuing without it", map[string]string{fieldExtraction: "unavailable"})
		}
	}
	return g.engine.Redact(issuer, text, attrs, entities), nil
}

func (g *Gateway) reportRedaction(ctx context.Context, c *call, table *redaction.RestorationContext) {
	fields := map[string]string{
		fieldCount:     strconv.Itoa(table.Len()),
		fieldConflicts: strconv.Itoa(table.Conflicts),
	}
	categories := table.Categories()
	names := make([]string, 0, len(categories))
	for name, n := range categories {
		fields[categoryPrefix+name] = strconv.Itoa(n)
		names = append(names, name)
	}
	sort.Strings(names)
	message := fmt.Sprintf("%d replacements produced", table.Len())
	if len(names) > 0 {
		message += " (" + strings.Join(names, ", ") + ")"
	}
	c.enter(ctx, PhaseRedactingInputs, message, fields)
}

func (g *Gateway) callProvider(ctx context.Context, c *call, p provider.Provider, fn func() (string, error)) (string, error) {
	if c.path == pathRemote {
		c.enter(ctx, PhaseCallingProvider, "calling provider", map[string]string{fieldProvider: p.Name()})
	}
	start := time.Now()
	answer, err := fn()
	metrics.ProviderLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())

	if cerr := c.checkpoint(ctx); cerr != nil {
		return "", cerr
	}
	if err != nil {
		return "", newError(KindProviderFailure, err.Error(), err)
	}
	return answer, nil
}

func (g *Gateway) restore(ctx context.Context, c *call, answer string, table *redaction.RestorationContext) (string, error) {
	c.enter(ctx, PhaseRestoringOutput, "restoring output", nil)
	if err := c.checkpoint(ctx); err != nil {
		return "", err
	}
	return redaction.Restore(answer, table), nil
}

func hasContent(messages []models.ChatMessage) bool {
	for _, m := range messages {
		if strings.TrimSpace(m.Content) != "" {
			return true
		}
	}
	return false
}
