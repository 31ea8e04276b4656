package redaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/models"
)

func TestRestoreNoopWhenNotRedacted(t *testing.T) {
	text := "[patient_1] va bien"
	assert.Equal(t, text, Restore(text, nil))
	assert.Equal(t, text, Restore(text, &RestorationContext{Replacements: map[string]string{"[patient_1]": "Jean"}}))
}

func TestRestoreSentenceInitialCapitalization(t *testing.T) {
	ctx := &RestorationContext{
		WasRedacted: true,
		Replacements: map[string]string{
			"[person_1]": "docteur Paul",
			"[email_1]":  "jean@example.fr",
		},
	}
	got := Restore("Bonjour. [Person_1] confirme. Écrire à [email_1].", ctx)
	assert.Equal(t, "Bonjour. Docteur Paul confirme. Écrire à jean@example.fr.", got)
}

func TestRestoreIsIdempotent(t *testing.T) {
	ctx := &RestorationContext{
		WasRedacted:  true,
		Replacements: map[string]string{"[patient_1]": "Jean Martin", "[patient_1b]": "MARTIN Jean"},
	}
	once := Restore("[patient_1] alias [patient_1b]", ctx)
	assert.Equal(t, "Jean Martin alias MARTIN Jean", once)
	assert.Equal(t, once, Restore(once, ctx))
}

func TestCombineFirstWriterWins(t *testing.T) {
	system := &RestorationContext{WasRedacted: true, Replacements: map[string]string{"[date_1]": "12/05/2015"}}
	m1 := &RestorationContext{WasRedacted: true, Replacements: map[string]string{"[date_1]": "01/01/2000", "[email_1]": "a@example.fr"}, Pseudonym: "[patient_1]"}
	m2 := &RestorationContext{WasRedacted: true, Replacements: map[string]string{"[email_1]": "b@example.fr"}, Pseudonym: "[patient_2]"}

	combined := Combine(system, m1, m2)

	assert.True(t, combined.WasRedacted)
	assert.Equal(t, "12/05/2015", combined.Replacements["[date_1]"])
	assert.Equal(t, "a@example.fr", combined.Replacements["[email_1]"])
	assert.Equal(t, 2, combined.Conflicts)
	assert.Equal(t, "[patient_2]", combined.Pseudonym, "last non-empty message pseudonym")

	system.Pseudonym = "[patient_9]"
	assert.Equal(t, "[patient_9]", Combine(system, m1, m2).Pseudonym)
}

func TestCombineEmpty(t *testing.T) {
	combined := Combine(nil)
	assert.True(t, combined.WasRedacted)
	assert.Equal(t, 0, combined.Len())
	assert.Empty(t, combined.Pseudonym)
}

// Two messages carrying different emails must restore to their own values
// once their tables are combined.
func TestSharedIssuerKeepsPassesApart(t *testing.T) {
	engine := NewEngine(nil)
	issuer := NewIssuer()

	first := engine.Redact(issuer, "Écrire à alice@example.fr", nil, nil)
	second := engine.Redact(issuer, "Copie à bob@example.org", nil, nil)
	require.NotEqual(t, first.Text[len("Écrire à "):], second.Text[len("Copie à "):])

	combined := Combine(nil, first.Context, second.Context)
	assert.Equal(t, 0, combined.Conflicts)

	reply := "Réponse envoyée : " + first.Text[len("Écrire à "):] + " puis " + second.Text[len("Copie à "):]
	assert.Equal(t, "Réponse envoyée : alice@example.fr puis bob@example.org", Restore(reply, combined))
}

func TestIndependentIssuersCollide(t *testing.T) {
	engine := NewEngine(nil)
	first := engine.Redact(nil, "alice@example.fr", nil, nil)
	second := engine.Redact(nil, "bob@example.org", nil, nil)
	require.Equal(t, first.Text, second.Text)

	combined := Combine(nil, first.Context, second.Context)
	assert.Equal(t, 1, combined.Conflicts)
}

func TestSharedIssuerReusesPatientPseudonym(t *testing.T) {
	engine := NewEngine(nil)
	issuer := NewIssuer()
	attrs := attrsJeanMartin()

	a := engine.Redact(issuer, "Jean Martin, 9 ans.", attrs, nil)
	b := engine.Redact(issuer, "Revoir Jean Martin dans un mois.", attrs, nil)

	assert.Equal(t, "[patient_1], 9 ans.", a.Text)
	assert.Equal(t, "Revoir [patient_1] dans un mois.", b.Text)
	assert.Equal(t, a.Context.Pseudonym, b.Context.Pseudonym)
}

func TestTokenCategory(t *testing.T) {
	assert.Equal(t, "email", TokenCategory("[email_3]"))
	assert.Equal(t, "patient", TokenCategory("[patient_1b]"))
}

func attrsJeanMartin() *models.PatientAttributes {
	return &models.PatientAttributes{Name: "Jean Martin", DateOfBirth: "12/05/2015"}
}

func TestIssuerAvoidsTokensOfReservedTexts(t *testing.T) {
	issuer := NewIssuer("le gabarit utilise [email_1]", "puis [Date_1]")

	assert.Equal(t, "[email_2]", issuer.Token("email", "alice@example.fr", "Écrire à alice@example.fr"))
	assert.Equal(t, "[date_2]", issuer.Token("date", "12/05/2015", "né le 12/05/2015"))
}
