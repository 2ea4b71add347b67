package classify

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/config"
	apperrors "github.com/gmsas95/paperflow/internal/errors"
	"github.com/gmsas95/paperflow/internal/llm"
	"github.com/gmsas95/paperflow/internal/matcher"
	"github.com/gmsas95/paperflow/internal/store"
)

type fakeAI struct {
	answer string
	err    error
	calls  int
}

func (f *fakeAI) Best(ctx context.Context) llm.Provider { return llm.ProviderRemote }

func (f *fakeAI) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Text: f.answer}, nil
}

const invoiceText = "Facture EDF du 12.03.2024 pour la consommation électrique du trimestre. Montant total 120.50"

type fixture struct {
	store   *store.Store
	edf     *store.Correspondent
	invoice *store.DocumentType
}

func setupStore(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(&config.Config{Storage: config.StorageConfig{
		DataDir:    dir,
		SQLitePath: filepath.Join(dir, "test.db"),
		BadgerPath: filepath.Join(dir, "badger"),
	}})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	f := &fixture{
		store:   st,
		edf:     &store.Correspondent{Name: "EDF"},
		invoice: &store.DocumentType{Name: "Facture"},
	}
	require.NoError(t, st.CreateCorrespondent(ctx, f.edf))
	require.NoError(t, st.CreateDocumentType(ctx, f.invoice))
	return f
}

func (f *fixture) field(t *testing.T, field *store.ClassificationField) *store.ClassificationField {
	t.Helper()
	field.Active = true
	if field.FieldType == "" {
		field.FieldType = store.FieldText
	}
	require.NoError(t, f.store.UpsertField(context.Background(), field))
	return field
}

func (f *fixture) document(t *testing.T, content string, withCorrespondent bool) *store.Document {
	t.Helper()
	doc := &store.Document{
		Checksum:         strings.Repeat("a", 32),
		OriginalFilename: "facture-edf.pdf",
		Title:            "facture-edf",
		MimeType:         "application/pdf",
		Content:          content,
	}
	if withCorrespondent {
		doc.CorrespondentID = &f.edf.ID
	}
	require.NoError(t, f.store.CreateDocument(context.Background(), doc))
	return doc
}

func newCascade(f *fixture, ai llm.Completer) *Cascade {
	return NewCascade(f.store, ai, matcher.New(zap.NewNop()), Options{}, nil, zap.NewNop())
}

func TestHistoryWinsOverRules(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	field := f.field(t, &store.ClassificationField{
		Code:                 "account",
		UseHistory:           true,
		UseRules:             true,
		Rules:                store.ToJSON([]store.Rule{{If: map[string]any{"correspondent": "EDF"}, Then: "from-rule"}}),
		LearnFromCorrections: true,
	})
	for i := 0; i < 4; i++ {
		require.NoError(t, f.store.LearnHistory(ctx, field.ID, f.edf.ID, nil, "from-history", CorrectionBump))
	}
	doc := f.document(t, invoiceText, true)

	results, err := newCascade(f, nil).ExtractAll(ctx, doc.ID)
	require.NoError(t, err)
	require.Contains(t, results, "account")
	assert.Equal(t, "from-history", results["account"].Value)
	assert.Equal(t, SourceHistory, results["account"].Source)
	assert.InDelta(t, 0.90, results["account"].Confidence, 1e-9)

	stored, err := f.store.GetExtractedValue(ctx, doc.ID, field.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "history", stored.Source)
}

func TestWeakHistoryIsIgnored(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	field := f.field(t, &store.ClassificationField{Code: "account", UseHistory: true})
	require.NoError(t, f.store.LearnHistory(ctx, field.ID, f.edf.ID, nil, "weak", 0))
	doc := f.document(t, invoiceText, true)

	c := NewCascade(f.store, nil, matcher.New(zap.NewNop()), Options{HistoryMinConfidence: 0.7}, nil, zap.NewNop())
	results, err := c.ExtractAll(ctx, doc.ID)
	require.NoError(t, err)
	assert.NotContains(t, results, "account")
}

func TestRulesSeeEarlierFields(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	f.field(t, &store.ClassificationField{
		Code:         "supplier",
		FieldType:    store.FieldCorrespondent,
		Position:     1,
		UseRegex:     true,
		RegexPattern: `\b(EDF)\b`,
	})
	f.field(t, &store.ClassificationField{
		Code:     "category",
		Position: 2,
		UseRules: true,
		Rules: store.ToJSON([]store.Rule{
			{If: map[string]any{"supplier": []any{"Swisscom", "Sunrise"}}, Then: "telecom"},
			{If: map[string]any{"supplier": []any{"edf", "Romande Energie"}, "document_type": "Facture"}, Then: "never"},
			{If: map[string]any{"supplier": "edf", "correspondent": "EDF"}, Then: "energy"},
		}),
	})
	doc := f.document(t, invoiceText, false)

	results, err := newCascade(f, nil).ExtractAll(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, Result{Value: "EDF", Confidence: RegexConfidence, Source: SourceRegex}, results["supplier"])
	assert.Equal(t, Result{Value: "energy", Confidence: RulesConfidence, Source: SourceRules}, results["category"])
}

func TestAIStage(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	f.field(t, &store.ClassificationField{
		Code:         "kind",
		FieldType:    store.FieldSelect,
		Options:      store.ToJSON([]string{"Facture", "Contrat", "Courrier"}),
		UseAI:        true,
		AIPrompt:     "What kind of document is this?",
		UseRegex:     true,
		RegexPattern: `(Contrat)`,
	})
	doc := f.document(t, invoiceText, false)

	ai := &fakeAI{answer: "```\nLa facture.\n```"}
	results, err := newCascade(f, ai).ExtractAll(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ai.calls)
	assert.Equal(t, Result{Value: "Facture", Confidence: AIConfidence, Source: SourceAI}, results["kind"])
}

func TestAIFailureFallsThrough(t *testing.T) {
	tests := []struct {
		name string
		ai   llm.Completer
		want map[string]Result
	}{
		{
			name: "no provider",
			ai:   nil,
			want: map[string]Result{"amount": {Value: "120.50", Confidence: RegexConfidence, Source: SourceRegex}},
		},
		{
			name: "transport error",
			ai:   &fakeAI{err: errors.New("connection refused")},
			want: map[string]Result{"amount": {Value: "120.50", Confidence: RegexConfidence, Source: SourceRegex}},
		},
		{
			name: "answer outside options",
			ai:   &fakeAI{answer: "Quittance"},
			want: map[string]Result{"amount": {Value: "120.50", Confidence: RegexConfidence, Source: SourceRegex}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupStore(t)
			ctx := context.Background()
			f.field(t, &store.ClassificationField{
				Code:      "kind",
				FieldType: store.FieldSelect,
				Options:   store.ToJSON([]string{"Facture", "Contrat"}),
				UseAI:     true,
				AIPrompt:  "What kind of document is this?",
			})
			f.field(t, &store.ClassificationField{
				Code:         "amount",
				FieldType:    store.FieldAmount,
				UseRegex:     true,
				RegexPattern: `/montant total\s+([\d.]+)/i`,
			})
			doc := f.document(t, invoiceText, false)

			results, err := newCascade(f, tt.ai).ExtractAll(ctx, doc.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, results)
		})
	}
}

func TestAISkipsShortContent(t *testing.T) {
	f := setupStore(t)
	f.field(t, &store.ClassificationField{Code: "summary", UseAI: true, AIPrompt: "Summarise"})
	doc := f.document(t, "too short", false)

	ai := &fakeAI{answer: "anything"}
	results, err := newCascade(f, ai).ExtractAll(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, ai.calls)
}

func TestInvalidRegexYieldsNothing(t *testing.T) {
	f := setupStore(t)
	f.field(t, &store.ClassificationField{Code: "ref", UseRegex: true, RegexPattern: `([a-z`})
	doc := f.document(t, invoiceText, false)

	results, err := newCascade(f, nil).ExtractAll(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestCleanAIValue(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Facture", "Facture"},
		{"  \"EDF\".  ", "EDF"},
		{"```json\n{\"value\": \"Swisscom\"}\n```", "Swisscom"},
		{"{\"value\": 42.5}", "42.5"},
		{"{\"value\": [\"a\", \"b\"]}", "a, b"},
		{"\nLe contrat\nexplanation follows", "contrat"},
		{"The invoice.", "invoice"},
		{"l'attestation", "attestation"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanAIValue(tt.in), tt.in)
	}
}

func TestMapOptions(t *testing.T) {
	single := &store.ClassificationField{FieldType: store.FieldSelect, Options: store.ToJSON([]string{"Électricité", "Téléphone"})}
	got, ok := mapOptions("électricité", single)
	assert.True(t, ok)
	assert.Equal(t, "Électricité", got)

	_, ok = mapOptions("assurance", single)
	assert.False(t, ok)

	multi := &store.ClassificationField{FieldType: store.FieldMultiSelect, Options: store.ToJSON([]string{"Urgent", "Fiscal", "Privé"})}
	got, ok = mapOptions("fiscal, urgent, fiscal, inconnu", multi)
	assert.True(t, ok)
	assert.Equal(t, "Fiscal, Urgent", got)
}

func TestConfirmAndCorrectLearn(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	field := f.field(t, &store.ClassificationField{
		Code:                 "account",
		UseHistory:           true,
		UseRegex:             true,
		RegexPattern:         `Montant total ([\d.]+)`,
		LearnFromCorrections: true,
	})
	doc := f.document(t, invoiceText, true)
	c := newCascade(f, nil)

	err := c.Confirm(ctx, doc.ID, "account", "alice")
	assert.ErrorIs(t, err, apperrors.ErrValueNotFound)

	_, err = c.ExtractAll(ctx, doc.ID)
	require.NoError(t, err)

	require.NoError(t, c.Correct(ctx, doc.ID, "account", "CH-42", "alice"))
	v, err := f.store.GetExtractedValue(ctx, doc.ID, field.ID)
	require.NoError(t, err)
	assert.Equal(t, "CH-42", v.Value)
	assert.Equal(t, "120.50", v.OriginalValue)
	assert.Equal(t, "manual", v.Source)
	assert.True(t, v.IsCorrected)
	assert.True(t, v.IsConfirmed)

	top, err := f.store.TopHistory(ctx, field.ID, f.edf.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, top)
	assert.InDelta(t, store.HistoryInitialConfidence, top.Confidence, 1e-9)

	require.NoError(t, c.Confirm(ctx, doc.ID, "account", "bob"))
	top, err = f.store.TopHistory(ctx, field.ID, f.edf.ID, nil)
	require.NoError(t, err)
	assert.InDelta(t, store.HistoryInitialConfidence+ConfirmationBump, top.Confidence, 1e-9)

	// a second correction keeps the first machine value
	require.NoError(t, c.Correct(ctx, doc.ID, "account", "ch-42 ", "bob"))
	v, err = f.store.GetExtractedValue(ctx, doc.ID, field.ID)
	require.NoError(t, err)
	assert.Equal(t, "120.50", v.OriginalValue)
	top, err = f.store.TopHistory(ctx, field.ID, f.edf.ID, nil)
	require.NoError(t, err)
	assert.InDelta(t, store.HistoryInitialConfidence+ConfirmationBump+CorrectionBump, top.Confidence, 1e-9)

	audit, err := f.store.ListAudit(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, audit, 3)
	assert.Equal(t, "correct", audit[0].Action)
	assert.Equal(t, "120.50", audit[0].OldValue)
	assert.Equal(t, "regex", audit[0].OldSource)
	assert.Equal(t, "confirm", audit[1].Action)
	assert.Equal(t, "bob", audit[1].User)

	// the learned value now wins on a fresh document from the same sender
	other := &store.Document{Checksum: strings.Repeat("b", 32), Content: invoiceText, CorrespondentID: &f.edf.ID}
	require.NoError(t, f.store.CreateDocument(ctx, other))
	results, err := c.ExtractAll(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, SourceHistory, results["account"].Source)
	assert.Equal(t, "CH-42", results["account"].Value)
}

func TestReextractionKeepsManualValues(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	field := f.field(t, &store.ClassificationField{
		Code:         "amount",
		FieldType:    store.FieldAmount,
		UseRegex:     true,
		RegexPattern: `Montant total ([\d.]+)`,
	})
	doc := f.document(t, invoiceText, true)
	c := newCascade(f, nil)

	_, err := c.ExtractAll(ctx, doc.ID)
	require.NoError(t, err)
	require.NoError(t, c.Correct(ctx, doc.ID, "amount", "999.00", "alice"))

	results, err := c.ExtractAll(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "999.00", results["amount"].Value)
	assert.Equal(t, SourceManual, results["amount"].Source)

	v, err := f.store.GetExtractedValue(ctx, doc.ID, field.ID)
	require.NoError(t, err)
	assert.Equal(t, "999.00", v.Value)
	assert.Equal(t, "manual", v.Source)
	assert.InDelta(t, ManualConfidence, v.Confidence, 1e-9)
	assert.True(t, v.IsCorrected)
	assert.Equal(t, "120.50", v.OriginalValue)
	assert.Equal(t, "alice", v.ConfirmedBy)
}

func TestHistoryConfidenceIsCapped(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	field := f.field(t, &store.ClassificationField{Code: "account", UseHistory: true, LearnFromCorrections: true})
	doc := f.document(t, invoiceText, true)
	c := newCascade(f, nil)

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Correct(ctx, doc.ID, "account", "CH-42", "alice"))
	}
	top, err := f.store.TopHistory(ctx, field.ID, f.edf.ID, nil)
	require.NoError(t, err)
	assert.InDelta(t, store.HistoryMaxConfidence, top.Confidence, 1e-9)
	assert.Equal(t, 10, top.TimesUsed)
}

func TestCorrectWithoutCorrespondentDoesNotLearn(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	field := f.field(t, &store.ClassificationField{Code: "account", LearnFromCorrections: true})
	doc := f.document(t, invoiceText, false)
	c := newCascade(f, nil)

	require.NoError(t, c.Correct(ctx, doc.ID, "account", "CH-42", "alice"))
	rows, err := f.store.SuggestHistory(ctx, field.ID, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.Error(t, c.Correct(ctx, doc.ID, "account", "  ", "alice"))
	assert.ErrorIs(t, c.Correct(ctx, doc.ID, "missing", "x", "alice"), apperrors.ErrFieldNotFound)
	assert.ErrorIs(t, c.Correct(ctx, "doc_missing", "account", "x", "alice"), apperrors.ErrDocumentNotFound)
}

func TestClassifyComposesSuggestion(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	f.field(t, &store.ClassificationField{
		Code: "supplier", FieldType: store.FieldCorrespondent, Position: 1,
		UseRegex: true, RegexPattern: `\b(EDF)\b`,
	})
	f.field(t, &store.ClassificationField{
		Code: "type", FieldType: store.FieldDocumentType, Position: 2,
		UseRegex: true, RegexPattern: `^(Facture)`,
	})
	f.field(t, &store.ClassificationField{
		Code: "date", FieldType: store.FieldDate, Position: 3,
		UseRegex: true, RegexPattern: `(\d{2}\.\d{2}\.\d{4})`,
	})
	f.field(t, &store.ClassificationField{
		Code: "amount", FieldType: store.FieldAmount, Position: 4,
		UseRegex: true, RegexPattern: `Montant total ([\d.]+)`,
	})
	doc := f.document(t, invoiceText, false)

	sug, err := newCascade(f, nil).Classify(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, sug.Matched.CorrespondentID)
	require.NotNil(t, sug.Matched.DocumentTypeID)
	assert.Equal(t, f.edf.ID, *sug.Matched.CorrespondentID)
	assert.Equal(t, f.invoice.ID, *sug.Matched.DocumentTypeID)
	assert.Equal(t, "2024-03-12", sug.Date)
	require.NotNil(t, sug.Amount)
	assert.InDelta(t, 120.50, *sug.Amount, 1e-9)
	assert.Contains(t, sug.SuggestedTags, "2024")

	// correspondent, type, date and amount filled; no tag in the catalog
	want := 0.8
	assert.InDelta(t, want, sug.Confidence, 1e-9)

	stored, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.InDelta(t, want, stored.Confidence, 1e-9)
	var decoded Suggestion
	require.NoError(t, store.FromJSON(stored.Suggestion, &decoded))
	assert.Equal(t, "2024-03-12", decoded.Date)
	require.NotNil(t, decoded.DocumentDate())
	assert.Equal(t, 2024, decoded.DocumentDate().Year())
}

func TestClassifyUsesSplitSeed(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	doc := &store.Document{
		Checksum:   strings.Repeat("c", 32),
		Title:      "batch (pages 1-2)",
		Content:    "page text without catalog names",
		Status:     store.StatusPending,
		Suggestion: []byte(`{"split":{"page":0,"correspondent":"edf","document_type":"facture","date":"2024-05-01","is_relevant":true}}`),
	}
	require.NoError(t, f.store.CreateDocument(ctx, doc))

	sug, err := newCascade(f, nil).Classify(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, sug.Split)
	require.NotNil(t, sug.Matched.CorrespondentID)
	assert.Equal(t, f.edf.ID, *sug.Matched.CorrespondentID)
	assert.Equal(t, f.invoice.ID, *sug.Matched.DocumentTypeID)
	assert.Equal(t, "2024-05-01", sug.Date)
	assert.InDelta(t, 0.6, sug.Confidence, 1e-9)
}

func TestClassifyMatchesCatalogRules(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	tag := &store.Tag{Name: "Énergie", Match: "électrique", MatchingAlgorithm: store.MatchAny}
	require.NoError(t, f.store.CreateTag(ctx, tag))
	doc := f.document(t, invoiceText, false)

	sug, err := newCascade(f, nil).Classify(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{tag.ID}, sug.Matched.TagIDs)
	assert.Nil(t, sug.Matched.CorrespondentID)
	assert.InDelta(t, 0.2, sug.Confidence, 1e-9)
}

func TestDocumentConfidence(t *testing.T) {
	id := uint(1)
	amount := 120.5

	assert.InDelta(t, 0.0, DocumentConfidence(&Suggestion{}), 1e-9)
	assert.InDelta(t, 0.4, DocumentConfidence(&Suggestion{
		Matched: matcher.MatchedEntity{CorrespondentID: &id},
		Date:    "12.03.2024",
	}), 1e-9)
	assert.InDelta(t, 0.0, DocumentConfidence(&Suggestion{Date: "sometime"}), 1e-9)
	assert.InDelta(t, 1.0, DocumentConfidence(&Suggestion{
		Matched: matcher.MatchedEntity{CorrespondentID: &id, DocumentTypeID: &id, TagIDs: []uint{id}},
		Date:    "2024-03-12",
		Amount:  &amount,
	}), 1e-9)
}

// promptAI answers by the field prompt the request starts with
type promptAI map[string]string

func (p promptAI) Best(ctx context.Context) llm.Provider { return llm.ProviderRemote }

func (p promptAI) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	for prefix, answer := range p {
		if strings.HasPrefix(req.Prompt, prefix) {
			return &llm.Completion{Text: answer}, nil
		}
	}
	return nil, errors.New("unexpected prompt")
}

func TestClassifyAIOnlyProposalAutoValidates(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	tag := &store.Tag{Name: "Énergie"}
	require.NoError(t, f.store.CreateTag(ctx, tag))
	for i, def := range []struct{ code, typ, prompt string }{
		{"supplier", store.FieldCorrespondent, "Who sent it?"},
		{"type", store.FieldDocumentType, "What kind of document?"},
		{"date", store.FieldDate, "When was it issued?"},
		{"amount", store.FieldAmount, "What is the total?"},
		{"tags", store.FieldTags, "Which tags apply?"},
	} {
		f.field(t, &store.ClassificationField{
			Code: def.code, FieldType: def.typ, Position: i + 1, UseAI: true, AIPrompt: def.prompt,
		})
	}
	ai := promptAI{
		"Who sent it?":           "EDF",
		"What kind of document?": "Facture",
		"When was it issued?":    "12.03.2024",
		"What is the total?":     "120.50",
		"Which tags apply?":      "Énergie",
	}
	doc := f.document(t, invoiceText, false)

	sug, err := newCascade(f, ai).Classify(ctx, doc.ID)
	require.NoError(t, err)
	for _, res := range sug.Fields {
		assert.Equal(t, SourceAI, res.Source)
	}
	assert.Equal(t, []uint{tag.ID}, sug.Matched.TagIDs)
	assert.GreaterOrEqual(t, sug.Confidence, 0.8)
	assert.InDelta(t, 1.0, sug.Confidence, 1e-9)
}

func TestSuggestTags(t *testing.T) {
	tags := SuggestTags("Le Tribunal de Lausanne a rendu son jugement le 3 mai 2023 pour Dupont contre Martin, 2023.")
	assert.Equal(t, []string{"Tribunal", "Lausanne", "Dupont", "Martin", "2023", "Jugement"}, tags)

	assert.Nil(t, SuggestTags("   "))

	many := "Alpha Bravo Charlie Delta Echo Foxtrot 1990 1991 1992 1993 1994 1995 facture contrat"
	got := SuggestTags(many)
	assert.Len(t, got, 10)
	assert.Equal(t, []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo"}, got[:5])
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2024-03-12", "12.03.2024", "12/03/2024", "12-03-2024", "2024/03/12"} {
		d, ok := ParseDate(in)
		require.True(t, ok, in)
		assert.Equal(t, "2024-03-12", d.Format("2006-01-02"), in)
	}
	_, ok := ParseDate("March 12")
	assert.False(t, ok)
}
