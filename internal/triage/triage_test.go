package triage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pqrdesk/internal/classify"
	"pqrdesk/internal/domain"
	"pqrdesk/internal/integrations/fixed"
	"pqrdesk/internal/lifecycle"
	"pqrdesk/internal/similarity"
	"pqrdesk/internal/storage/sqlite"
	"pqrdesk/internal/suggest"
	"pqrdesk/internal/triage"
)

type env struct {
	svc        *triage.Service
	store      *sqlite.Store
	classifier *fixed.Classifier
	searcher   *fixed.Searcher
	generator  *fixed.Generator
}

func newEnv(t *testing.T, cls *fixed.Classifier, srch *fixed.Searcher, gen *fixed.Generator) env {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "pqr.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := triage.NewService(triage.Deps{
		Store:      store,
		Classifier: classify.New(cls, nil),
		Retriever:  similarity.NewRetriever(srch, nil),
		Suggester:  suggest.New(gen),
		Lifecycle:  lifecycle.NewManager(),
	})
	return env{svc: svc, store: store, classifier: cls, searcher: srch, generator: gen}
}

var modelResult = domain.ClassificationResult{
	Type: domain.TypeQueja, TypeConfidence: 0.88,
	Category: domain.CategorySalud, CategoryConfidence: 0.77,
}

func strPtr(s string) *string { return &s }

func statusPtr(s domain.Status) *domain.Status { return &s }

func TestCreateCase_AutoClassify(t *testing.T) {
	e := newEnv(t, fixed.NewClassifier(fixed.Step[domain.ClassificationResult]{Value: modelResult}), fixed.NewSearcher(), fixed.NewGenerator())
	ctx := context.Background()

	c, err := e.svc.CreateCase(ctx, triage.NewCase{Text: "Presento una queja por la demora en la cita médica"}, true)
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if c.Type != domain.TypeQueja || c.ClassificationSource != domain.SourceModel || c.Status != domain.StatusPending {
		t.Fatalf("unexpected case %+v", c)
	}

	stored, err := e.store.GetCase(ctx, c.ID)
	if err != nil || stored.Category != domain.CategorySalud {
		t.Fatalf("stored case = %+v, %v", stored, err)
	}
	cs, err := e.store.ClassificationStats(ctx, time.Now().Add(-time.Hour))
	if err != nil || cs.TotalClassifications != 1 {
		t.Fatalf("classification log = %+v, %v", cs, err)
	}
}

func TestCreateCase_WithoutClassification(t *testing.T) {
	cls := fixed.NewClassifier(fixed.Step[domain.ClassificationResult]{Value: modelResult})
	e := newEnv(t, cls, fixed.NewSearcher(), fixed.NewGenerator())

	c, err := e.svc.CreateCase(context.Background(), triage.NewCase{Text: "Solicito copia del contrato de servicio", Channel: "email"}, false)
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if c.Classified() || cls.Calls() != 0 || c.Channel != "email" {
		t.Fatalf("unexpected case %+v (classifier calls %d)", c, cls.Calls())
	}
	if _, err := e.svc.CreateCase(context.Background(), triage.NewCase{Text: "corto"}, true); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateCase_RespondAndResolve(t *testing.T) {
	e := newEnv(t, fixed.NewClassifier(), fixed.NewSearcher(), fixed.NewGenerator())
	ctx := context.Background()
	c, _ := e.svc.CreateCase(ctx, triage.NewCase{Text: "Solicito información sobre el corte de agua programado"}, false)

	if _, err := e.svc.UpdateCase(ctx, c.ID, triage.Update{Status: statusPtr(domain.StatusResolved)}); !errors.Is(err, domain.ErrState) {
		t.Fatalf("expected state error, got %v", err)
	}
	stored, _ := e.store.GetCase(ctx, c.ID)
	if stored.Status != domain.StatusPending {
		t.Fatalf("status = %s after rejected update", stored.Status)
	}

	got, err := e.svc.UpdateCase(ctx, c.ID, triage.Update{
		Response: strPtr("El corte será el lunes de 8 a 12."),
		Status:   statusPtr(domain.StatusResolved),
	})
	if err != nil {
		t.Fatalf("UpdateCase: %v", err)
	}
	if got.Status != domain.StatusResolved || got.RespondedAt == nil {
		t.Fatalf("unexpected case %+v", got)
	}
}

func TestUpdateCase_CorrectionRecorded(t *testing.T) {
	e := newEnv(t, fixed.NewClassifier(fixed.Step[domain.ClassificationResult]{Value: modelResult}), fixed.NewSearcher(), fixed.NewGenerator())
	ctx := context.Background()
	c, _ := e.svc.CreateCase(ctx, triage.NewCase{Text: "Presento una queja por la demora en la cita médica"}, true)

	typ := domain.TypeReclamo
	got, err := e.svc.UpdateCase(ctx, c.ID, triage.Update{Type: &typ, CorrectedBy: "ana"})
	if err != nil {
		t.Fatalf("UpdateCase: %v", err)
	}
	if got.Type != domain.TypeReclamo || got.Category != domain.CategorySalud || got.ClassificationSource != domain.SourceManual {
		t.Fatalf("unexpected classification %+v", got)
	}
	corrections, err := e.store.CorrectionsForCase(ctx, c.ID)
	if err != nil || len(corrections) != 1 {
		t.Fatalf("corrections = %+v, %v", corrections, err)
	}
	if corrections[0].OriginalType != domain.TypeQueja || corrections[0].CorrectedType != domain.TypeReclamo {
		t.Fatalf("unexpected correction %+v", corrections[0])
	}
}

func TestUpdateCase_PartialCorrectionNeedsClassification(t *testing.T) {
	e := newEnv(t, fixed.NewClassifier(), fixed.NewSearcher(), fixed.NewGenerator())
	ctx := context.Background()
	c, _ := e.svc.CreateCase(ctx, triage.NewCase{Text: "Solicito copia del contrato de servicio"}, false)

	typ := domain.TypePeticion
	if _, err := e.svc.UpdateCase(ctx, c.ID, triage.Update{Type: &typ}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReclassify_StaleResultDiscarded(t *testing.T) {
	cls := fixed.NewClassifier(fixed.Step[domain.ClassificationResult]{Value: modelResult, Delay: 300 * time.Millisecond})
	e := newEnv(t, cls, fixed.NewSearcher(), fixed.NewGenerator())
	ctx := context.Background()
	c, _ := e.svc.CreateCase(ctx, triage.NewCase{Text: "Presento una queja por la demora en la cita médica"}, false)

	done := make(chan error, 1)
	go func() {
		_, err := e.svc.Reclassify(ctx, c.ID)
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	if _, err := e.svc.UpdateCase(ctx, c.ID, triage.Update{Text: strPtr("Solicito el certificado de residencia para un trámite")}); err != nil {
		t.Fatalf("UpdateCase: %v", err)
	}

	if err := <-done; !errors.Is(err, triage.ErrStale) {
		t.Fatalf("expected stale error, got %v", err)
	}
	stored, _ := e.store.GetCase(ctx, c.ID)
	if stored.Classified() {
		t.Fatalf("stale classification was applied: %+v", stored)
	}
}

func TestReclassify_ReplacesClassification(t *testing.T) {
	other := domain.ClassificationResult{Type: domain.TypeReclamo, TypeConfidence: 0.7, Category: domain.CategoryBanca, CategoryConfidence: 0.7}
	cls := fixed.NewClassifier(fixed.Step[domain.ClassificationResult]{Value: modelResult}, fixed.Step[domain.ClassificationResult]{Value: other})
	e := newEnv(t, cls, fixed.NewSearcher(), fixed.NewGenerator())
	ctx := context.Background()
	c, _ := e.svc.CreateCase(ctx, triage.NewCase{Text: "Presento una queja por la demora en la cita médica"}, true)

	got, err := e.svc.Reclassify(ctx, c.ID)
	if err != nil {
		t.Fatalf("Reclassify: %v", err)
	}
	if got.Type != domain.TypeReclamo || got.Category != domain.CategoryBanca {
		t.Fatalf("classification not replaced: %+v", got)
	}
}

func TestSuggestForCase(t *testing.T) {
	gen := fixed.NewGenerator(fixed.Step[suggest.Draft]{Value: suggest.Draft{Text: "Estimado ciudadano, revisaremos su caso.", KeyID: "0"}})
	// The first case stored in a fresh database gets id 1.
	srch := fixed.NewSearcher(fixed.Step[[]domain.SimilarCase]{Value: []domain.SimilarCase{{CaseID: 1, Score: 0.8, HasResponse: true}}})
	e := newEnv(t, fixed.NewClassifier(fixed.Step[domain.ClassificationResult]{Value: modelResult}), srch, gen)
	ctx := context.Background()

	answered, _ := e.svc.CreateCase(ctx, triage.NewCase{Text: "Queja por demora en la cita médica de la EPS"}, true)
	if answered.ID != 1 {
		t.Fatalf("first case id = %d", answered.ID)
	}
	if _, err := e.svc.UpdateCase(ctx, answered.ID, triage.Update{Response: strPtr("Reprogramamos su cita para esta semana.")}); err != nil {
		t.Fatalf("UpdateCase: %v", err)
	}
	c, _ := e.svc.CreateCase(ctx, triage.NewCase{Text: "Presento una queja por la demora en la cita médica"}, true)

	draft, err := e.svc.SuggestForCase(ctx, c.ID, true)
	if err != nil {
		t.Fatalf("SuggestForCase: %v", err)
	}
	if draft.Source != domain.SourceModel || draft.SimilarCaseCount != 1 {
		t.Fatalf("unexpected draft %+v", draft)
	}
	if got := gen.LastRequest().Similar; len(got) != 1 || got[0].Response != "Reprogramamos su cita para esta semana." {
		t.Fatalf("generator did not receive the answered neighbor: %+v", got)
	}
	stored, _ := e.store.GetCase(ctx, c.ID)
	if stored.SuggestedResponse != draft.Draft || stored.SuggestionSource != domain.SourceModel {
		t.Fatalf("draft not recorded on case: %+v", stored)
	}
}

func TestSuggestForCase_RequiresClassification(t *testing.T) {
	gen := fixed.NewGenerator(fixed.Step[suggest.Draft]{Value: suggest.Draft{Text: "borrador"}})
	e := newEnv(t, fixed.NewClassifier(), fixed.NewSearcher(), gen)
	ctx := context.Background()
	c, _ := e.svc.CreateCase(ctx, triage.NewCase{Text: "Solicito copia del contrato de servicio"}, false)

	if _, err := e.svc.SuggestForCase(ctx, c.ID, false); !errors.Is(err, domain.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if gen.Calls() != 0 {
		t.Fatal("generator should not be called for an unclassified case")
	}
}

func TestDeleteCase(t *testing.T) {
	e := newEnv(t, fixed.NewClassifier(), fixed.NewSearcher(), fixed.NewGenerator())
	ctx := context.Background()
	c, _ := e.svc.CreateCase(ctx, triage.NewCase{Text: "Solicito copia del contrato de servicio"}, false)

	if err := e.svc.DeleteCase(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCase: %v", err)
	}
	if _, err := e.svc.GetCase(ctx, c.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := e.svc.FindSimilar(ctx, similarity.Query{CaseID: c.ID}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for similar, got %v", err)
	}
}

// editingStore runs onFirstRead right after the first GetCase, simulating an
// operator edit that lands between the read and the remote call.
type editingStore struct {
	*sqlite.Store
	onFirstRead func()
}

func (s *editingStore) GetCase(ctx context.Context, id int64) (*domain.Case, error) {
	c, err := s.Store.GetCase(ctx, id)
	if fn := s.onFirstRead; fn != nil {
		s.onFirstRead = nil
		fn()
	}
	return c, err
}

func newEditingEnv(t *testing.T, cls *fixed.Classifier, gen *fixed.Generator) (*triage.Service, *editingStore) {
	t.Helper()
	base, err := sqlite.Open(filepath.Join(t.TempDir(), "pqr.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { base.Close() })
	store := &editingStore{Store: base}
	svc := triage.NewService(triage.Deps{
		Store:      store,
		Classifier: classify.New(cls, nil),
		Retriever:  similarity.NewRetriever(fixed.NewSearcher(), nil),
		Suggester:  suggest.New(gen),
	})
	return svc, store
}

func TestReclassify_EditBetweenReadAndClassify(t *testing.T) {
	svc, store := newEditingEnv(t, fixed.NewClassifier(fixed.Step[domain.ClassificationResult]{Value: modelResult}), fixed.NewGenerator())
	ctx := context.Background()
	c, err := svc.CreateCase(ctx, triage.NewCase{Text: "Presento una queja por la demora en la cita médica"}, false)
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	newText := "Texto completamente nuevo sobre el banco y mi tarjeta"
	store.onFirstRead = func() {
		if _, err := svc.UpdateCase(ctx, c.ID, triage.Update{Text: strPtr(newText)}); err != nil {
			t.Errorf("UpdateCase: %v", err)
		}
	}

	if _, err := svc.Reclassify(ctx, c.ID); !errors.Is(err, triage.ErrStale) {
		t.Fatalf("expected stale error, got %v", err)
	}
	stored, _ := store.Store.GetCase(ctx, c.ID)
	if stored.Text != newText || stored.Classified() {
		t.Fatalf("classification of the old text was applied: %+v", stored)
	}
}

func TestSuggestForCase_EditBetweenReadAndGenerate(t *testing.T) {
	gen := fixed.NewGenerator(fixed.Step[suggest.Draft]{Value: suggest.Draft{Text: "Estimado ciudadano, revisaremos su cita."}})
	svc, store := newEditingEnv(t, fixed.NewClassifier(fixed.Step[domain.ClassificationResult]{Value: modelResult}), gen)
	ctx := context.Background()
	c, err := svc.CreateCase(ctx, triage.NewCase{Text: "Presento una queja por la demora en la cita médica"}, true)
	if err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	store.onFirstRead = func() {
		if _, err := svc.UpdateCase(ctx, c.ID, triage.Update{Text: strPtr("Solicito el certificado de residencia para un trámite")}); err != nil {
			t.Errorf("UpdateCase: %v", err)
		}
	}

	if _, err := svc.SuggestForCase(ctx, c.ID, false); !errors.Is(err, triage.ErrStale) {
		t.Fatalf("expected stale error, got %v", err)
	}
	stored, _ := store.Store.GetCase(ctx, c.ID)
	if stored.SuggestedResponse != "" {
		t.Fatalf("stale draft was recorded: %+v", stored)
	}
}
