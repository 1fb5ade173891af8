package suggest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pqrdesk/internal/domain"
	"pqrdesk/internal/integrations/fixed"
	"pqrdesk/internal/suggest"
)

type Step = fixed.Step[suggest.Draft]

func classifiedCase() suggest.CaseContext {
	return suggest.CaseContext{
		CaseID:         12,
		Text:           "Me cobraron dos veces la cuota de la tarjeta de crédito",
		Type:           domain.TypeReclamo,
		Category:       domain.CategoryBanca,
		IncludeSimilar: true,
		Similar: []suggest.SimilarResponse{
			{CaseID: 3, Score: 0.82, Text: "Doble cobro en tarjeta", Response: "Hemos reversado el cobro duplicado."},
			{CaseID: 4, Score: 0.70, Text: "Cobro no reconocido", Response: ""},
			{CaseID: 5, Score: 0.66, Text: "Cobro de cuota de manejo", Response: "La cuota fue exonerada."},
		},
	}
}

func TestSuggest_RequiresClassification(t *testing.T) {
	gen := fixed.NewGenerator(Step{Value: suggest.Draft{Text: "Estimado cliente"}})
	o := suggest.New(gen)

	for _, cc := range []suggest.CaseContext{
		{Text: "Me cobraron dos veces", Category: domain.CategoryBanca},
		{Text: "Me cobraron dos veces", Type: domain.TypeReclamo},
	} {
		if _, err := o.Suggest(context.Background(), cc); !errors.Is(err, domain.ErrPrecondition) {
			t.Fatalf("expected precondition error, got %v", err)
		}
	}
	if gen.Calls() != 0 {
		t.Fatalf("generator called %d times for unclassified cases", gen.Calls())
	}
}

func TestSuggest_ModelDraft(t *testing.T) {
	gen := fixed.NewGenerator(Step{Value: suggest.Draft{Text: "  Estimado cliente, hemos reversado el cobro.  ", KeyID: "1", Latency: 300 * time.Millisecond}})
	o := suggest.New(gen)

	got, err := o.Suggest(context.Background(), classifiedCase())
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if got.Source != domain.SourceModel || got.SourceKeyID != "1" {
		t.Fatalf("unexpected provenance %+v", got)
	}
	if got.Draft != "Estimado cliente, hemos reversado el cobro." {
		t.Fatalf("draft = %q", got.Draft)
	}
	if got.SimilarCaseCount != 2 {
		t.Fatalf("similar count = %d, want only answered cases", got.SimilarCaseCount)
	}

	prompt := gen.LastRequest().Prompt.User
	for _, want := range []string{"Reclamo", "Banca y Finanzas", "Hemos reversado el cobro duplicado.", "La cuota fue exonerada."} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Cobro no reconocido") {
		t.Fatal("prompt should skip similar cases without a response")
	}
}

func TestSuggest_GeneratorFailureUsesTemplate(t *testing.T) {
	tests := []struct {
		name string
		step Step
	}{
		{"error", Step{Err: errors.New("rate limited")}},
		{"empty draft", Step{Value: suggest.Draft{Text: "   "}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := suggest.New(fixed.NewGenerator(tt.step))
			got, err := o.Suggest(context.Background(), classifiedCase())
			if err != nil {
				t.Fatalf("Suggest: %v", err)
			}
			if got.Source != domain.SourceTemplate {
				t.Fatalf("source = %s, want template", got.Source)
			}
			if !strings.Contains(got.Draft, "reclamo") || !strings.Contains(got.Draft, "banca y finanzas") {
				t.Fatalf("template not rendered for reclamo/banca: %q", got.Draft)
			}
		})
	}
}

func TestSuggest_Timeout(t *testing.T) {
	o := suggest.New(fixed.NewGenerator(Step{Value: suggest.Draft{Text: "tarde"}, Delay: 5 * time.Second}), suggest.WithTimeout(30*time.Millisecond))
	got, err := o.Suggest(context.Background(), classifiedCase())
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if got.Source != domain.SourceTemplate {
		t.Fatalf("source = %s, want template after timeout", got.Source)
	}
}

func TestSuggest_WithoutSimilar(t *testing.T) {
	gen := fixed.NewGenerator(Step{Value: suggest.Draft{Text: "Estimado cliente"}})
	cc := classifiedCase()
	cc.IncludeSimilar = false

	got, err := suggest.New(gen).Suggest(context.Background(), cc)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if got.SimilarCaseCount != 0 {
		t.Fatalf("similar count = %d, want 0", got.SimilarCaseCount)
	}
	if strings.Contains(gen.LastRequest().Prompt.User, "CASOS SIMILARES") {
		t.Fatal("prompt should not carry similar cases")
	}
}

func TestLoadTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := "queja: |\n  Lamentamos lo ocurrido con {categoria}.\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write templates: %v", err)
	}
	tpl, err := suggest.LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	if got := tpl.Render(domain.TypeQueja, domain.CategorySalud); got != "Lamentamos lo ocurrido con salud." {
		t.Fatalf("rendered = %q", got)
	}
	if !strings.Contains(tpl.Render(domain.TypeSugerencia, domain.CategorySalud), "sugerencia") {
		t.Fatal("types missing from the file should keep the default template")
	}
}

func TestLoadTemplates_UnknownType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(path, []byte("felicitacion: gracias\n"), 0o644); err != nil {
		t.Fatalf("write templates: %v", err)
	}
	if _, err := suggest.LoadTemplates(path); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
