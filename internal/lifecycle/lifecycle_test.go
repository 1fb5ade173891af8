package lifecycle

import (
	"errors"
	"testing"
	"time"

	"pqrdesk/internal/domain"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newManager() (*Manager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	return NewManager(WithClock(clock.now)), clock
}

func newCase(t *testing.T, m *Manager) *domain.Case {
	t.Helper()
	c, err := m.New("Solicito información sobre el corte de agua programado", "Corte de agua")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew(t *testing.T) {
	m, clock := newManager()
	c := newCase(t, m)
	if c.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", c.Status)
	}
	if c.Classified() {
		t.Fatal("new case should be unclassified")
	}
	if !c.CreatedAt.Equal(clock.t) {
		t.Fatalf("created at = %s", c.CreatedAt)
	}
	if _, err := m.New("corto", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTransition_ResolveWithoutResponseRejected(t *testing.T) {
	m, _ := newManager()
	c := newCase(t, m)

	for _, to := range []domain.Status{domain.StatusResolved, domain.StatusClosed} {
		if err := m.Transition(c, to); !errors.Is(err, domain.ErrState) {
			t.Fatalf("transition to %s: expected state error, got %v", to, err)
		}
		if c.Status != domain.StatusPending {
			t.Fatalf("status changed to %s after rejected transition", c.Status)
		}
		if c.RespondedAt != nil {
			t.Fatal("responded at stamped on rejected transition")
		}
	}
}

func TestTransition_FirstResolutionIsImmutable(t *testing.T) {
	m, clock := newManager()
	c := newCase(t, m)
	if err := m.SetResponse(c, "Se programó la revisión del medidor."); err != nil {
		t.Fatalf("SetResponse: %v", err)
	}

	clock.advance(time.Hour)
	t1 := clock.t
	if err := m.Transition(c, domain.StatusResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	clock.advance(24 * time.Hour)
	if err := m.Transition(c, domain.StatusInProgress); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	clock.advance(24 * time.Hour)
	if err := m.Transition(c, domain.StatusResolved); err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	clock.advance(time.Hour)
	if err := m.Transition(c, domain.StatusClosed); err != nil {
		t.Fatalf("close: %v", err)
	}

	if c.RespondedAt == nil || !c.RespondedAt.Equal(t1) {
		t.Fatalf("responded at = %v, want first resolution %s", c.RespondedAt, t1)
	}
	if !c.UpdatedAt.Equal(clock.t) {
		t.Fatalf("updated at = %s, want %s", c.UpdatedAt, clock.t)
	}
}

func TestTransition_ClosedWithoutResolutionStampsResponse(t *testing.T) {
	m, clock := newManager()
	c := newCase(t, m)
	_ = m.SetResponse(c, "Caso cerrado por duplicidad.")
	if err := m.Transition(c, domain.StatusClosed); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.RespondedAt == nil || !c.RespondedAt.Equal(clock.t) {
		t.Fatalf("responded at = %v", c.RespondedAt)
	}
}

func TestTransition_Edges(t *testing.T) {
	tests := []struct {
		from, to domain.Status
		ok       bool
	}{
		{domain.StatusPending, domain.StatusInProgress, true},
		{domain.StatusInProgress, domain.StatusPending, true},
		{domain.StatusResolved, domain.StatusPending, true},
		{domain.StatusClosed, domain.StatusInProgress, true},
		{domain.StatusClosed, domain.StatusPending, false},
		{domain.StatusClosed, domain.StatusResolved, false},
		{domain.StatusPending, domain.StatusPending, true},
	}
	for _, tt := range tests {
		m, _ := newManager()
		c := newCase(t, m)
		c.Status = tt.from
		c.Response = "Respuesta registrada."
		err := m.Transition(c, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tt.from, tt.to, err)
		}
		if !tt.ok && !errors.Is(err, domain.ErrState) {
			t.Errorf("%s -> %s: expected state error, got %v", tt.from, tt.to, err)
		}
		if !tt.ok && c.Status != tt.from {
			t.Errorf("%s -> %s: status changed on rejection", tt.from, tt.to)
		}
	}
}

func TestTransition_SameStateIsNoop(t *testing.T) {
	m, clock := newManager()
	c := newCase(t, m)
	before := c.UpdatedAt
	clock.advance(time.Minute)
	if err := m.Transition(c, domain.StatusPending); err != nil {
		t.Fatalf("noop transition: %v", err)
	}
	if !c.UpdatedAt.Equal(before) {
		t.Fatal("noop transition should not touch updated at")
	}
}

func TestAttachClassification(t *testing.T) {
	m, _ := newManager()
	c := newCase(t, m)
	r := domain.ClassificationResult{Type: domain.TypePeticion, TypeConfidence: 0.9, Category: domain.CategoryServiciosPublicos, CategoryConfidence: 0.8, Source: domain.SourceModel}

	if err := m.AttachClassification(c, r); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if c.Status != domain.StatusPending || c.ClassifiedAt == nil {
		t.Fatalf("unexpected case after attach: %+v", c)
	}

	r2 := r
	r2.Type = domain.TypeQueja
	if err := m.AttachClassification(c, r2); !errors.Is(err, domain.ErrState) {
		t.Fatalf("second attach: expected state error, got %v", err)
	}
	if c.Type != domain.TypePeticion {
		t.Fatal("classification replaced without explicit reclassify")
	}
	if err := m.Reclassify(c, r2); err != nil || c.Type != domain.TypeQueja {
		t.Fatalf("reclassify: %v, type %s", err, c.Type)
	}
}

func TestSetResponse_CannotClearResolved(t *testing.T) {
	m, _ := newManager()
	c := newCase(t, m)
	_ = m.SetResponse(c, "Respuesta enviada.")
	if err := m.Transition(c, domain.StatusResolved); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := m.SetResponse(c, "  "); !errors.Is(err, domain.ErrState) {
		t.Fatalf("expected state error, got %v", err)
	}
	if c.Response != "Respuesta enviada." {
		t.Fatalf("response changed to %q", c.Response)
	}
}

func TestSetText_ClearsClassification(t *testing.T) {
	m, _ := newManager()
	c := newCase(t, m)
	_ = m.AttachClassification(c, domain.ClassificationResult{Type: domain.TypePeticion, Category: domain.CategoryGobierno, Source: domain.SourceFallback})

	if err := m.SetText(c, "Presento una queja por el mal servicio de la alcaldía"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	if c.Classified() || c.ClassifiedAt != nil {
		t.Fatal("classification should be cleared after text edit")
	}
}
