package fallback

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pqrdesk/internal/domain"
	"pqrdesk/internal/textnorm"
)

// TypeRule maps keyword cues to a case type. Rules are evaluated in order.
type TypeRule struct {
	Value    domain.CaseType `yaml:"value"`
	Keywords []string        `yaml:"keywords"`
}

type CategoryRule struct {
	Value    domain.Category `yaml:"value"`
	Keywords []string        `yaml:"keywords"`
}

// Rules is the ordered keyword table. Keywords are matched as whole words or
// phrases of the folded text, allowing a plural suffix.
type Rules struct {
	Types      []TypeRule     `yaml:"types"`
	Categories []CategoryRule `yaml:"categories"`
}

// DefaultRules checks the most specific intents first: suggestions and claims carry
// request verbs too ("solicito el reembolso"), so petición cues are evaluated last.
func DefaultRules() Rules {
	return Rules{
		Types: []TypeRule{
			{Value: domain.TypeSugerencia, Keywords: []string{
				"sugerencia", "sugiero", "propongo", "recomiendo", "seria bueno",
				"deberian implementar", "podrian mejorar", "seria conveniente",
			}},
			{Value: domain.TypeReclamo, Keywords: []string{
				"reclamo", "reclamacion", "cobro indebido", "reembolso", "me cobraron",
				"devolucion de mi dinero", "exijo", "doble cobro", "no me han devuelto",
			}},
			{Value: domain.TypeQueja, Keywords: []string{
				"queja", "inconforme", "mal servicio", "pesimo", "maltrato",
				"molesto", "inaceptable", "mala atencion", "indignado",
			}},
			{Value: domain.TypePeticion, Keywords: []string{
				"solicito", "solicitud", "peticion", "requiero", "necesito",
				"quisiera", "informacion", "certificado", "copia de",
			}},
		},
		Categories: []CategoryRule{
			{Value: domain.CategoryServiciosPublicos, Keywords: []string{
				"agua", "acueducto", "alcantarillado", "energia", "gas natural",
				"medidor", "servicio de gas", "recoleccion de basura", "alumbrado",
			}},
			{Value: domain.CategoryBanca, Keywords: []string{
				"banco", "bancario", "bancaria", "tarjeta de credito", "tarjeta debito", "cuenta de ahorros",
				"prestamo", "extracto", "cajero", "transferencia", "credito hipotecario",
			}},
			{Value: domain.CategorySalud, Keywords: []string{
				"eps", "cita medica", "medicamento", "hospital", "historia clinica",
				"medico", "clinica", "urgencias", "afiliacion",
			}},
			{Value: domain.CategoryTelecomunicaciones, Keywords: []string{
				"internet", "telefonia", "celular", "sin senal", "fibra optica",
				"plan de datos", "operador movil", "television", "linea telefonica",
			}},
			{Value: domain.CategoryTransporte, Keywords: []string{
				"transmilenio", "autobus", "buseta", "transporte publico", "transito",
				"licencia de conduccion", "comparendo", "vuelo", "aerolinea", "taxi", "peaje",
			}},
			{Value: domain.CategoryComercio, Keywords: []string{
				"mi pedido", "producto", "tienda", "compra", "garantia",
				"almacen", "factura de venta", "domicilio",
			}},
			{Value: domain.CategoryEducacion, Keywords: []string{
				"universidad", "colegio", "matricula", "certificado de notas", "semestre",
				"docente", "profesor", "homologacion", "estudiante",
			}},
			{Value: domain.CategoryGobierno, Keywords: []string{
				"alcaldia", "impuesto", "predial", "subsidio", "registraduria",
				"cedula", "gobernacion", "certificado de residencia", "paz y salvo",
			}},
		},
	}
}

// LoadRules reads a YAML rule file. Axes missing from the file keep the defaults.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read fallback rules: %w", err)
	}
	var fromFile Rules
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return Rules{}, fmt.Errorf("parse fallback rules yaml: %w", err)
	}

	rules := DefaultRules()
	if len(fromFile.Types) > 0 {
		rules.Types = fromFile.Types
	}
	if len(fromFile.Categories) > 0 {
		rules.Categories = fromFile.Categories
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r Rules) Validate() error {
	for _, t := range r.Types {
		if !t.Value.Valid() {
			return fmt.Errorf("%w: fallback rule has unknown type %q", domain.ErrValidation, t.Value)
		}
	}
	for _, c := range r.Categories {
		if !c.Value.Valid() {
			return fmt.Errorf("%w: fallback rule has unknown category %q", domain.ErrValidation, c.Value)
		}
	}
	return nil
}

// folded returns a copy with every keyword normalized the same way as input text.
func (r Rules) folded() Rules {
	out := Rules{
		Types:      make([]TypeRule, len(r.Types)),
		Categories: make([]CategoryRule, len(r.Categories)),
	}
	for i, t := range r.Types {
		out.Types[i] = TypeRule{Value: t.Value, Keywords: foldAll(t.Keywords)}
	}
	for i, c := range r.Categories {
		out.Categories[i] = CategoryRule{Value: c.Value, Keywords: foldAll(c.Keywords)}
	}
	return out
}

func foldAll(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = textnorm.Fold(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
