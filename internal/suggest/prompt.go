package suggest

import (
	"fmt"
	"strings"

	"pqrdesk/internal/textnorm"
)

const (
	maxPromptSimilar       = 3
	similarTextExcerpt     = 200
	similarResponseExcerpt = 300
)

type Prompt struct {
	System string
	User   string
}

const systemPrompt = `Eres un asistente experto en atención al ciudadano que redacta respuestas profesionales para PQRs (peticiones, quejas, reclamos y sugerencias) en español colombiano.
Genera respuestas formales, empáticas y resolutivas.
Responde solo con el texto de la respuesta, sin markdown.`

// BuildPrompt assembles the case, the type template and up to three answered
// similar cases as grounding.
func BuildPrompt(cc CaseContext, template string) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "INFORMACIÓN DEL PQR:\n- Tipo: %s\n- Categoría: %s\n- Texto del ciudadano:\n%q\n",
		cc.Type.Label(), cc.Category.Label(), strings.TrimSpace(cc.Text))

	if strings.TrimSpace(template) != "" {
		b.WriteString("\nPLANTILLA DE RESPUESTA SUGERIDA:\n")
		b.WriteString(strings.TrimSpace(template))
		b.WriteString("\n")
	}

	similar := usableSimilar(cc.Similar)
	if len(similar) > 0 {
		b.WriteString("\nRESPUESTAS A CASOS SIMILARES:\n")
		for i, s := range similar {
			fmt.Fprintf(&b, "\nCaso %d (similitud: %.0f%%):\n- PQR: %q\n- Respuesta dada: %q\n",
				i+1, s.Score*100,
				textnorm.Excerpt(s.Text, similarTextExcerpt),
				textnorm.Excerpt(s.Response, similarResponseExcerpt))
		}
	}

	b.WriteString(`
INSTRUCCIONES:
1. Genera una respuesta profesional y empática para el PQR anterior.
2. Usa un tono formal pero cercano.
3. Si hay plantilla o casos similares, inspírate en ellos pero personaliza la respuesta.
4. Incluye saludo inicial y despedida cordial.
`)
	return Prompt{System: systemPrompt, User: b.String()}
}

// usableSimilar keeps similar cases that carry a response, at most three.
func usableSimilar(in []SimilarResponse) []SimilarResponse {
	out := make([]SimilarResponse, 0, maxPromptSimilar)
	for _, s := range in {
		if strings.TrimSpace(s.Response) == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxPromptSimilar {
			break
		}
	}
	return out
}
