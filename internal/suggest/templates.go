package suggest

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pqrdesk/internal/domain"
)

// Templates holds one reply skeleton per case type. "{categoria}" is replaced with
// the category label when rendered.
type Templates map[domain.CaseType]string

func DefaultTemplates() Templates {
	return Templates{
		domain.TypePeticion: `Estimado(a) ciudadano(a):

Reciba un cordial saludo. En atención a su petición relacionada con {categoria}, le informamos que hemos recibido su solicitud y se encuentra en revisión por el área encargada.

Le daremos respuesta de fondo dentro de los términos legales vigentes. Quedamos atentos a cualquier inquietud adicional.

Atentamente,
Oficina de Atención al Ciudadano`,
		domain.TypeQueja: `Estimado(a) ciudadano(a):

Lamentamos los inconvenientes que ha experimentado en relación con {categoria}. Su queja ha sido registrada y remitida al área responsable para su análisis.

Tomaremos las acciones correctivas necesarias y le informaremos sobre el resultado de la revisión.

Atentamente,
Oficina de Atención al Ciudadano`,
		domain.TypeReclamo: `Estimado(a) ciudadano(a):

Hemos recibido su reclamo relacionado con {categoria}. Iniciamos el proceso de verificación conforme a la normativa vigente y en un plazo máximo de 15 días hábiles recibirá una respuesta de fondo.

Si se confirma la procedencia de su reclamo, se realizarán los ajustes correspondientes.

Atentamente,
Oficina de Atención al Ciudadano`,
		domain.TypeSugerencia: `Estimado(a) ciudadano(a):

Agradecemos su valiosa sugerencia sobre {categoria}. La hemos remitido al área de mejora continua para su evaluación.

Sus aportes nos ayudan a mejorar la calidad de nuestros servicios.

Atentamente,
Oficina de Atención al Ciudadano`,
	}
}

// LoadTemplates reads a YAML map of type value to template. Types missing from the
// file keep the default template.
func LoadTemplates(path string) (Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse templates yaml: %w", err)
	}
	t := DefaultTemplates()
	for key, body := range raw {
		caseType, err := domain.ParseCaseType(key)
		if err != nil {
			return nil, fmt.Errorf("templates file: %w", err)
		}
		if strings.TrimSpace(body) == "" {
			continue
		}
		t[caseType] = strings.TrimSpace(body)
	}
	return t, nil
}

// Render returns the template for caseType with the category label filled in.
func (t Templates) Render(caseType domain.CaseType, category domain.Category) string {
	body, ok := t[caseType]
	if !ok {
		body = DefaultTemplates()[domain.TypePeticion]
	}
	return strings.ReplaceAll(body, "{categoria}", strings.ToLower(category.Label()))
}
