package legal

import "strings"

// Category is the type of legal instrument in the Mexican legal system.
type Category string

const (
	CategoryConstitucion Category = "CONSTITUCION"
	CategoryLey          Category = "LEY"
	CategoryLeyFederal   Category = "LEY_FEDERAL"
	CategoryLeyGeneral   Category = "LEY_GENERAL"
	CategoryLeyOrganica  Category = "LEY_ORGANICA"
	CategoryCodigo       Category = "CODIGO"
	CategoryDecreto      Category = "DECRETO"
	CategoryReglamento   Category = "REGLAMENTO"
	CategoryAcuerdo      Category = "ACUERDO"
	CategoryTratado      Category = "TRATADO"
	CategoryConvenio     Category = "CONVENIO"
)

var categoryByLabel = map[string]Category{
	"CONSTITUCION": CategoryConstitucion,
	"CONSTITUCIÓN": CategoryConstitucion,
	"LEY":          CategoryLey,
	"LEY FEDERAL":  CategoryLeyFederal,
	"LEY GENERAL":  CategoryLeyGeneral,
	"LEY ORGANICA": CategoryLeyOrganica,
	"LEY ORGÁNICA": CategoryLeyOrganica,
	"CODIGO":       CategoryCodigo,
	"CÓDIGO":       CategoryCodigo,
	"DECRETO":      CategoryDecreto,
	"REGLAMENTO":   CategoryReglamento,
	"ACUERDO":      CategoryAcuerdo,
	"TRATADO":      CategoryTratado,
	"CONVENIO":     CategoryConvenio,
}

// ParseCategory maps an upstream label to a Category.
// Unknown labels resolve to CategoryLey, never to an empty value.
func ParseCategory(s string) Category {
	if c, ok := categoryByLabel[normalizeLabel(s)]; ok {
		return c
	}
	return CategoryLey
}

// Scope is the jurisdictional scope of a legal instrument.
type Scope string

const (
	ScopeFederal       Scope = "FEDERAL"
	ScopeEstatal       Scope = "ESTATAL"
	ScopeCDMX          Scope = "CDMX"
	ScopeInternacional Scope = "INTERNACIONAL"
	ScopeExtranjera    Scope = "EXTRANJERA"
)

var scopeByLabel = map[string]Scope{
	"FEDERAL":       ScopeFederal,
	"ESTATAL":       ScopeEstatal,
	"CDMX":          ScopeCDMX,
	"INTERNACIONAL": ScopeInternacional,
	"EXTRANJERA":    ScopeExtranjera,
}

// ParseScope maps an upstream label to a Scope. Unknown labels resolve to ScopeFederal.
func ParseScope(s string) Scope {
	if sc, ok := scopeByLabel[normalizeLabel(s)]; ok {
		return sc
	}
	return ScopeFederal
}

// Status is the current validity of a legal instrument.
type Status string

const (
	StatusVigente    Status = "VIGENTE"
	StatusAbrogada   Status = "ABROGADA"
	StatusDerogada   Status = "DEROGADA"
	StatusSustituida Status = "SUSTITUIDA"
	StatusExtinta    Status = "EXTINTA"
)

var statusByLabel = map[string]Status{
	"VIGENTE":    StatusVigente,
	"ABROGADA":   StatusAbrogada,
	"DEROGADA":   StatusDerogada,
	"SUSTITUIDA": StatusSustituida,
	"EXTINTA":    StatusExtinta,
}

// ParseStatus maps an upstream label to a Status. Unknown labels resolve to StatusVigente.
func ParseStatus(s string) Status {
	if st, ok := statusByLabel[normalizeLabel(s)]; ok {
		return st
	}
	return StatusVigente
}

// SubjectMatter classifies the area of law a document pertains to.
type SubjectMatter string

const (
	SubjectAdministrativo SubjectMatter = "ADMINISTRATIVO"
	SubjectCivil          SubjectMatter = "CIVIL"
	SubjectConstitucional SubjectMatter = "CONSTITUCIONAL"
	SubjectElectoral      SubjectMatter = "ELECTORAL"
	SubjectFamiliar       SubjectMatter = "FAMILIAR"
	SubjectFiscal         SubjectMatter = "FISCAL"
	SubjectLaboral        SubjectMatter = "LABORAL"
	SubjectMercantil      SubjectMatter = "MERCANTIL"
	SubjectPenal          SubjectMatter = "PENAL"
	SubjectProcesal       SubjectMatter = "PROCESAL"
)

func normalizeLabel(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
