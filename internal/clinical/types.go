package clinical

type Category string

const (
	Symptoms    Category = "symptoms"
	Medications Category = "medications"
	Procedures  Category = "procedures"
	LabValues   Category = "lab_values"
)

// Categories lists every category in the order they are reported.
var Categories = []Category{Symptoms, Medications, Procedures, LabValues}

// Entity offsets are character (rune) positions into the input text.
type Entity struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Entities always carries every category, empty or not.
type Entities map[Category][]Entity

func NewEntities() Entities {
	e := make(Entities, len(Categories))
	for _, c := range Categories {
		e[c] = []Entity{}
	}
	return e
}

func (e Entities) Total() int {
	n := 0
	for _, list := range e {
		n += len(list)
	}
	return n
}

// Counts returns the number of entities per category, omitting empty ones.
func (e Entities) Counts() map[Category]int {
	out := make(map[Category]int)
	for c, list := range e {
		if len(list) > 0 {
			out[c] = len(list)
		}
	}
	return out
}

// Texts returns the distinct lower-cased entity texts for a category.
func (e Entities) Texts(c Category) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ent := range e[c] {
		key := lower(ent.Text)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

type Extractor interface {
	Extract(text string) Entities
}
