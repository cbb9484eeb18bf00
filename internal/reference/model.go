package reference

// EnumDirectory описывает один справочник типа enum
type EnumDirectory struct {
	Name  string     `yaml:"name"`
	Items []EnumItem `yaml:"items"`
}

type EnumItem struct {
	Code  string `yaml:"code"`
	Name  string `yaml:"name"`
	Order int    `yaml:"order,omitempty"`
	// Устаревшие элементы остаются в справочнике, но не попадают в domain.
	Deprecated bool `yaml:"deprecated,omitempty"`
}

// Codes: допустимые коды справочника в порядке объявления.
func (d EnumDirectory) Codes() []string {
	out := make([]string, 0, len(d.Items))
	for _, it := range d.Items {
		if it.Deprecated || it.Code == "" {
			continue
		}
		out = append(out, it.Code)
	}
	return out
}
