package catalog

// Rarity names a draw tier, e.g. "common" or "legendary".
type Rarity string

const (
	Common    Rarity = "common"
	Uncommon  Rarity = "uncommon"
	Rare      Rarity = "rare"
	Epic      Rarity = "epic"
	Legendary Rarity = "legendary"
)

// RarityMeta holds the draw weight and duplicate reward of one tier.
// Label, Color and Glow are presentation only.
type RarityMeta struct {
	Rarity    Rarity  `json:"rarity" yaml:"rarity"`
	Weight    float64 `json:"weight" yaml:"weight"`
	DustValue int     `json:"dustValue" yaml:"dust_value"`
	Label     string  `json:"label,omitempty" yaml:"label,omitempty"`
	Color     string  `json:"color,omitempty" yaml:"color,omitempty"`
	Glow      string  `json:"glow,omitempty" yaml:"glow,omitempty"`
}

// Entry is one collectible guy.
type Entry struct {
	ElementNumber int    `json:"elementNumber" yaml:"element_number"`
	Rarity        Rarity `json:"rarity" yaml:"rarity"`
	Symbol        string `json:"symbol" yaml:"symbol"`
	RelativePath  string `json:"relativePath" yaml:"relative_path"`
}

// Raw files loaded from YAML; mirrors the content schema.
type rawRarities struct {
	Version  string       `yaml:"version"`
	Rarities []RarityMeta `yaml:"rarities"`
	Notes    string       `yaml:"notes,omitempty"`
}

type rawCatalog struct {
	Version string  `yaml:"version"`
	Entries []Entry `yaml:"entries"`
}

// rawOverride lets a content drop retune a tier without touching the base table.
type rawOverride struct {
	Rarities map[Rarity]struct {
		Weight    *float64 `yaml:"weight"`
		DustValue *int     `yaml:"dust_value"`
	} `yaml:"rarities"`
}
