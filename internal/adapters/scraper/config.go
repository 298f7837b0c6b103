package scraper

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed selectors.yaml
var defaultSelectors []byte

// DefaultSite ключ секции, общей для всех сайтов.
const DefaultSite = "default"

// CardSelectors находят поля профиля внутри корня карточки.
type CardSelectors struct {
	Root     string `yaml:"root"`
	ID       string `yaml:"id"`
	Username string `yaml:"username"`
	Name     string `yaml:"name"`
	Photo    string `yaml:"photo"`
	URL      string `yaml:"url"`
	Private  string `yaml:"private"`
}

// EntrySelectors находят поля поста или комментария.
type EntrySelectors struct {
	Root      string `yaml:"root"`
	UID       string `yaml:"uid"`
	URL       string `yaml:"url"`
	Content   string `yaml:"content"`
	Published string `yaml:"published"`
	Author    string `yaml:"author"`
}

// Selectors описывают разметку одного сайта.
type Selectors struct {
	Card    CardSelectors  `yaml:"card"`
	Entry   EntrySelectors `yaml:"entry"`
	Comment string         `yaml:"comment"`
	Like    string         `yaml:"like"`
}

// LoadSelectors читает селекторы из YAML-файла. Пустой путь даёт встроенные значения.
func LoadSelectors(path string) (map[string]Selectors, error) {
	raw := defaultSelectors
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read selectors: %w", err)
		}
		raw = data
	}
	return ParseSelectors(raw)
}

// ParseSelectors разбирает YAML с селекторами по сайтам.
func ParseSelectors(raw []byte) (map[string]Selectors, error) {
	var out map[string]Selectors
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse selectors: %w", err)
	}
	if _, ok := out[DefaultSite]; !ok {
		return nil, fmt.Errorf("parse selectors: missing %q section", DefaultSite)
	}
	for site, sel := range out {
		if sel.Card.Root == "" || sel.Entry.Root == "" {
			return nil, fmt.Errorf("parse selectors: %s: card.root and entry.root are required", site)
		}
	}
	return out, nil
}
