// Package prompt holds the request template: the fixed classification
// instructions sent with every job plus the rendering of records into user
// content.
package prompt

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"etikett/internal/models"
)

// defaultSystem is the German product-type classification instruction set.
const defaultSystem = `You are an expert German e-commerce product categorization specialist with 15+ years of experience in industrial tools, hardware, and technical equipment classification.

Your task: Classify each item into the most precise professional German product type for e-commerce platforms.

Input: JSON array of {sku, product_title_de}
Rules:
- Use ONLY product_title_de for classification.
- No generic terms like Zubehör, Teil, Maschinenteil, Produkt.
- Output simple, core German product type (e.g., Winkelschleifer, Bohrer, Schutzhaube).
- STRICTLY ignore brand names, sizes, dimensions, quantities, measurements, model numbers.
- Remove ALL technical specifications and material types including:
  * Material descriptors: HSS, HSS-R, HSS-Co, Hartmetall, Diamant, Keramik, Carbide
  * Manufacturing methods: geschliffen, gedreht, gepresst, gerollt
  * Surface treatments: TiN, TiAlN, beschichtet, poliert
  * Technical grades: DIN, ISO, ANSI specifications
  * Performance descriptors: Professional, Premium, Heavy Duty, Extra, Super
  * Numbers: 2-Wege, 3-Wege, 2K-, 6-kant, 4in1, etc.
  * Technical acronyms: HACCP, FAZ, LOCKTIX, etc.
  * Brand codes: Eins.LOGS, ZYLKOschraube, etc.
- Remove ALL size indicators: mm, cm, m, Zoll, x, measurements, diameters.
- Remove functional descriptors like "abgerundet", "ohne Deckblech", "mit Gewinde", "für Winkelschleifer".
- Focus ONLY on the basic tool/product category.
- Use German terms when available, BUT keep established English product type names that are standard in German markets (e.g., Multi-Tool, Impact Driver).
- Avoid English for generic descriptors.

Examples:
- "Metabo HSS-R-Bohrer 19,0 x 198 mm" → "Bohrer"
- "2-Komponentenkleber Professional 50ml" → "Kleber"
- "3-Wege-Kupplung DN 25" → "Kupplung"
- "HACCP-Mantel Größe L" → "Mantel"
- "6-kant-Steckschlüssel-Set" → "Steckschlüssel"
- "Bosch Hartmetall-Trennscheibe 125mm Professional" → "Trennscheibe"
- "Diamant-Sägeblatt Expert 190mm" → "Diamant-Sägeblatt"
- "Spatmeißel abgerundet 400 x 135 mm" → "Spatmeißel"
- "Schutzhaube ohne Deckblech 100 mm" → "Schutzhaube"
- "Multi-Tool Professional 250W" → "Multi-Tool"
- "HSS-Spiralbohrer-Set DIN 338" → "Spiralbohrer-Set"
- "2K-Epoxydkleber 25ml" → "Kleber"
- "FAZ II Dämpfer M12" → "Dämpfer"
- "Eins.LOGS Holzverbinder" → "Holzverbinder"
- "LOCKTIX-Scheiben M8" → "Scheibe"
- "2-Takt-Motorenöl 1L" → "Motorenöl"
- "H-Filter HEPA 14" → "Filter"

Use your expertise to ensure consistent, professional categorization that serves e-commerce customers effectively.

IMPORTANT: Return ONLY the raw JSON array, no markdown formatting, no code blocks, no extra text.
Format: [{"sku":"<sku>","product_type_de":"<type>"}]`

// Template carries the model parameters and instructions for one run.
type Template struct {
	Model               string  `yaml:"model"`
	Temperature         float64 `yaml:"temperature"`
	MaxCompletionTokens int     `yaml:"max_completion_tokens"`
	System              string  `yaml:"system"`
}

// Default returns the built-in classification template.
func Default() Template {
	return Template{
		Model:               "gpt-4o-mini",
		Temperature:         0.2,
		MaxCompletionTokens: 16000,
		System:              defaultSystem,
	}
}

// Load reads a YAML template file over the defaults, so a file only needs
// to name the fields it changes.
func Load(path string) (Template, error) {
	t := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read template: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("parse template: %w", err)
	}
	if t.Model == "" {
		return Template{}, fmt.Errorf("template %s: model must not be empty", path)
	}
	if t.System == "" {
		return Template{}, fmt.Errorf("template %s: system prompt must not be empty", path)
	}
	return t, nil
}

// item is the wire shape of one record inside the user content.
type item struct {
	SKU   string `json:"sku"`
	Title string `json:"product_title_de"`
}

// UserContent renders records as the JSON array the instructions describe.
func (t Template) UserContent(records []models.Record) (string, error) {
	items := make([]item, len(records))
	for i, r := range records {
		items[i] = item{SKU: r.ID, Title: r.Text}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal items: %w", err)
	}
	return string(data), nil
}
