package domain

// Category is read-only reference data; SystemPrompt is sent verbatim to the analyzer.
type Category struct {
	ID           string `yaml:"id" json:"id" validate:"required,max=64"`
	Label        string `yaml:"label" json:"label" validate:"required,max=120"`
	SystemPrompt string `yaml:"system_prompt" json:"-" validate:"required"`
}

// Advice is a read-only prompt fragment selected together with a Category.
type Advice struct {
	ID          string `yaml:"id" json:"id" validate:"required,max=64"`
	Name        string `yaml:"name" json:"name" validate:"required,max=120"`
	Description string `yaml:"description" json:"description" validate:"max=500"`
	Prompt      string `yaml:"prompt" json:"-" validate:"required"`
}
