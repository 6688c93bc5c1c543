package vectordb

import "time"

// Config controls Qdrant client behavior
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	// Collection holding ingested research documents
	Collection string `mapstructure:"collection"`
	// Search params
	TopK      int           `mapstructure:"top_k"`
	Threshold float64       `mapstructure:"threshold"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// VectorSize is used when creating the collection and, when > 0, to
	// validate an existing one.
	VectorSize int `mapstructure:"vector_size"`
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = "http://localhost:6333"
	}
	if c.Collection == "" {
		c.Collection = "research_papers"
	}
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// Document is one retrieved or ingested passage.
type Document struct {
	Content string  `json:"content" yaml:"content" validate:"required"`
	Source  string  `json:"source,omitempty" yaml:"source,omitempty"`
	Score   float64 `json:"score,omitempty" yaml:"-"`
}

// UpsertItem represents a single point to insert into Qdrant
type UpsertItem struct {
	ID      interface{}            `json:"id,omitempty"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// UpsertResponse captures basic Qdrant upsert response
type UpsertResponse struct {
	Status string  `json:"status"`
	Time   float64 `json:"time"`
}
