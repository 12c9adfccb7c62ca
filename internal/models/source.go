package models

// Source is a social account whose posts feed the pipeline.
type Source struct {
	Handle      string `json:"handle" yaml:"handle"`
	DisplayName string `json:"display_name,omitempty" yaml:"name,omitempty"`
}
