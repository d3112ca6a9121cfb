package configstore

// ConfigStore loads a configuration document into out and saves one back.
type ConfigStore interface {
	Load(out any) error
	Save(data any) error
}
