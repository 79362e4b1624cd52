package logger

// LevelConfig provides per-component log levels. Implemented by the
// configuration package; declared here to avoid an import cycle.
type LevelConfig interface {
	GetComponentLevel(component string) string
	IsDevelopment() bool
}

// NewComponentLoggerFromConfig builds a component-scoped logger honoring the
// configured per-component level. Falls back to the default logger when cfg
// is nil or the level string is unusable.
func NewComponentLoggerFromConfig(component string, cfg LevelConfig) *Logger {
	if cfg == nil {
		return GetDefaultLogger().WithComponent(component)
	}

	l, err := NewLogger(cfg.GetComponentLevel(component), cfg.IsDevelopment())
	if err != nil {
		return GetDefaultLogger().WithComponent(component)
	}

	return l.WithComponent(component)
}
