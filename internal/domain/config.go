package domain

// Config represents the application configuration
type Config struct {
	Host         string       `toml:"host" mapstructure:"host"`
	Port         int          `toml:"port" mapstructure:"port"`
	BaseURL      string       `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel     string       `toml:"logLevel" mapstructure:"logLevel"`
	LogPath      string       `toml:"logPath" mapstructure:"logPath"`
	DataDir      string       `toml:"dataDir" mapstructure:"dataDir"`
	Licensing    Licensing    `toml:"licensing" mapstructure:"licensing"`
	HTTPTimeouts HTTPTimeouts `toml:"httpTimeouts" mapstructure:"httpTimeouts"`
}

// HTTPTimeouts represents HTTP server timeout configuration
type HTTPTimeouts struct {
	ReadTimeout  int `toml:"readTimeout" mapstructure:"readTimeout"`   // seconds
	WriteTimeout int `toml:"writeTimeout" mapstructure:"writeTimeout"` // seconds
	IdleTimeout  int `toml:"idleTimeout" mapstructure:"idleTimeout"`   // seconds
}

// Licensing holds issuing defaults applied when a license is created without
// explicit values. Read at creation time only, never during validation.
type Licensing struct {
	DefaultMaxDevices    int `toml:"defaultMaxDevices" mapstructure:"defaultMaxDevices"`
	DefaultValidityDays  int `toml:"defaultValidityDays" mapstructure:"defaultValidityDays"` // 0 = perpetual
	ActivityWindowMins   int `toml:"activityWindowMins" mapstructure:"activityWindowMins"`
	ActivityCacheSeconds int `toml:"activityCacheSeconds" mapstructure:"activityCacheSeconds"`
}
