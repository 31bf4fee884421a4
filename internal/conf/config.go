// config.go: loading, saving and access to application settings
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/photoindex/internal/errors"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig defines the configuration for a rotating log file.
type LogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MainSettings contains process-wide settings.
type MainSettings struct {
	Name     string    `yaml:"name"`     // name of this node, used in logs and the UI
	LogLevel string    `yaml:"loglevel"` // trace, debug, info, warn, error
	Log      LogConfig `yaml:"log"`      // structured JSON log file
}

// LibrarySettings describes where photos live and where derived data goes.
type LibrarySettings struct {
	PhotosPath    string `yaml:"photospath"`    // read-only photo root
	DataDir       string `yaml:"datadir"`       // read-write data root (db, thumbs, faces, ...)
	WatchEnabled  bool   `yaml:"watchenabled"`  // filesystem change watching
	WatchInterval int    `yaml:"watchinterval"` // debounce window in seconds
}

// RetrySettings controls transient-error retries for stage workers.
type RetrySettings struct {
	MaxAttempts  int     `yaml:"maxattempts"`
	InitialDelay int     `yaml:"initialdelay"` // seconds
	MaxDelay     int     `yaml:"maxdelay"`     // seconds
	Multiplier   float64 `yaml:"multiplier"`
}

// WorkerSettings sets the worker pool size per stage. Zero selects the
// built-in default for that stage.
type WorkerSettings struct {
	Exif    int `yaml:"exif"`
	Geocode int `yaml:"geocode"`
	Thumbs  int `yaml:"thumbs"`
	Motion  int `yaml:"motion"`
	PHash   int `yaml:"phash"`
	Faces   int `yaml:"faces"`
	Caption int `yaml:"caption"`
	Tags    int `yaml:"tags"`
}

// FaceSettings controls face detection and person clustering.
type FaceSettings struct {
	Enabled        bool    `yaml:"enabled"`
	Cascade        string  `yaml:"cascade"`        // pigo cascade file, relative paths resolve under models/
	EmbeddingModel string  `yaml:"embeddingmodel"` // ONNX model path, relative paths resolve under models/
	OnnxLibrary    string  `yaml:"onnxlibrary"`    // onnxruntime shared library path
	ClusterEpsilon float64 `yaml:"clusterepsilon"` // cosine distance threshold for person assignment
	ReclusterEvery int     `yaml:"reclusterevery"` // full re-cluster after this many new faces
	MinPixels      int     `yaml:"minpixels"`      // minimum face size accepted by the detector
}

// EventSettings holds the thresholds for grouping photos into events.
type EventSettings struct {
	GapHours  float64 `yaml:"gaphours"`  // time gap that starts a new event
	JumpKm    float64 `yaml:"jumpkm"`    // haversine distance that starts a new event
	MinPhotos int     `yaml:"minphotos"` // smallest group kept as an event
}

// GeocodeSettings configures the offline reverse geocoder.
type GeocodeSettings struct {
	Dataset string `yaml:"dataset"` // optional places file, relative paths resolve under models/
}

// PipelineSettings groups everything the ingestion pipeline needs.
type PipelineSettings struct {
	QueueSize int             `yaml:"queuesize"` // bounded queue capacity per stage
	Workers   WorkerSettings  `yaml:"workers"`
	Retry     RetrySettings   `yaml:"retry"`
	Faces     FaceSettings    `yaml:"faces"`
	Events    EventSettings   `yaml:"events"`
	Geocode   GeocodeSettings `yaml:"geocode"`
}

// OllamaSettings configures the external captioning/tagging endpoint.
// An empty URL disables both stages.
type OllamaSettings struct {
	URL           string `yaml:"url"`
	Model         string `yaml:"model"`
	Timeout       int    `yaml:"timeout"`       // request timeout in seconds
	MaxConcurrent int    `yaml:"maxconcurrent"` // concurrent requests allowed
	Cooldown      int    `yaml:"cooldown"`      // seconds to back off after repeated failures
}

// WebServerSettings configures the HTTP and WebSocket surface.
type WebServerSettings struct {
	Enabled bool      `yaml:"enabled"`
	Port    string    `yaml:"port"`
	Log     LogConfig `yaml:"log"`
}

// TelemetrySettings configures optional error reporting. Disabled by default;
// nothing leaves the host unless explicitly enabled.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// Settings is the root configuration object.
type Settings struct {
	Debug bool `yaml:"debug"`

	Main      MainSettings      `yaml:"main"`
	Library   LibrarySettings   `yaml:"library"`
	Pipeline  PipelineSettings  `yaml:"pipeline"`
	Ollama    OllamaSettings    `yaml:"ollama"`
	WebServer WebServerSettings `yaml:"webserver"`
	Telemetry TelemetrySettings `yaml:"telemetry"`

	Version   string `yaml:"-"` // populated at startup from build info
	BuildDate string `yaml:"-"`
}

var settingsMutex sync.RWMutex

// Load reads the configuration file and environment variables into a
// Settings struct. Callers own the result; there is no package-level
// settings singleton.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// initViper initializes viper with defaults, env bindings and the config file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		// Env problems are reported but do not prevent startup; the
		// offending variable keeps its config-file or default value.
		log.Printf("Warning: %v", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first
// config path and re-reads it.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	log.Printf("Created default config file at: %s", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading embedded config file: %v", err)
	}
	return string(data)
}

// GetDefaultConfigPaths returns the configuration search paths for the
// current operating system. If a config.yaml already exists in one of
// them, only that path is returned.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	switch runtime.GOOS {
	case "windows":
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "photoindex"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "photoindex"),
			"/etc/photoindex",
		}
	}

	for _, path := range configPaths {
		configFile := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFile); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// FindConfigFile locates the active configuration file.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "find-config-paths").
			Build()
	}

	for _, path := range configPaths {
		configFilePath := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFilePath); err == nil {
			return configFilePath, nil
		}
	}

	return "", errors.Newf("config file not found").
		Category(errors.CategoryFileIO).
		Context("operation", "find-config-file").
		Build()
}

// SaveYAMLConfig writes settings to configPath atomically via a temporary
// file and rename. Comments in the existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	// Rename is atomic on the same filesystem; fall back to copy+delete
	// when the temp dir lives on a different device.
	if err := os.Rename(tempFileName, configPath); err != nil {
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}

// SaveSettings persists settings to the active config file.
func SaveSettings(settings *Settings) error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	settingsCopy := *settings

	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	log.Printf("Settings saved to %s", configPath)
	return nil
}
