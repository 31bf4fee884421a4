// validate.go - settings validation run after loading
package conf

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidateSettings checks the loaded settings for values that would make
// the service unable to start. It collects all problems instead of
// stopping at the first one.
func ValidateSettings(settings *Settings) error {
	var errs []string

	if err := validateLibrarySettings(&settings.Library); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validatePipelineSettings(&settings.Pipeline); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateWebServerSettings(&settings.WebServer); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateOllamaSettings(&settings.Ollama); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateLibrarySettings(library *LibrarySettings) error {
	if library.PhotosPath == "" {
		return fmt.Errorf("library.photospath must not be empty")
	}
	if library.DataDir == "" {
		return fmt.Errorf("library.datadir must not be empty")
	}
	if library.PhotosPath == library.DataDir {
		return fmt.Errorf("library.photospath and library.datadir must differ")
	}
	if library.WatchInterval < 1 {
		return fmt.Errorf("library.watchinterval must be at least 1 second, got %d", library.WatchInterval)
	}
	return nil
}

func validatePipelineSettings(pipeline *PipelineSettings) error {
	if pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline.queuesize must be positive, got %d", pipeline.QueueSize)
	}
	if pipeline.Retry.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.retry.maxattempts must be at least 1, got %d", pipeline.Retry.MaxAttempts)
	}
	if pipeline.Retry.Multiplier < 1.0 {
		return fmt.Errorf("pipeline.retry.multiplier must be >= 1.0, got %g", pipeline.Retry.Multiplier)
	}
	if pipeline.Retry.InitialDelay < 0 || pipeline.Retry.MaxDelay < pipeline.Retry.InitialDelay {
		return fmt.Errorf("pipeline.retry delays invalid: initial %ds, max %ds",
			pipeline.Retry.InitialDelay, pipeline.Retry.MaxDelay)
	}
	if eps := pipeline.Faces.ClusterEpsilon; eps <= 0 || eps >= 1 {
		return fmt.Errorf("pipeline.faces.clusterepsilon must be in (0, 1), got %g", eps)
	}
	if pipeline.Faces.ReclusterEvery < 1 {
		return fmt.Errorf("pipeline.faces.reclusterevery must be positive, got %d", pipeline.Faces.ReclusterEvery)
	}
	if pipeline.Events.GapHours <= 0 {
		return fmt.Errorf("pipeline.events.gaphours must be positive, got %g", pipeline.Events.GapHours)
	}
	if pipeline.Events.JumpKm <= 0 {
		return fmt.Errorf("pipeline.events.jumpkm must be positive, got %g", pipeline.Events.JumpKm)
	}
	if pipeline.Events.MinPhotos < 1 {
		return fmt.Errorf("pipeline.events.minphotos must be positive, got %d", pipeline.Events.MinPhotos)
	}
	return nil
}

func validateWebServerSettings(webserver *WebServerSettings) error {
	if !webserver.Enabled {
		return nil
	}
	port, err := strconv.Atoi(webserver.Port)
	if err != nil {
		return fmt.Errorf("webserver.port must be numeric, got %q", webserver.Port)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("webserver.port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateOllamaSettings(ollama *OllamaSettings) error {
	// An empty URL is valid and disables captioning and tagging.
	if ollama.URL == "" {
		return nil
	}
	if !strings.HasPrefix(ollama.URL, "http://") && !strings.HasPrefix(ollama.URL, "https://") {
		return fmt.Errorf("ollama.url must start with http:// or https://, got %q", ollama.URL)
	}
	if ollama.Model == "" {
		return fmt.Errorf("ollama.model must not be empty when ollama.url is set")
	}
	if ollama.Timeout < 1 {
		return fmt.Errorf("ollama.timeout must be at least 1 second, got %d", ollama.Timeout)
	}
	if ollama.MaxConcurrent < 1 {
		return fmt.Errorf("ollama.maxconcurrent must be at least 1, got %d", ollama.MaxConcurrent)
	}
	return nil
}
