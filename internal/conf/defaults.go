// defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "PhotoIndex")
	viper.SetDefault("main.loglevel", "info")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/photoindex.log")

	viper.SetDefault("library.photospath", "/photos")
	viper.SetDefault("library.datadir", "/data")
	viper.SetDefault("library.watchenabled", true)
	viper.SetDefault("library.watchinterval", 30)

	viper.SetDefault("pipeline.queuesize", 256)

	viper.SetDefault("pipeline.workers.exif", 4)
	viper.SetDefault("pipeline.workers.geocode", 2)
	viper.SetDefault("pipeline.workers.thumbs", 0) // 0 = NumCPU capped at 8
	viper.SetDefault("pipeline.workers.motion", 2)
	viper.SetDefault("pipeline.workers.phash", 0)
	viper.SetDefault("pipeline.workers.faces", 1)
	viper.SetDefault("pipeline.workers.caption", 1)
	viper.SetDefault("pipeline.workers.tags", 1)

	viper.SetDefault("pipeline.retry.maxattempts", 3)
	viper.SetDefault("pipeline.retry.initialdelay", 2)
	viper.SetDefault("pipeline.retry.maxdelay", 60)
	viper.SetDefault("pipeline.retry.multiplier", 2.0)

	viper.SetDefault("pipeline.faces.enabled", true)
	viper.SetDefault("pipeline.faces.cascade", "facefinder")
	viper.SetDefault("pipeline.faces.embeddingmodel", "arcface.onnx")
	viper.SetDefault("pipeline.faces.onnxlibrary", "")
	viper.SetDefault("pipeline.faces.clusterepsilon", 0.35)
	viper.SetDefault("pipeline.faces.reclusterevery", 500)
	viper.SetDefault("pipeline.faces.minpixels", 40)

	viper.SetDefault("pipeline.events.gaphours", 6.0)
	viper.SetDefault("pipeline.events.jumpkm", 50.0)
	viper.SetDefault("pipeline.events.minphotos", 2)

	viper.SetDefault("pipeline.geocode.dataset", "")

	viper.SetDefault("ollama.url", "")
	viper.SetDefault("ollama.model", "qwen3-vl:30b-a3b-instruct")
	viper.SetDefault("ollama.timeout", 120)
	viper.SetDefault("ollama.maxconcurrent", 2)
	viper.SetDefault("ollama.cooldown", 300)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.log.enabled", false)
	viper.SetDefault("webserver.log.path", "logs/web.log")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")
}
