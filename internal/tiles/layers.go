package tiles

import "github.com/sipanop/webgis/api/internal/models"

// LayerConfig describes how a layer is served as tiles.
type LayerConfig struct {
	Layer models.Layer
	// Formats lists the encodings the layer is served in, default first.
	Formats []Format
	// RequiresFilter layers answer empty without a village code so a
	// request can never scan the whole table.
	RequiresFilter bool
}

var layerConfigs = map[models.Layer]LayerConfig{
	models.LayerDesa: {
		Layer:   models.LayerDesa,
		Formats: []Format{FormatGeoJSON},
	},
	models.LayerBlok: {
		Layer:          models.LayerBlok,
		Formats:        []Format{FormatGeoJSON},
		RequiresFilter: true,
	},
	models.LayerNop: {
		Layer:          models.LayerNop,
		Formats:        []Format{FormatMVT, FormatGeoJSON},
		RequiresFilter: true,
	},
	models.LayerBangunan: {
		Layer:          models.LayerBangunan,
		Formats:        []Format{FormatMVT, FormatGeoJSON},
		RequiresFilter: true,
	},
}

// ConfigFor returns the tile configuration of l.
func ConfigFor(l models.Layer) (LayerConfig, bool) {
	c, ok := layerConfigs[l]
	return c, ok
}

// Supports reports whether the layer is served in format f.
func (c LayerConfig) Supports(f Format) bool {
	for _, have := range c.Formats {
		if have == f {
			return true
		}
	}
	return false
}

// VectorLayers returns the layers served as vector tiles.
func VectorLayers() []models.Layer {
	var out []models.Layer
	for _, l := range models.Layers() {
		if layerConfigs[l].Supports(FormatMVT) {
			out = append(out, l)
		}
	}
	return out
}
