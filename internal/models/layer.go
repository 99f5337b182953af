package models

import (
	"errors"
	"fmt"
)

// Layer names one of the polygon tables.
type Layer string

const (
	LayerDesa     Layer = "desas"
	LayerBlok     Layer = "bloks"
	LayerNop      Layer = "nops"
	LayerBangunan Layer = "bangunans"
)

// VillageCodeLength is the length of a d_kd_kel code and of the prefix
// shared by every block, parcel and building code inside that village.
const VillageCodeLength = 10

var (
	ErrUnknownLayer = errors.New("unknown layer")
	ErrInvalidCode  = errors.New("invalid code")
)

// LayerSpec describes how a layer is stored.
type LayerSpec struct {
	Layer      Layer
	Table      string
	CodeColumn string
	// Attributes are optional text columns copied into feature properties.
	Attributes []string
	Multi      bool
	HasPhotos  bool
}

var layerOrder = []Layer{LayerDesa, LayerBlok, LayerNop, LayerBangunan}

var layerSpecs = map[Layer]LayerSpec{
	LayerDesa: {
		Layer:      LayerDesa,
		Table:      "desas",
		CodeColumn: "d_kd_kel",
		Attributes: []string{"d_nm_kel"},
		Multi:      true,
	},
	LayerBlok: {
		Layer:      LayerBlok,
		Table:      "bloks",
		CodeColumn: "d_blok",
	},
	LayerNop: {
		Layer:      LayerNop,
		Table:      "nops",
		CodeColumn: "d_nop",
		Attributes: []string{"d_luas"},
		Multi:      true,
		HasPhotos:  true,
	},
	LayerBangunan: {
		Layer:      LayerBangunan,
		Table:      "bangunans",
		CodeColumn: "d_nop",
		Multi:      true,
	},
}

// ParseLayer validates a layer name taken from a URL.
func ParseLayer(name string) (Layer, error) {
	l := Layer(name)
	if _, ok := layerSpecs[l]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLayer, name)
	}
	return l, nil
}

// Layers returns every layer in a stable order.
func Layers() []Layer {
	out := make([]Layer, len(layerOrder))
	copy(out, layerOrder)
	return out
}

// Spec returns the storage description of l. It panics for layers that
// did not come from ParseLayer or the constants above.
func (l Layer) Spec() LayerSpec {
	spec, ok := layerSpecs[l]
	if !ok {
		panic(fmt.Sprintf("models: no spec for layer %q", string(l)))
	}
	return spec
}

// HasAttribute reports whether column is one of the layer's attribute columns.
func (s LayerSpec) HasAttribute(column string) bool {
	for _, a := range s.Attributes {
		if a == column {
			return true
		}
	}
	return false
}

// VillagePrefix returns the village part of a business code.
func VillagePrefix(code string) string {
	if len(code) <= VillageCodeLength {
		return code
	}
	return code[:VillageCodeLength]
}

// ValidateCode checks that a business code is a non-empty string of digits.
func ValidateCode(code string) error {
	if code == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCode)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %q must contain digits only", ErrInvalidCode, code)
		}
	}
	return nil
}
