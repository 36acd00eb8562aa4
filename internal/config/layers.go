package config

import "fmt"

// Layer names one level of the override chain.
type Layer int

// Precedence increases down the list.
const (
	LayerDefaults Layer = iota
	LayerEnvironment
	LayerCLI
	LayerRuntime
	numLayers
)

var layerNames = [numLayers]string{"defaults", "environment", "cli", "runtime"}

func (l Layer) String() string {
	if l < 0 || l >= numLayers {
		return fmt.Sprintf("layer(%d)", int(l))
	}
	return layerNames[l]
}

// ParseLayer converts a layer name to a Layer.
func ParseLayer(name string) (Layer, error) {
	for i, n := range layerNames {
		if n == name {
			return Layer(i), nil
		}
	}
	return 0, fmt.Errorf("unknown config layer %q (want defaults, environment, cli or runtime)", name)
}

// Layers lists all layers in precedence order.
func Layers() []Layer {
	return []Layer{LayerDefaults, LayerEnvironment, LayerCLI, LayerRuntime}
}

// OverrideChain holds the four layers. It is a plain value: the Store
// copies it to stage a mutation and swaps it in only after validation.
type OverrideChain struct {
	layers [numLayers]Settings
}

// SetLayer replaces a whole layer.
func (c *OverrideChain) SetLayer(l Layer, s Settings) {
	c.layers[l] = s.Clone()
}

// Layer returns a copy of one layer.
func (c *OverrideChain) Layer(l Layer) Settings {
	return c.layers[l].Clone()
}

// Resolve deep-merges the layers in precedence order.
func (c *OverrideChain) Resolve() Settings {
	var out Settings
	for _, l := range c.layers {
		out = Merge(out, l)
	}
	return out
}

// clone deep-copies the chain.
func (c *OverrideChain) clone() OverrideChain {
	var out OverrideChain
	for i, l := range c.layers {
		out.layers[i] = l.Clone()
	}
	return out
}
