package layers

import (
	"fmt"
	"io"
)

// ArchitecturePrinter prints a model as an indented module listing.
type ArchitecturePrinter struct {
	modelName string
	w         io.Writer
}

func NewArchitecturePrinter(modelName string, w io.Writer) *ArchitecturePrinter {
	return &ArchitecturePrinter{modelName: modelName, w: w}
}

// Print writes the layer listing followed by parameter and memory estimates.
func (p *ArchitecturePrinter) Print(spec *ModelSpec) {
	fmt.Fprintf(p.w, "Model Architecture:\n")
	fmt.Fprintf(p.w, "%s(\n", p.modelName)
	for _, layer := range spec.Layers {
		fmt.Fprintf(p.w, "  %s\n", formatLayer(layer))
	}
	fmt.Fprintf(p.w, ")\n\n")

	fmt.Fprintf(p.w, "Total parameters: %s\n", formatParameterCount(spec.TotalParameters))
	fmt.Fprintf(p.w, "Trainable parameters: %s\n", formatParameterCount(spec.TotalParameters))
	fmt.Fprintf(p.w, "Params size (MB): %.3f\n", megabytes(int(spec.TotalParameters)))
	fmt.Fprintf(p.w, "Forward/backward pass size per sample (MB): %.3f\n\n", activationMegabytes(spec))
}

func formatLayer(layer LayerSpec) string {
	switch layer.Type {
	case Dense:
		in := layer.InputShape[len(layer.InputShape)-1]
		return fmt.Sprintf("(%s): Linear(in_features=%d, out_features=%d, bias=%t)",
			layer.Name, in, layer.Units, layer.UseBias)
	case Dropout:
		return fmt.Sprintf("(%s): Dropout(p=%g)", layer.Name, layer.Rate)
	default:
		return fmt.Sprintf("(%s): %s()", layer.Name, layer.Type)
	}
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}

// megabytes sizes n float64 values.
func megabytes(n int) float64 {
	return float64(n*8) / 1024 / 1024
}

func activationMegabytes(spec *ModelSpec) float64 {
	total := 0
	for _, layer := range spec.Layers {
		n := 1
		for _, d := range layer.OutputShape[1:] {
			n *= d
		}
		total += n
	}
	// activations are kept for the backward pass
	return 2 * megabytes(total)
}
