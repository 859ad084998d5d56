package mesh

import (
	"fmt"
	"os"

	"github.com/hschendel/stl"
)

// ScaleInPlace multiplies every vertex of an STL file by factor. The file is
// replaced atomically.
func ScaleInPlace(path string, factor float64) error {
	solid, err := stl.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading stl: %w", err)
	}
	if len(solid.Triangles) == 0 {
		return fmt.Errorf("stl %s has no triangles", path)
	}
	solid.Scale(factor)

	tmp := path + ".scaling"
	if err := solid.WriteFile(tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing scaled stl: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing stl: %w", err)
	}
	return nil
}
