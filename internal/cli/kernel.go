package cli

import (
	"context"

	"github.com/ppiankov/trustplane/internal/kernel"
)

// buildKernel wires the trust plane from the --config flag. The caller
// owns Close.
func buildKernel(ctx context.Context) (*kernel.Kernel, error) {
	return kernel.Build(ctx, cfgPath)
}
