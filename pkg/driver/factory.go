package driver

import (
	"context"
	"fmt"

	"github.com/baylabs/bay/pkg/config"
)

// New builds the configured backend driver.
func New(ctx context.Context, cfg *config.DriverConfig) (Driver, error) {
	switch cfg.Type {
	case "docker":
		return NewDockerDriver(ctx, cfg.Docker.Socket, cfg.Docker.Network)
	case "kube":
		return NewKubeDriver(cfg.Kube.Namespace, cfg.Kube.Kubeconfig, cfg.Kube.StorageClass)
	default:
		return nil, fmt.Errorf("unknown driver type: %s", cfg.Type)
	}
}
