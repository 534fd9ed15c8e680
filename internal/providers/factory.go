// ABOUTME: Factory for creating inventory providers and scan sources.
// ABOUTME: Centralizes provider instantiation and mode-keyed configuration logic.

package providers

import (
	"fmt"

	"github.com/jfeddern/TrivyScope/internal/providers/file"
	"github.com/jfeddern/TrivyScope/internal/providers/kube"
	"github.com/jfeddern/TrivyScope/internal/providers/mock"
	"github.com/jfeddern/TrivyScope/internal/providers/trivy"
	"github.com/sirupsen/logrus"
)

// Operating modes.
const (
	// ModeReports reads pre-produced Trivy JSON reports from a directory.
	ModeReports = "reports"
	// ModeCluster discovers images from a Kubernetes cluster and scans them
	// with the Trivy CLI.
	ModeCluster = "cluster"
)

// ProviderConfig holds configuration for creating providers.
type ProviderConfig struct {
	Mode       string
	ReportsDir string
	Namespace  string
	MockMode   bool
}

// CreateInventoryProvider creates a subject enumerator based on configuration.
func CreateInventoryProvider(config *ProviderConfig, logger *logrus.Logger) (InventoryProvider, error) {
	if config.MockMode {
		logger.Info("Using mock inventory provider for testing")
		return mock.NewInventory(logger), nil
	}

	switch config.Mode {
	case ModeCluster:
		return kube.NewProvider(config.Namespace, logger)
	case ModeReports:
		return file.NewProvider(config.ReportsDir, logger), nil
	default:
		return nil, fmt.Errorf("unsupported mode: %s", config.Mode)
	}
}

// CreateScanSource creates a scan source based on configuration.
func CreateScanSource(config *ProviderConfig, logger *logrus.Logger) (ScanSource, error) {
	if config.MockMode {
		logger.Info("Using mock scan source for testing")
		return mock.NewSource(logger), nil
	}

	switch config.Mode {
	case ModeCluster:
		return trivy.NewScanner(logger), nil
	case ModeReports:
		return file.NewProvider(config.ReportsDir, logger), nil
	default:
		return nil, fmt.Errorf("unsupported mode: %s", config.Mode)
	}
}
